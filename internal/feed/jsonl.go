package feed

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
)

// ReadStats summarises one ReadJSONL run.
type ReadStats struct {
	Lines    int
	Ticks    int
	Skipped  int
	Rejected int
}

// ReadJSONL reads one Upstox-format message per line from r and passes each
// decoded tick to handle, in file order. Blank lines and messages without
// data are skipped; undecodable lines are logged and counted. Handler errors
// are counted as rejections and do not stop the read.
func ReadJSONL(ctx context.Context, r io.Reader, fallbackInstrument string, handle TickHandler) (ReadStats, error) {
	var st ReadStats
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		st.Lines++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		tick, err := ParseUpstox(line, fallbackInstrument)
		if errors.Is(err, ErrNoData) {
			st.Skipped++
			continue
		}
		if err != nil {
			st.Skipped++
			slog.Warn("[feed] bad line", slog.Int("line", st.Lines), slog.String("err", err.Error()))
			continue
		}

		st.Ticks++
		if err := handle(tick); err != nil {
			st.Rejected++
		}
	}
	return st, sc.Err()
}
