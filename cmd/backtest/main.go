// cmd/backtest replays a JSONL tick file (one Upstox-format message per line)
// through the detection core and prints every doji event it finds.
//
// Usage:
//
//	go run ./cmd/backtest --file=ticks.jsonl --threshold=0.1 --db=data/backtest.db
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"hadoji/internal/doji"
	"hadoji/internal/feed"
	"hadoji/internal/logger"
	"hadoji/internal/markethours"
	"hadoji/internal/model"
	"hadoji/internal/pipeline"
	sqlitestore "hadoji/internal/store/sqlite"
)

func main() {
	file := flag.String("file", "", "JSONL tick file (default: stdin)")
	instrument := flag.String("instrument", "NSE_INDEX|Nifty 50", "Instrument for lines without instrument_token")
	threshold := flag.Float64("threshold", doji.DefaultThreshold, "Doji body/range threshold")
	maxLag := flag.Int("lag", 5, "Max in-flight minutes per instrument (0 = unbounded)")
	dbPath := flag.String("db", "", "Optional SQLite journal for detected events")
	quiet := flag.Bool("quiet", false, "Only print the summary")
	level := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	logger.Init("backtest", logger.ParseLevel(*level))

	if *threshold <= 0 || *threshold >= 1 {
		slog.Error("[backtest] threshold must be in (0, 1)", "threshold", *threshold)
		os.Exit(2)
	}

	var in io.Reader = os.Stdin
	if *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			slog.Error("[backtest] open failed", "file", *file, "error", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var journalCh chan model.DojiEvent
	var journalDone chan struct{}
	var journal *sqlitestore.Journal
	if *dbPath != "" {
		var err error
		journal, err = sqlitestore.New(sqlitestore.Config{DBPath: *dbPath})
		if err != nil {
			slog.Error("[backtest] sqlite init failed", "error", err)
			os.Exit(1)
		}
		journalCh = make(chan model.DojiEvent, 1024)
		journalDone = make(chan struct{})
		go func() {
			journal.Run(context.Background(), journalCh)
			close(journalDone)
		}()
	}

	sink := pipeline.FuncSink(func(_ context.Context, ev model.DojiEvent) error {
		if !*quiet {
			printEvent(os.Stdout, ev)
		}
		if journalCh != nil {
			journalCh <- ev
		}
		return nil
	})

	bt := newBacktest(pipeline.Config{DojiThreshold: *threshold, MaxLagMinutes: *maxLag}, sink)
	st, err := feed.ReadJSONL(ctx, in, *instrument, bt.handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("[backtest] read failed", "error", err)
	}

	if journalCh != nil {
		close(journalCh)
		<-journalDone
		journal.Close()
	}

	bt.summary(os.Stdout, st)
}

// backtest routes ticks synchronously, adding a pipeline the first time an
// instrument appears in the file.
type backtest struct {
	base   pipeline.Config
	sink   model.EventSink
	router *pipeline.Router
}

func newBacktest(base pipeline.Config, sink model.EventSink) *backtest {
	return &backtest{base: base, sink: sink, router: pipeline.NewRouter(1)}
}

func (b *backtest) handle(t model.Tick) error {
	if _, ok := b.router.Pipeline(t.Instrument); !ok && t.Instrument != "" {
		cfg := b.base
		cfg.Instrument = t.Instrument
		b.router.Add(pipeline.New(cfg, b.sink, pipeline.Hooks{}))
	}
	err := b.router.Route(context.Background(), t)
	if err != nil && !pipeline.IsWarning(err) {
		slog.Error("[backtest] emit failed", "error", err)
	}
	return err
}

func printEvent(w io.Writer, ev model.DojiEvent) {
	c := ev.Candle
	fmt.Fprintf(w, "%s  %-24s  HA O=%.2f H=%.2f L=%.2f C=%.2f  body/range=%.3f\n",
		ev.Minute.Label(markethours.IST), ev.Instrument,
		c.Open, c.High, c.Low, c.Close, doji.Ratio(c))
}

func (b *backtest) summary(w io.Writer, st feed.ReadStats) {
	ids := b.router.Instruments()

	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                   BACKTEST COMPLETE                      ║")
	fmt.Fprintln(w, "╠══════════════════════════════════════════════════════════╣")
	fmt.Fprintf(w, "║  Lines: %-8d Ticks: %-8d Skipped: %-8d         ║\n", st.Lines, st.Ticks, st.Skipped)
	for _, id := range ids {
		p, _ := b.router.Pipeline(id)
		s := p.Stats()
		fmt.Fprintf(w, "║  %-24s candles=%-6d doji=%-5d late=%-4d ║\n", id, s.Candles, s.Dojis, s.Late)
	}
	fmt.Fprintln(w, "╚══════════════════════════════════════════════════════════╝")
}
