// Package sqlite journals detected doji events to a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"hadoji/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// Config configures the journal.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/doji.db"
}

// Journal is a single-goroutine SQLite writer with transaction batching.
// Events are keyed by (instrument, minute); a replayed minute overwrites.
type Journal struct {
	db *sql.DB

	// OnCommit is called with the batch size after each successful commit.
	OnCommit func(n int)
	// OnError is called when a batch fails to commit. The batch is dropped.
	OnError func(err error)
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg Config) (*Journal, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("[sqlite] opened journal", slog.String("path", cfg.DBPath))
	return &Journal{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS doji_events (
			instrument  TEXT    NOT NULL,
			minute      INTEGER NOT NULL,
			ha_open     REAL    NOT NULL,
			ha_high     REAL    NOT NULL,
			ha_low      REAL    NOT NULL,
			ha_close    REAL    NOT NULL,
			volume      INTEGER NOT NULL,
			detected_at INTEGER NOT NULL,
			PRIMARY KEY (instrument, minute)
		);
	`)
	return err
}

// Run reads events from ch and inserts them in batched transactions.
// Flushes every defaultBatchSize events or every defaultFlushDelay,
// whichever comes first. Blocks until ctx is cancelled or ch is closed.
func (j *Journal) Run(ctx context.Context, ch <-chan model.DojiEvent) {
	batch := make([]model.DojiEvent, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := j.insertBatch(batch); err != nil {
			slog.Error("[sqlite] batch insert failed", slog.Int("events", len(batch)), slog.String("err", err.Error()))
			if j.OnError != nil {
				j.OnError(err)
			}
		} else {
			slog.Debug("[sqlite] committed events", slog.Int("events", len(batch)), slog.Duration("took", time.Since(start)))
			if j.OnCommit != nil {
				j.OnCommit(len(batch))
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case ev, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertBatch inserts a batch of events in a single transaction.
func (j *Journal) insertBatch(events []model.DojiEvent) error {
	tx, err := j.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO doji_events
			(instrument, minute, ha_open, ha_high, ha_low, ha_close, volume, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		c := ev.Candle
		_, err := stmt.Exec(ev.Instrument, int64(ev.Minute), c.Open, c.High, c.Low, c.Close,
			int64(c.Volume), ev.DetectedAt.UnixMilli())
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
