package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"hadoji/internal/model"
)

const (
	defaultStreamMaxLen = 1000
	defaultLatestTTL    = 30 * time.Minute
)

// Config configures the Redis publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	// StreamMaxLen caps each doji:{instrument} stream (approximate trim).
	StreamMaxLen int64
	// LatestTTL is the expiry of doji:latest:{instrument}.
	LatestTTL time.Duration
}

func (c *Config) defaults() {
	if c.StreamMaxLen <= 0 {
		c.StreamMaxLen = defaultStreamMaxLen
	}
	if c.LatestTTL <= 0 {
		c.LatestTTL = defaultLatestTTL
	}
}

// Publisher writes doji events to Redis: a capped stream per instrument, a
// latest-value key and a pubsub channel.
type Publisher struct {
	client *goredis.Client
	maxLen int64
	ttl    time.Duration
}

// New creates a Publisher and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("[redis] connected", slog.String("addr", cfg.Addr))
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, cfg Config) *Publisher {
	cfg.defaults()
	return &Publisher{client: client, maxLen: cfg.StreamMaxLen, ttl: cfg.LatestTTL}
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Write performs the pipelined XADD + SET + PUBLISH for one event.
func (p *Publisher) Write(ctx context.Context, ev model.DojiEvent) error {
	data := string(ev.JSON())

	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: ev.StreamKey(),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	})
	pipe.Set(ctx, ev.LatestKey(), data, p.ttl)
	pipe.Publish(ctx, ev.PubSubChannel(), data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline for %s@%v: %w", ev.Instrument, ev.Minute, err)
	}
	return nil
}

// Ping checks connectivity.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
