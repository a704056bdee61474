package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"hadoji/internal/doji"
	"hadoji/internal/pipeline"
)

// Feed kinds.
const (
	FeedWS   = "ws"
	FeedKite = "kite"
)

const defaultInstrument = "NSE_INDEX|Nifty 50"

// Config holds all application configuration loaded from environment variables
// and an optional YAML file.
type Config struct {
	// Detection
	Instruments   []string
	DojiThreshold float64
	MaxLagMinutes int
	Overrides     map[string]InstrumentFile // per-instrument settings from CONFIG_FILE

	// Queues
	TickQueueSize  int
	EventQueueSize int

	// Feed
	Feed            string
	FeedWSURL       string
	FeedWSToken     string
	KiteAPIKey      string
	KiteAccessToken string
	KiteTokens      map[uint32]string

	// Infrastructure
	RedisAddr      string
	RedisPassword  string
	SQLitePath     string
	MetricsAddr    string
	GatewayAddr    string
	GatewayHistory int

	// Notifications
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string

	// Observability
	LogLevel       string
	TracingEnabled bool
	ConfigFile     string
}

// File is the shape of the optional YAML config file.
//
//	instruments:
//	  - id: "NSE_INDEX|Nifty 50"
//	    doji_threshold: 0.05
//	    max_lag_minutes: 3
type File struct {
	Instruments []InstrumentFile `yaml:"instruments"`
}

// InstrumentFile overrides the global settings for one instrument.
// Unset fields keep the global value.
type InstrumentFile struct {
	ID            string   `yaml:"id"`
	DojiThreshold *float64 `yaml:"doji_threshold"`
	MaxLagMinutes *int     `yaml:"max_lag_minutes"`
}

// Load reads configuration from environment variables with sensible defaults,
// then applies CONFIG_FILE if set.
func Load() (*Config, error) {
	c := &Config{
		DojiThreshold: getFloat("DOJI_THRESHOLD", doji.DefaultThreshold),
		MaxLagMinutes: getInt("MAX_LAG_MINUTES", 5),

		TickQueueSize:  getInt("TICK_QUEUE_SIZE", 10000),
		EventQueueSize: getInt("EVENT_QUEUE_SIZE", 1024),

		Feed:            strings.ToLower(getEnv("FEED", FeedWS)),
		FeedWSURL:       getEnv("FEED_WS_URL", "ws://localhost:9001/ws"),
		FeedWSToken:     getEnv("FEED_WS_TOKEN", ""),
		KiteAPIKey:      getEnv("KITE_API_KEY", ""),
		KiteAccessToken: getEnv("KITE_ACCESS_TOKEN", ""),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		SQLitePath:     getEnv("SQLITE_PATH", ""),
		MetricsAddr:    getEnv("METRICS_ADDR", ":9090"),
		GatewayAddr:    getEnv("GATEWAY_ADDR", ":8080"),
		GatewayHistory: getInt("GATEWAY_HISTORY", 100),

		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		LogLevel:       getEnv("LOG_LEVEL", "info"),
		TracingEnabled: getBool("TRACING_ENABLED", false),
		ConfigFile:     getEnv("CONFIG_FILE", ""),
	}

	tokens, err := ParseKiteTokens(getEnv("KITE_TOKENS", ""))
	if err != nil {
		return nil, err
	}
	c.KiteTokens = tokens

	c.Instruments = splitList(getEnv("INSTRUMENTS", ""))

	if c.ConfigFile != "" {
		f, err := LoadFile(c.ConfigFile)
		if err != nil {
			return nil, err
		}
		c.apply(f)
	}

	if len(c.Instruments) == 0 && c.Feed == FeedKite {
		for _, name := range c.KiteTokens {
			c.Instruments = append(c.Instruments, name)
		}
		sort.Strings(c.Instruments)
	}
	if len(c.Instruments) == 0 {
		c.Instruments = []string{defaultInstrument}
	}
	return c, nil
}

// LoadFile parses a YAML config file.
func LoadFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	for i, inst := range f.Instruments {
		if strings.TrimSpace(inst.ID) == "" {
			return nil, fmt.Errorf("config: %s: instrument %d has no id", path, i)
		}
	}
	return &f, nil
}

// apply merges file overrides. File instruments missing from INSTRUMENTS are
// appended to the list.
func (c *Config) apply(f *File) {
	if c.Overrides == nil {
		c.Overrides = make(map[string]InstrumentFile, len(f.Instruments))
	}
	seen := make(map[string]bool, len(c.Instruments))
	for _, id := range c.Instruments {
		seen[id] = true
	}
	for _, inst := range f.Instruments {
		c.Overrides[inst.ID] = inst
		if !seen[inst.ID] {
			seen[inst.ID] = true
			c.Instruments = append(c.Instruments, inst.ID)
		}
	}
}

// PipelineConfigs returns one pipeline.Config per instrument.
func (c *Config) PipelineConfigs() []pipeline.Config {
	out := make([]pipeline.Config, 0, len(c.Instruments))
	for _, id := range c.Instruments {
		pc := pipeline.Config{
			Instrument:    id,
			DojiThreshold: c.DojiThreshold,
			MaxLagMinutes: c.MaxLagMinutes,
		}
		if o, ok := c.Overrides[id]; ok {
			if o.DojiThreshold != nil {
				pc.DojiThreshold = *o.DojiThreshold
			}
			if o.MaxLagMinutes != nil {
				pc.MaxLagMinutes = *o.MaxLagMinutes
			}
		}
		out = append(out, pc)
	}
	return out
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Instruments) == 0 {
		errs = append(errs, errors.New("no instruments configured"))
	}
	for _, pc := range c.PipelineConfigs() {
		if pc.DojiThreshold <= 0 || pc.DojiThreshold >= 1 {
			errs = append(errs, fmt.Errorf("%s: doji threshold %v must be in (0, 1)", pc.Instrument, pc.DojiThreshold))
		}
		if pc.MaxLagMinutes < 0 {
			errs = append(errs, fmt.Errorf("%s: max lag %d must not be negative", pc.Instrument, pc.MaxLagMinutes))
		}
	}
	if c.TickQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("TICK_QUEUE_SIZE %d must be positive", c.TickQueueSize))
	}
	if c.EventQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("EVENT_QUEUE_SIZE %d must be positive", c.EventQueueSize))
	}
	if c.GatewayHistory <= 0 {
		errs = append(errs, fmt.Errorf("GATEWAY_HISTORY %d must be positive", c.GatewayHistory))
	}
	switch c.Feed {
	case FeedWS:
		if c.FeedWSURL == "" {
			errs = append(errs, errors.New("FEED_WS_URL is required for the ws feed"))
		}
	case FeedKite:
		if c.KiteAPIKey == "" || c.KiteAccessToken == "" {
			errs = append(errs, errors.New("KITE_API_KEY and KITE_ACCESS_TOKEN are required for the kite feed"))
		}
		if len(c.KiteTokens) == 0 {
			errs = append(errs, errors.New("KITE_TOKENS is required for the kite feed"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown FEED %q (want ws or kite)", c.Feed))
	}
	return errors.Join(errs...)
}

// ParseKiteTokens parses "256265:NSE_INDEX|Nifty 50,260105:NSE_INDEX|Nifty Bank"
// into instrument token -> instrument id.
func ParseKiteTokens(s string) (map[uint32]string, error) {
	out := make(map[uint32]string)
	for _, pair := range splitList(s) {
		tok, name, ok := strings.Cut(pair, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("config: KITE_TOKENS entry %q is not token:name", pair)
		}
		n, err := strconv.ParseUint(strings.TrimSpace(tok), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("config: KITE_TOKENS entry %q: %w", pair, err)
		}
		out[uint32(n)] = strings.TrimSpace(name)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		slog.Warn("[config] invalid integer, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		slog.Warn("[config] invalid number, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		slog.Warn("[config] invalid bool, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return b
}
