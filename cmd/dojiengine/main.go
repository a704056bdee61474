// cmd/dojiengine runs the live Heikin-Ashi doji detector.
//
//	[feed] -> Router (queue per instrument) -> Pipeline -> RingSink
//	       -> Pump -> FanOut -> Redis / SQLite / notifications / gateway
//
// Configuration is read from the environment (and an optional .env file);
// see config.Load.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"hadoji/config"
	"hadoji/internal/bus"
	"hadoji/internal/feed"
	"hadoji/internal/gateway"
	"hadoji/internal/logger"
	"hadoji/internal/markethours"
	"hadoji/internal/metrics"
	"hadoji/internal/model"
	"hadoji/internal/notification"
	"hadoji/internal/pipeline"
	redisstore "hadoji/internal/store/redis"
	sqlitestore "hadoji/internal/store/sqlite"
	"hadoji/internal/trace"

	goredis "github.com/go-redis/redis/v8"
)

// tickSource is implemented by feed.WSIngest and feed.KiteSource.
type tickSource interface {
	Start(ctx context.Context, handle feed.TickHandler) error
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("[dojiengine] .env not loaded", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("[dojiengine] config load failed", "error", err)
		os.Exit(1)
	}
	logger.Init("dojiengine", logger.ParseLevel(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		slog.Error("[dojiengine] invalid config", "error", err)
		os.Exit(1)
	}
	slog.Info("[dojiengine] starting", "instruments", cfg.Instruments, "feed", cfg.Feed)

	if err := trace.Init("dojiengine", cfg.TracingEnabled); err != nil {
		slog.Warn("[dojiengine] tracing disabled", "error", err)
	}

	// ---- Setup context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Setup metrics & health ----
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	health.SetInstruments(cfg.Instruments)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, nil)
	metricsSrv.Start()

	// ---- Core: one pipeline per instrument, each with its own SPSC ring ----
	router := pipeline.NewRouter(cfg.TickQueueSize)
	router.OnQueueDrop = func(instrument string) {
		prom.TickQueueDrops.WithLabelValues(instrument).Inc()
	}
	var rings []*pipeline.RingSink
	for _, pc := range cfg.PipelineConfigs() {
		sink := pipeline.NewRingSink(cfg.EventQueueSize)
		rings = append(rings, sink)
		router.Add(pipeline.New(pc, sink, prom.PipelineHooks(pc.Instrument)))
		slog.Info("[dojiengine] pipeline ready",
			"instrument", pc.Instrument,
			"threshold", pc.DojiThreshold,
			"max_lag_minutes", pc.MaxLagMinutes)
	}

	// ---- Presentation: rings -> events -> fan-out ----
	events := make(chan model.DojiEvent, cfg.EventQueueSize)
	var pumps sync.WaitGroup
	for _, sink := range rings {
		pumps.Add(1)
		go func(s *pipeline.RingSink) {
			defer pumps.Done()
			pipeline.Pump(ctx, s.Ring(), events)
		}(sink)
	}

	fanout := bus.New(cfg.EventQueueSize)
	fanout.OnDrop = func(subscriber string) {
		prom.FanoutDropsTotal.WithLabelValues(subscriber).Inc()
	}

	var writers sync.WaitGroup
	runWriter := func(w model.EventWriter, ch <-chan model.DojiEvent) {
		writers.Add(1)
		go func() {
			defer writers.Done()
			w.Run(ctx, ch)
		}()
	}

	// ---- SQLite journal (optional) ----
	var journal *sqlitestore.Journal
	var sqlDB *sql.DB
	if cfg.SQLitePath != "" {
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			os.MkdirAll(dir, 0o755)
		}
		journal, err = sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
		if err != nil {
			slog.Error("[dojiengine] sqlite init failed", "error", err)
			os.Exit(1)
		}
		journal.OnCommit = func(n int) { prom.JournaledEvents.Add(float64(n)) }
		journal.OnError = func(error) { health.SetSQLiteOK(false) }
		sqlDB = journal.DB()
		health.SetSQLiteOK(true)
		runWriter(journal, fanout.Subscribe("sqlite"))
		slog.Info("[dojiengine] sqlite journal ready", "path", cfg.SQLitePath)
	}

	// ---- Redis publisher behind a circuit breaker (optional) ----
	var redisWriter *redisstore.BufferedWriter
	var rdb *goredis.Client
	if cfg.RedisAddr != "" {
		pub, err := redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			slog.Warn("[dojiengine] redis unavailable, continuing without redis", "error", err)
			health.SetRedisConnected(false)
		} else {
			cb := redisstore.NewCircuitBreaker("doji-publisher", 5, 10*time.Second)
			cb.OnStateChange = prom.BreakerHook()
			redisWriter = redisstore.NewBufferedWriter(pub, cb, 10000, 2*time.Second)
			redisWriter.OnBuffer = prom.RedisBufferedEvents.Inc
			rdb = pub.Client()
			health.SetRedisConnected(true)
			runWriter(redisWriter, fanout.Subscribe("redis"))
			slog.Info("[dojiengine] redis publisher ready", "addr", cfg.RedisAddr)
		}
	}

	health.StartLivenessChecker(ctx, rdb, sqlDB, 10*time.Second)

	// ---- Notifications ----
	notifiers := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	dispatcher := notification.NewDispatcher(markethours.IST, notifiers...)
	dispatcher.OnSent = prom.NotificationsSent.Inc
	dispatcher.OnError = func(error) { prom.NotificationErrors.Inc() }
	runWriter(dispatcher, fanout.Subscribe("notify"))

	// ---- Gateway ----
	hub := gateway.NewHub(cfg.GatewayHistory, cfg.Instruments)
	hub.OnClientCount = func(n int) { prom.GatewayClients.Set(float64(n)) }
	runWriter(hub, fanout.Subscribe("gateway"))

	var history model.EventReader
	switch {
	case journal != nil:
		history = journal
	case redisWriter != nil:
		history = redisWriter
	}
	gatewaySrv := gateway.NewServer(cfg.GatewayAddr, hub, history)
	gatewaySrv.Start()

	go fanout.Run(ctx, events)
	go router.Run(ctx)

	// ---- Periodic gauges ----
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				prom.ObservePipelines(router)
				prom.ObserveFanOut(fanout.ChannelStats())
				prom.SetMarketOpen(markethours.IsMarketOpen(now))
			}
		}
	}()

	// ---- Feed ----
	handle := func(t model.Tick) error {
		health.SetLastTickTime(time.Now())
		return router.Enqueue(t)
	}
	src, err := newSource(cfg)
	if err != nil {
		slog.Error("[dojiengine] feed init failed", "error", err)
		os.Exit(1)
	}
	switch s := src.(type) {
	case *feed.WSIngest:
		s.OnConnect = func() { health.SetFeedConnected(true) }
		s.OnDisconnect = func(error) { health.SetFeedConnected(false) }
		s.OnReconnect = prom.WSReconnects.Inc
		go func() {
			if err := s.Start(ctx, handle); err != nil {
				slog.Error("[dojiengine] feed stopped", "error", err)
				health.SetFeedConnected(false)
			}
		}()
	case *feed.KiteSource:
		s.OnConnect = func() { health.SetFeedConnected(true) }
		s.OnDisconnect = func(error) { health.SetFeedConnected(false) }
		s.OnReconnect = prom.WSReconnects.Inc
		go runMarketSession(ctx, s, handle, health)
	}

	slog.Info("[dojiengine] running", "status", markethours.StatusString(time.Now()))

	// ---- Wait for shutdown signal ----
	<-sigCh
	slog.Info("[dojiengine] shutdown signal received, cleaning up...")
	cancel()

	pumps.Wait()
	writers.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	gatewaySrv.Stop(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
	hub.Close()

	if redisWriter != nil {
		if n := redisWriter.PendingCount(); n > 0 {
			slog.Warn("[dojiengine] redis events still buffered at shutdown", "count", n)
		}
		redisWriter.Close()
	}
	if journal != nil {
		journal.Close()
	}
	trace.Shutdown(shutdownCtx)

	slog.Info("[dojiengine] shutdown complete")
}

func newSource(cfg *config.Config) (tickSource, error) {
	if cfg.Feed == config.FeedKite {
		return feed.NewKiteSource(feed.KiteConfig{
			APIKey:      cfg.KiteAPIKey,
			AccessToken: cfg.KiteAccessToken,
			Tokens:      cfg.KiteTokens,
		})
	}
	return feed.NewWSIngest(feed.WSConfig{
		URL:         cfg.FeedWSURL,
		AccessToken: cfg.FeedWSToken,
		Instruments: cfg.Instruments,
	})
}

// runMarketSession connects the broker feed only while the market is open and
// disconnects at the close, looping across sessions until ctx is cancelled.
func runMarketSession(ctx context.Context, src tickSource, handle feed.TickHandler, health *metrics.HealthStatus) {
	for {
		now := time.Now()
		session := markethours.Upcoming(now)
		if !session.Contains(now) {
			slog.Info("[dojiengine] market closed, waiting",
				"status", markethours.StatusString(now),
				"sleep", session.Open.Sub(now).Truncate(time.Second).String())
			health.SetFeedConnected(false)
			select {
			case <-ctx.Done():
				return
			case <-time.After(session.Open.Sub(now)):
			}
		}

		closeTime := session.Close
		sessionCtx, sessionCancel := context.WithDeadline(ctx, closeTime)
		slog.Info("[dojiengine] market open, connecting feed",
			"until", closeTime.In(markethours.IST).Format("15:04:05"))
		if err := src.Start(sessionCtx, handle); err != nil {
			slog.Warn("[dojiengine] feed session ended", "error", err)
		}
		sessionCancel()
		health.SetFeedConnected(false)

		if ctx.Err() != nil {
			return
		}
		// Feed ended early (gave up reconnecting); back off before retrying.
		if time.Now().Before(closeTime) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(30 * time.Second):
			}
		}
	}
}
