package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"watchsync/internal/media"
	"watchsync/internal/platform/config"
	"watchsync/internal/platform/logger"
	"watchsync/internal/platform/metrics"
	"watchsync/internal/watch"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = 10 * time.Minute
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	met := metrics.New()

	var rdb *redis.Client
	if cfg.Store == "redis" || cfg.Relay == "redis" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
	}

	store, closeStore, err := openStore(cfg, rdb, log)
	if err != nil {
		log.Error("store init failed", "store", cfg.Store, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	relay := openRelay(cfg, rdb, log, met)

	fetcher := media.NewURLFetcher(media.URLFetcherConfig{
		YouTubeAPIKey: cfg.YouTubeAPIKey,
		RawWhitelist:  cfg.RawWhitelist,
		FFprobePath:   cfg.FFprobePath,
		Timeout:       cfg.FetchTimeout,
	}, log)

	reg := watch.NewRegistry(watch.Config{
		Enabled:         cfg.WatchEnabled,
		MaxPlaylistSize: cfg.MaxPlaylistSize,
		TickInterval:    cfg.TickInterval,
		StateTTL:        cfg.StateTTL,
		FetchTimeout:    cfg.FetchTimeout,
	}, watch.Options{
		Logger:  log,
		Store:   store,
		Relay:   relay,
		Fetcher: fetcher,
		Metrics: met,
	})

	relayCtx, stopRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		if err := relay.Run(relayCtx, reg.Deliver); err != nil {
			log.Error("relay stopped", "error", err)
		}
	}()

	h := watch.NewHandler(reg, log, nil)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			st := reg.Metrics()
			met.SetFeeds(st.Feeds)
			met.SetSubscribers(st.Subscribers)
		}).ServeHTTP(w, r)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h.Routes(r)

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"watch_enabled", cfg.WatchEnabled,
		"store", cfg.Store,
		"relay", cfg.Relay,
		"log_level", cfg.LogLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	stopRelay()
	<-relayDone
	reg.Close()
	_ = relay.Close()

	log.Info("server stopped")
}

// openStore returns the configured durable store and its cleanup.
func openStore(cfg config.Config, rdb *redis.Client, log *slog.Logger) (watch.Store, func(), error) {
	switch cfg.Store {
	case "", "memory":
		return watch.NewInMemoryStore(nil), func() {}, nil
	case "sqlite":
		s, err := watch.OpenSQLiteStore(cfg.SQLitePath, nil)
		if err != nil {
			return nil, nil, err
		}
		stop := make(chan struct{})
		go sweep(s, log, stop)
		return s, func() {
			close(stop)
			closeQuietly(s, log)
		}, nil
	case "redis":
		return watch.NewRedisStore(rdb), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func openRelay(cfg config.Config, rdb *redis.Client, log *slog.Logger, met *metrics.Metrics) watch.Relay {
	switch cfg.Relay {
	case "redis":
		return watch.NewRedisRelay(rdb, cfg.RelayChannel, log, met)
	case "", "none":
	default:
		log.Warn("unknown relay, running single-worker", "relay", cfg.Relay)
	}
	return watch.NoopRelay{}
}

// sweep drops expired SQLite rows until stop is closed.
func sweep(s *watch.SQLiteStore, log *slog.Logger, stop <-chan struct{}) {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			n, err := s.Sweep(context.Background())
			if err != nil {
				log.Warn("state sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.Debug("expired state swept", "rows", n)
			}
		}
	}
}

func closeQuietly(c io.Closer, log *slog.Logger) {
	if err := c.Close(); err != nil {
		log.Warn("close failed", "error", err)
	}
}
