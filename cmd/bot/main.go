package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"groupwatch/internal/config"
	"groupwatch/internal/embed"
	"groupwatch/internal/listener"
	"groupwatch/internal/match"
	"groupwatch/internal/metrics"
	"groupwatch/internal/notify"
	"groupwatch/internal/pipeline"
	"groupwatch/internal/storage"
	"groupwatch/internal/subcache"
	"groupwatch/internal/verify"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Error("create bot api", "error", err)
		os.Exit(1)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	cache := subcache.New(store, cfg.SubscriptionCacheTTL, log)
	cache.SetReloadHook(m.CacheReloads.Inc)

	var embedder match.Embedder
	if cfg.EmbedServerURL != "" {
		ec := embed.New(cfg.EmbedServerURL, http.DefaultClient, cfg.EmbedTimeout)
		if err := ec.Health(context.Background()); err != nil {
			log.Warn("embedding server unreachable, semantic scoring degraded", "error", err)
		}
		embedder = ec
	}

	scorer := match.NewScorer(embedder, match.Thresholds{
		MinNgramScore:    cfg.MinNgramScore,
		MinSemanticScore: cfg.MinSemanticScore,
		SemanticWeight:   cfg.SemanticWeight,
	}, log)

	verifier := verify.New(cfg.VerifierURL, http.DefaultClient, cfg.VerifierTimeout, cfg.VerifierRetries)
	notifier := notify.NewTelegram(api, log)

	pipe := pipeline.New(cache, scorer, verifier, store, notifier, m, log, pipeline.Config{
		FallbackThreshold: cfg.FallbackThreshold,
		VerifyConcurrency: cfg.VerifyConcurrency,
	})

	lst := listener.New(api, pipe, store, log, cfg.MessageConcurrency, cfg.AllowChannels)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, log)
	}

	log.Info("starting listener", "bot", api.Self.UserName)
	lst.Run(ctx)
	log.Info("listener stopped")
}

func serveMetrics(ctx context.Context, addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server", "addr", addr, "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
