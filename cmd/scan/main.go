// Command scan runs a backfill scan: it replays a group's cached message
// history through the matching pipeline for one subscription. Used after a
// subscription is created or edited to catch matches that predate it.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"groupwatch/internal/config"
	"groupwatch/internal/embed"
	"groupwatch/internal/match"
	"groupwatch/internal/metrics"
	"groupwatch/internal/notify"
	"groupwatch/internal/pipeline"
	"groupwatch/internal/scanner"
	"groupwatch/internal/storage"
	"groupwatch/internal/subcache"
	"groupwatch/internal/verify"
)

func main() {
	subID := flag.Int64("sub", 0, "subscription id to scan for (required)")
	groups := flag.String("groups", "", "comma-separated group ids to scan (required)")
	limit := flag.Int("limit", 0, "max messages per group (0 = default)")
	offset := flag.Int("offset", 0, "messages to skip per group")
	send := flag.Bool("notify", false, "send notifications for matches instead of only recording them")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := newLogger(cfg.LogLevel)

	groupIDs, err := parseGroupIDs(*groups)
	if err != nil || *subID == 0 {
		flag.Usage()
		os.Exit(2)
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	var notifier notify.Notifier = notify.Discard{}
	if *send {
		api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			log.Error("create bot api", "error", err)
			os.Exit(1)
		}
		notifier = notify.NewTelegram(api, log)
	}

	var embedder match.Embedder
	if cfg.EmbedServerURL != "" {
		embedder = embed.New(cfg.EmbedServerURL, http.DefaultClient, cfg.EmbedTimeout)
	}
	scorer := match.NewScorer(embedder, match.Thresholds{
		MinNgramScore:    cfg.MinNgramScore,
		MinSemanticScore: cfg.MinSemanticScore,
		SemanticWeight:   cfg.SemanticWeight,
	}, log)

	verifier := verify.New(cfg.VerifierURL, http.DefaultClient, cfg.VerifierTimeout, cfg.VerifierRetries)
	m := metrics.New(prometheus.NewRegistry())
	cache := subcache.New(store, cfg.SubscriptionCacheTTL, log)

	pipe := pipeline.New(cache, scorer, verifier, store, notifier, m, log, pipeline.Config{
		FallbackThreshold: cfg.FallbackThreshold,
		VerifyConcurrency: cfg.VerifyConcurrency,
	})
	sc := scanner.New(store, store, pipe, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	total, err := sc.Scan(ctx, groupIDs, *subID, scanner.Options{
		Limit:  *limit,
		Offset: *offset,
		Notify: *send,
	})
	if err != nil {
		log.Error("scan", "subscription_id", *subID, "error", err)
		os.Exit(1)
	}
	log.Info("scan complete", "subscription_id", *subID, "messages_examined", total)
}

func parseGroupIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, strconv.ErrSyntax
	}
	return ids, nil
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
