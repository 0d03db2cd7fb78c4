// Package pipeline wires the matching stages together: lexical selection,
// similarity scoring, dedup check, verification and notification.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"groupwatch/internal/match"
	"groupwatch/internal/metrics"
	"groupwatch/internal/model"
	"groupwatch/internal/notify"
	"groupwatch/internal/storage"
	"groupwatch/internal/subcache"
	"groupwatch/internal/verify"
)

// Config holds the pipeline knobs.
type Config struct {
	// FallbackThreshold is the n-gram score above which a candidate is
	// treated as matched when the verifier is unreachable.
	FallbackThreshold float64
	// VerifyConcurrency bounds concurrent verifier calls within one message.
	VerifyConcurrency int
}

// Pipeline scores one message against the active subscription set and
// notifies each matching subscription at most once.
type Pipeline struct {
	cache    *subcache.Cache
	scorer   *match.Scorer
	verifier verify.Verifier
	store    storage.Storage
	notifier notify.Notifier
	metrics  *metrics.Metrics
	log      *slog.Logger
	cfg      Config
}

// New creates a Pipeline.
func New(cache *subcache.Cache, scorer *match.Scorer, verifier verify.Verifier,
	store storage.Storage, notifier notify.Notifier, m *metrics.Metrics,
	log *slog.Logger, cfg Config,
) *Pipeline {
	if cfg.VerifyConcurrency < 1 {
		cfg.VerifyConcurrency = 1
	}
	return &Pipeline{
		cache:    cache,
		scorer:   scorer,
		verifier: verifier,
		store:    store,
		notifier: notifier,
		metrics:  m,
		log:      log,
		cfg:      cfg,
	}
}

// Process runs one live message through the full pipeline against every
// active subscription.
func (p *Pipeline) Process(ctx context.Context, msg model.IncomingMessage) error {
	subs, err := p.cache.GetActive(ctx)
	if err != nil {
		return fmt.Errorf("get active subscriptions: %w", err)
	}
	return p.run(ctx, msg, subs, true)
}

// ProcessForSubscription runs one message against a single subscription.
// Used by the history scanner, where the backfill concerns exactly one new
// subscription. When sendNotifications is false the Notifier is skipped, but
// matched results and ledger entries are still written so future live copies
// of the message stay deduplicated.
func (p *Pipeline) ProcessForSubscription(ctx context.Context, msg model.IncomingMessage, sub model.Subscription, sendNotifications bool) error {
	return p.run(ctx, msg, []model.Subscription{sub}, sendNotifications)
}

func (p *Pipeline) run(ctx context.Context, msg model.IncomingMessage, subs []model.Subscription, sendNotifications bool) error {
	correlationID := uuid.New().String()
	log := p.log.With("correlation_id", correlationID, "group_id", msg.GroupID, "message_id", msg.ID)

	p.metrics.MessagesProcessed.Inc()

	selected := match.Select(msg.Text, subs)
	if len(selected) == 0 {
		return nil
	}
	candidates := p.scorer.Score(ctx, msg, selected)

	// Rejections are recorded immediately for "why wasn't I notified"
	// explanations; only passing candidates go to verification.
	var passing []model.MatchCandidate
	for _, cand := range candidates {
		if cand.Passed {
			passing = append(passing, cand)
			continue
		}
		p.metrics.Candidates.WithLabelValues(string(cand.Result)).Inc()
		p.saveResult(ctx, log, msg, cand, model.AnalysisResult{
			Result:           cand.Result,
			RejectionKeyword: cand.RejectionKeyword,
		})
	}

	// Candidates are verified in score order; the errgroup limit bounds
	// external-service load per message.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.VerifyConcurrency)
	for _, cand := range passing {
		g.Go(func() error {
			p.verifyCandidate(gctx, log, msg, cand, sendNotifications)
			return nil
		})
	}
	return g.Wait()
}

// verifyCandidate runs dedup check, verification (or fallback) and
// notification for one passing candidate. All failures are contained here.
func (p *Pipeline) verifyCandidate(ctx context.Context, log *slog.Logger, msg model.IncomingMessage, cand model.MatchCandidate, sendNotifications bool) {
	sub := cand.Subscription
	log = log.With("subscription_id", sub.ID)

	// Ledger check before the expensive external call. A pair already
	// matched by the other ingestion path is skipped silently.
	matched, err := p.store.IsMatched(ctx, sub.ID, msg.ID, msg.GroupID)
	if err != nil {
		log.Error("dedup check", "error", err)
		return
	}
	if matched {
		return
	}

	outcome, err := p.verifier.Verify(ctx, msg.Text, sub.LLMDescription)
	if err != nil {
		p.metrics.VerifierFailures.Inc()
		p.metrics.FallbacksApplied.Inc()
		outcome = verify.Fallback(cand.NgramScore, p.cfg.FallbackThreshold)
		log.Warn("verifier failed, fallback applied",
			"error", err, "ngram_score", cand.NgramScore, "is_match", outcome.IsMatch)
	}

	if !outcome.IsMatch {
		p.metrics.Candidates.WithLabelValues(string(model.ResultRejectedLLM)).Inc()
		p.saveResult(ctx, log, msg, cand, model.AnalysisResult{
			Result:        model.ResultRejectedLLM,
			LLMConfidence: outcome.Confidence,
			LLMReasoning:  outcome.Reasoning,
		})
		return
	}

	// The ledger insert is the atomic arbiter between concurrent live and
	// backfill processing of the same pair: only the winner notifies.
	inserted, err := p.store.MarkMatched(ctx, sub.ID, msg.ID, msg.GroupID)
	if err != nil {
		log.Error("dedup write", "error", err)
		return
	}
	if !inserted {
		log.Debug("match already recorded by concurrent path")
		return
	}

	p.metrics.Candidates.WithLabelValues(string(model.ResultMatched)).Inc()
	p.saveResult(ctx, log, msg, cand, model.AnalysisResult{
		Result:        model.ResultMatched,
		LLMConfidence: outcome.Confidence,
		LLMReasoning:  outcome.Reasoning,
	})

	if !sendNotifications {
		return
	}
	if msg.Deleted {
		log.Info("message deleted upstream, match recorded without notification")
		return
	}

	err = p.notifier.Notify(ctx, notify.Notification{
		UserID:            sub.UserID,
		GroupID:           msg.GroupID,
		GroupTitle:        msg.GroupTitle,
		MessageID:         msg.ID,
		MessageText:       msg.Text,
		SenderName:        msg.SenderName,
		SubscriptionQuery: sub.OriginalQuery,
		Reasoning:         outcome.Reasoning,
	})
	if err != nil {
		// The match stays recorded; delivery failure is not retried here.
		log.Error("notify", "user_id", sub.UserID, "error", err)
		return
	}
	p.metrics.NotificationsSent.Inc()

	if err := p.store.MarkNotified(ctx, sub.ID, msg.ID, msg.GroupID, time.Now().UTC()); err != nil {
		log.Error("mark notified", "error", err)
	}
}

// saveResult persists an AnalysisResult, filling in the pair key and score
// snapshot from the candidate.
func (p *Pipeline) saveResult(ctx context.Context, log *slog.Logger, msg model.IncomingMessage, cand model.MatchCandidate, res model.AnalysisResult) {
	res.SubscriptionID = cand.Subscription.ID
	res.MessageID = msg.ID
	res.GroupID = msg.GroupID
	res.NgramScore = cand.NgramScore
	res.SemanticScore = cand.SemanticScore
	if err := p.store.SaveAnalysisResult(ctx, &res); err != nil {
		log.Error("save analysis result", "subscription_id", cand.Subscription.ID, "result", res.Result, "error", err)
	}
}
