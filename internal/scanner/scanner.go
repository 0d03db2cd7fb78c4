// Package scanner backfills a newly subscribed group's past messages through
// the matching pipeline for a single subscription.
package scanner

import (
	"context"
	"fmt"
	"log/slog"

	"groupwatch/internal/model"
)

const defaultLimit = 200

// History enumerates a group's cached messages, newest first.
type History interface {
	ListGroupMessages(ctx context.Context, groupID int64, limit, offset int) ([]model.IncomingMessage, error)
}

// SubscriptionSource loads subscriptions by id.
type SubscriptionSource interface {
	GetSubscription(ctx context.Context, id int64) (*model.Subscription, error)
}

// Processor runs one message through the pipeline for one subscription.
type Processor interface {
	ProcessForSubscription(ctx context.Context, msg model.IncomingMessage, sub model.Subscription, sendNotifications bool) error
}

// Options control a backfill scan.
type Options struct {
	Limit  int
	Offset int
	// Notify false runs the scan in preview mode: matches are recorded and
	// deduplicated but no notifications are sent.
	Notify bool
}

// Scanner runs backfill scans as background tasks, independent of live
// ingestion.
type Scanner struct {
	history History
	subs    SubscriptionSource
	proc    Processor
	log     *slog.Logger
}

// New creates a Scanner.
func New(history History, subs SubscriptionSource, proc Processor, log *slog.Logger) *Scanner {
	return &Scanner{history: history, subs: subs, proc: proc, log: log}
}

// Scan runs the given subscription over the history of each group, newest
// first, up to opts.Limit messages per group. Per-message failures are
// logged and skipped; the scan degrades rather than fails. Returns the total
// number of messages examined.
func (s *Scanner) Scan(ctx context.Context, groupIDs []int64, subscriptionID int64, opts Options) (int, error) {
	sub, err := s.subs.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return 0, fmt.Errorf("get subscription %d: %w", subscriptionID, err)
	}
	if !sub.Active {
		return 0, fmt.Errorf("subscription %d is not active", subscriptionID)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	total := 0
	failed := 0
	for _, groupID := range groupIDs {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}

		msgs, err := s.history.ListGroupMessages(ctx, groupID, limit, opts.Offset)
		if err != nil {
			s.log.Error("list group history",
				"group_id", groupID, "subscription_id", subscriptionID, "error", err)
			failed++
			continue
		}

		for _, msg := range msgs {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			total++
			if err := s.proc.ProcessForSubscription(ctx, msg, *sub, opts.Notify); err != nil {
				s.log.Error("backfill message",
					"group_id", groupID, "message_id", msg.ID,
					"subscription_id", subscriptionID, "error", err)
			}
		}
	}

	s.log.Info("backfill scan finished",
		"subscription_id", subscriptionID, "groups", len(groupIDs),
		"messages", total, "failed_groups", failed)
	return total, nil
}
