// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"time"

	"groupwatch/internal/model"
)

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateSubscription(ctx context.Context, sub *model.Subscription) error
	GetSubscription(ctx context.Context, id int64) (*model.Subscription, error)
	ListSubscriptions(ctx context.Context, userID int64) ([]model.Subscription, error)
	ListActiveSubscriptions(ctx context.Context) ([]model.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *model.Subscription) error
	SetSubscriptionActive(ctx context.Context, id int64, active bool) error

	SaveMessage(ctx context.Context, msg *model.IncomingMessage) error
	ListGroupMessages(ctx context.Context, groupID int64, limit, offset int) ([]model.IncomingMessage, error)
	MarkMessageDeleted(ctx context.Context, groupID, messageID int64) error

	// MarkMatched records a (subscription, message, group) match in the dedup
	// ledger. It reports whether this call inserted the entry; false means
	// another caller already holds the match.
	MarkMatched(ctx context.Context, subscriptionID, messageID, groupID int64) (bool, error)
	IsMatched(ctx context.Context, subscriptionID, messageID, groupID int64) (bool, error)

	// SaveAnalysisResult upserts the outcome for a scored pair; at most one
	// row exists per (SubscriptionID, MessageID, GroupID).
	SaveAnalysisResult(ctx context.Context, res *model.AnalysisResult) error
	GetAnalysisResult(ctx context.Context, subscriptionID, messageID, groupID int64) (*model.AnalysisResult, error)
	MarkNotified(ctx context.Context, subscriptionID, messageID, groupID int64, at time.Time) error

	Close() error
}
