// Package model defines the domain types used across the application.
package model

import "time"

// Subscription is one user's standing search rule over monitored groups.
type Subscription struct {
	ID                       int64
	UserID                   int64
	OriginalQuery            string
	PositiveKeywords         []string
	NegativeKeywords         []string
	DisabledNegativeKeywords []string
	LLMDescription           string
	KeywordEmbeddings        [][]float64
	Active                   bool
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// ActiveNegativeKeywords returns the negative keywords that are not disabled.
func (s *Subscription) ActiveNegativeKeywords() []string {
	if len(s.DisabledNegativeKeywords) == 0 {
		return s.NegativeKeywords
	}
	disabled := make(map[string]struct{}, len(s.DisabledNegativeKeywords))
	for _, k := range s.DisabledNegativeKeywords {
		disabled[k] = struct{}{}
	}
	var active []string
	for _, k := range s.NegativeKeywords {
		if _, ok := disabled[k]; !ok {
			active = append(active, k)
		}
	}
	return active
}

// HasEmbeddings reports whether the subscription carries keyword embeddings
// for semantic scoring. Without them scoring degrades to lexical-only.
func (s *Subscription) HasEmbeddings() bool {
	return len(s.KeywordEmbeddings) > 0
}

// IncomingMessage is a normalized unit of text from a monitored group.
// Immutable once observed; Deleted only affects whether it may still be
// used as a notification target.
type IncomingMessage struct {
	ID         int64
	GroupID    int64
	GroupTitle string
	Text       string
	SenderName string
	Timestamp  time.Time
	Deleted    bool
}

// MatchResult tags the outcome of scoring one message against one subscription.
type MatchResult string

// Possible analysis outcomes.
const (
	ResultMatched          MatchResult = "matched"
	ResultRejectedNegative MatchResult = "rejected_negative"
	ResultRejectedNgram    MatchResult = "rejected_ngram"
	ResultRejectedSemantic MatchResult = "rejected_semantic"
	ResultRejectedLLM      MatchResult = "rejected_llm"
)

// MatchCandidate is the ephemeral (message, subscription) pair produced by
// the scoring stages. Passed candidates move on to verification; rejected
// ones carry the stage that dropped them.
type MatchCandidate struct {
	Subscription     Subscription
	LexicalScore     float64
	NgramScore       float64
	SemanticScore    float64
	HasSemantic      bool
	CompositeScore   float64
	Passed           bool
	Result           MatchResult
	RejectionKeyword string
}

// AnalysisResult is the persisted outcome of scoring one message against one
// subscription. Exactly one row exists per (SubscriptionID, MessageID,
// GroupID); replays update it in place.
type AnalysisResult struct {
	ID               int64
	SubscriptionID   int64
	MessageID        int64
	GroupID          int64
	Result           MatchResult
	NgramScore       float64
	SemanticScore    float64
	LLMConfidence    float64
	RejectionKeyword string
	LLMReasoning     string
	AnalyzedAt       time.Time
	NotifiedAt       *time.Time
}
