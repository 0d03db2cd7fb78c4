package match

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"groupwatch/internal/model"
)

// Embedder produces a vector representation of a text. It is optional: a nil
// Embedder (or a failing one) degrades scoring to lexical-only.
type Embedder interface {
	EmbedSingle(ctx context.Context, text string) ([]float64, error)
}

// Thresholds are the scoring knobs. Zero values are not meaningful; callers
// populate them from config.
type Thresholds struct {
	MinNgramScore    float64
	MinSemanticScore float64
	SemanticWeight   float64
}

// Scorer runs the similarity stage over lexically selected candidates.
type Scorer struct {
	embedder Embedder
	th       Thresholds
	log      *slog.Logger
}

// NewScorer creates a Scorer. embedder may be nil.
func NewScorer(embedder Embedder, th Thresholds, log *slog.Logger) *Scorer {
	return &Scorer{embedder: embedder, th: th, log: log}
}

// Score produces one MatchCandidate per selection, ordered by descending
// composite score with ties broken by ascending subscription id. Negative
// keyword exclusion runs first and short-circuits all scoring regardless of
// how strong the positive signal is.
func (s *Scorer) Score(ctx context.Context, msg model.IncomingMessage, selected []Selection) []model.MatchCandidate {
	lowerText := strings.ToLower(msg.Text)

	// The message embedding is computed at most once, and only if some
	// candidate can actually use it.
	var msgEmbedding []float64
	embedFailed := s.embedder == nil

	candidates := make([]model.MatchCandidate, 0, len(selected))
	for _, sel := range selected {
		sub := sel.Subscription
		cand := model.MatchCandidate{
			Subscription: sub,
			LexicalScore: sel.Lexical,
		}

		if kw := firstNegativeHit(lowerText, sub.ActiveNegativeKeywords()); kw != "" {
			cand.Result = model.ResultRejectedNegative
			cand.RejectionKeyword = kw
			candidates = append(candidates, cand)
			continue
		}

		cand.NgramScore = NgramScore(msg.Text, sub.PositiveKeywords)

		if sub.HasEmbeddings() && !embedFailed {
			if msgEmbedding == nil {
				var err error
				msgEmbedding, err = s.embedder.EmbedSingle(ctx, msg.Text)
				if err != nil {
					embedFailed = true
					s.log.Warn("message embedding failed, scoring lexical-only",
						"group_id", msg.GroupID, "message_id", msg.ID, "error", err)
				}
			}
			if !embedFailed {
				cand.SemanticScore = maxCosine(msgEmbedding, sub.KeywordEmbeddings)
				cand.HasSemantic = true
			}
		}

		if cand.HasSemantic {
			// Embeddings may be stale relative to edited keywords, so the
			// semantic signal can raise a candidate but never sink it below
			// its n-gram floor.
			w := s.th.SemanticWeight
			blended := (1-w)*cand.NgramScore + w*cand.SemanticScore
			cand.CompositeScore = max(cand.NgramScore, blended)
			if cand.CompositeScore < s.th.MinSemanticScore {
				cand.Result = model.ResultRejectedSemantic
				candidates = append(candidates, cand)
				continue
			}
		} else {
			cand.CompositeScore = cand.NgramScore
			if cand.NgramScore < s.th.MinNgramScore {
				cand.Result = model.ResultRejectedNgram
				candidates = append(candidates, cand)
				continue
			}
		}

		cand.Passed = true
		candidates = append(candidates, cand)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CompositeScore != candidates[j].CompositeScore {
			return candidates[i].CompositeScore > candidates[j].CompositeScore
		}
		return candidates[i].Subscription.ID < candidates[j].Subscription.ID
	})
	return candidates
}

// firstNegativeHit returns the first active negative keyword contained in
// the message, or "" when none hit. Matching is case-insensitive substring.
func firstNegativeHit(lowerText string, negatives []string) string {
	for _, kw := range negatives {
		if kw == "" {
			continue
		}
		if strings.Contains(lowerText, strings.ToLower(kw)) {
			return kw
		}
	}
	return ""
}

func maxCosine(msg []float64, keywordEmbeddings [][]float64) float64 {
	best := 0.0
	for _, kw := range keywordEmbeddings {
		if c := Cosine(msg, kw); c > best {
			best = c
		}
	}
	return best
}
