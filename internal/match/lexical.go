package match

import (
	"math"
	"sort"

	"groupwatch/internal/model"
)

// Selection is a subscription that survived lexical filtering, annotated
// with its term-overlap score.
type Selection struct {
	Subscription model.Subscription
	Lexical      float64
}

// Select narrows the full subscription set down to candidates that share at
// least one positive-keyword token with the message. Scoring is BM25-style:
// overlap on rare terms counts for more than overlap on terms half the
// subscriptions use. Runs in time linear in len(subs) x avg keywords; the
// message is tokenized exactly once.
func Select(text string, subs []model.Subscription) []Selection {
	if len(subs) == 0 {
		return nil
	}
	msgTokens := TokenSet(Tokenize(text))
	if len(msgTokens) == 0 {
		return nil
	}

	// Document frequency of each keyword token across the subscription set.
	df := make(map[string]int)
	subTokens := make([][]string, len(subs))
	for i, sub := range subs {
		tokens := keywordTokens(sub.PositiveKeywords)
		subTokens[i] = tokens
		for _, t := range tokens {
			df[t]++
		}
	}

	n := float64(len(subs))
	var out []Selection
	for i, sub := range subs {
		var matched, total float64
		for _, t := range subTokens[i] {
			w := idf(n, float64(df[t]))
			total += w
			if _, ok := msgTokens[t]; ok {
				matched += w
			}
		}
		if matched == 0 || total == 0 {
			continue
		}
		out = append(out, Selection{Subscription: sub, Lexical: matched / total})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Subscription.ID < out[j].Subscription.ID
	})
	return out
}

// keywordTokens returns the unique folded tokens of a keyword set.
func keywordTokens(keywords []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, kw := range keywords {
		for _, t := range Tokenize(kw) {
			t = FoldToken(t)
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

func idf(n, df float64) float64 {
	return math.Log(1 + (n-df+0.5)/(df+0.5))
}
