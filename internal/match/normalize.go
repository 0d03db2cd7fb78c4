// Package match implements the multi-stage content matching engine: lexical
// candidate selection, n-gram similarity and optional semantic scoring.
package match

import (
	"strings"
	"unicode"
)

// NormalizeText lowercases a string, drops punctuation and collapses
// whitespace. It runs once per message, never per subscription.
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := true
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(unicode.ToLower(r))
			prevSpace = false
		default:
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// Tokenize splits text into normalized tokens.
func Tokenize(s string) []string {
	norm := NormalizeText(s)
	if norm == "" {
		return nil
	}
	return strings.Fields(norm)
}

// FoldToken strips a simple plural suffix so that trivial singular/plural
// variations still overlap. Only short Latin suffixes are folded; anything
// more belongs to the semantic stage.
func FoldToken(tok string) string {
	if len(tok) > 4 && strings.HasSuffix(tok, "es") {
		return tok[:len(tok)-2]
	}
	if len(tok) > 3 && strings.HasSuffix(tok, "s") && !strings.HasSuffix(tok, "ss") {
		return tok[:len(tok)-1]
	}
	return tok
}

// TokenSet builds the folded token lookup for a message.
func TokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		set[t] = struct{}{}
		set[FoldToken(t)] = struct{}{}
	}
	return set
}
