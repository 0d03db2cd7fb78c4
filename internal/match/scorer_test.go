package match

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	"groupwatch/internal/model"
)

type fakeEmbedder struct {
	vec []float64
	err error
}

func (f *fakeEmbedder) EmbedSingle(_ context.Context, _ string) ([]float64, error) {
	return f.vec, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func defaultThresholds() Thresholds {
	return Thresholds{MinNgramScore: 0.1, MinSemanticScore: 0.3, SemanticWeight: 0.5}
}

func msgWith(text string) model.IncomingMessage {
	return model.IncomingMessage{ID: 100, GroupID: -1001, Text: text}
}

func selections(subs ...model.Subscription) []Selection {
	out := make([]Selection, 0, len(subs))
	for _, s := range subs {
		out = append(out, Selection{Subscription: s, Lexical: 0.5})
	}
	return out
}

func TestScoreNegativeKeywordPrecedence(t *testing.T) {
	s := NewScorer(nil, defaultThresholds(), testLogger())
	msg := msgWith("Продам Xiaomi робот пылесос с мойкой, б/у, 15000 RSD")

	sub := model.Subscription{
		ID:               1,
		PositiveKeywords: []string{"робот", "пылесос", "xiaomi", "б/у"},
		NegativeKeywords: []string{"б/у"},
	}

	got := s.Score(context.Background(), msg, selections(sub))
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	cand := got[0]
	if cand.Passed {
		t.Error("negative keyword must reject regardless of positive score")
	}
	if cand.Result != model.ResultRejectedNegative {
		t.Errorf("result = %s, want %s", cand.Result, model.ResultRejectedNegative)
	}
	if cand.RejectionKeyword != "б/у" {
		t.Errorf("rejection keyword = %q, want %q", cand.RejectionKeyword, "б/у")
	}
	if cand.NgramScore != 0 {
		t.Errorf("scoring must short-circuit on negative hit, got ngram %g", cand.NgramScore)
	}
}

func TestScoreDisabledNegativeDoesNotReject(t *testing.T) {
	s := NewScorer(nil, defaultThresholds(), testLogger())
	msg := msgWith("Продам Xiaomi робот пылесос, б/у")

	sub := model.Subscription{
		ID:                       1,
		PositiveKeywords:         []string{"робот", "пылесос", "xiaomi"},
		NegativeKeywords:         []string{"б/у"},
		DisabledNegativeKeywords: []string{"б/у"},
	}

	got := s.Score(context.Background(), msg, selections(sub))
	if len(got) != 1 || !got[0].Passed {
		t.Fatalf("disabled negative keyword must not reject: %+v", got)
	}
}

func TestScoreNgramThreshold(t *testing.T) {
	s := NewScorer(nil, defaultThresholds(), testLogger())
	msg := msgWith("Продам пылесос")

	// All keywords missing from the message except tiny accidental overlap.
	sub := model.Subscription{
		ID:               7,
		PositiveKeywords: []string{"велосипед", "горный", "шоссейный", "карбоновый"},
	}

	got := s.Score(context.Background(), msg, selections(sub))
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	if got[0].Passed {
		t.Fatalf("candidate below min ngram score must not pass, score %g", got[0].NgramScore)
	}
	if got[0].Result != model.ResultRejectedNgram {
		t.Errorf("result = %s, want %s", got[0].Result, model.ResultRejectedNgram)
	}
}

func TestScoreOrderingDeterminism(t *testing.T) {
	s := NewScorer(nil, defaultThresholds(), testLogger())
	msg := msgWith("Продам Xiaomi робот пылесос")

	subs := []model.Subscription{
		{ID: 3, PositiveKeywords: []string{"робот", "пылесос"}},
		{ID: 1, PositiveKeywords: []string{"робот", "пылесос"}},
		{ID: 2, PositiveKeywords: []string{"xiaomi"}},
	}

	want := s.Score(context.Background(), msg, selections(subs...))
	for range 10 {
		got := s.Score(context.Background(), msg, selections(subs...))
		var wantOrder, gotOrder []int64
		for i := range want {
			wantOrder = append(wantOrder, want[i].Subscription.ID)
			gotOrder = append(gotOrder, got[i].Subscription.ID)
		}
		if diff := cmp.Diff(wantOrder, gotOrder); diff != "" {
			t.Fatalf("ordering not deterministic (-first +later):\n%s", diff)
		}
	}

	// Equal scores break ties by ascending subscription id.
	var idx1, idx3 int
	for i, c := range want {
		switch c.Subscription.ID {
		case 1:
			idx1 = i
		case 3:
			idx3 = i
		}
	}
	if idx1 > idx3 {
		t.Errorf("tie must break by ascending id: id 1 at %d, id 3 at %d", idx1, idx3)
	}
}

func TestScoreSemanticCombination(t *testing.T) {
	embedder := &fakeEmbedder{vec: []float64{1, 0}}
	s := NewScorer(embedder, defaultThresholds(), testLogger())
	msg := msgWith("ищу что-то для уборки")

	// Lexically weak but semantically close.
	sub := model.Subscription{
		ID:                1,
		PositiveKeywords:  []string{"пылесос"},
		KeywordEmbeddings: [][]float64{{0.9, 0.1}},
	}

	got := s.Score(context.Background(), msg, selections(sub))
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	cand := got[0]
	if !cand.HasSemantic {
		t.Fatal("expected semantic score")
	}
	if !cand.Passed {
		t.Errorf("semantically close candidate should pass, composite %g", cand.CompositeScore)
	}
	if cand.CompositeScore < cand.NgramScore {
		t.Errorf("composite %g must never drop below ngram floor %g", cand.CompositeScore, cand.NgramScore)
	}
}

func TestScoreEmbedderFailureDegradesToLexical(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("embed server down")}
	s := NewScorer(embedder, defaultThresholds(), testLogger())
	msg := msgWith("Продам Xiaomi робот пылесос")

	sub := model.Subscription{
		ID:                1,
		PositiveKeywords:  []string{"робот", "пылесос"},
		KeywordEmbeddings: [][]float64{{1, 0}},
	}

	got := s.Score(context.Background(), msg, selections(sub))
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	if got[0].HasSemantic {
		t.Error("embedder failure must degrade to lexical-only")
	}
	if !got[0].Passed {
		t.Errorf("strong lexical candidate should still pass, ngram %g", got[0].NgramScore)
	}
}
