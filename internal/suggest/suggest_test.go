package suggest

import (
	"context"
	"math"
	"testing"

	"vestira/api/internal/store"
)

func TestJaccard(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want float64
	}{
		{
			name: "related fund size questions overlap",
			a:    "infrastructure fund size",
			b:    "what is your fund size",
			// tokens: {infrastructure, fund, size} and {what, is, your, fund, size}
			want: 2.0 / 6.0,
		},
		{"identical", "esg policy", "esg policy", 1},
		{"case and whitespace ignored", "ESG   Policy", "esg policy", 1},
		{"disjoint", "fund size", "team turnover", 0},
		{"empty query", "", "anything at all", 0},
		{"both empty", "", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Jaccard(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Jaccard(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func bankEntry(id, question string) store.ResponseBankEntry {
	return store.ResponseBankEntry{ID: id, Question: question, Answer: "answer for " + id}
}

func TestRankFiltersBelowThreshold(t *testing.T) {
	entries := []store.ResponseBankEntry{
		bankEntry("rb_1", "what is your total fund size"),
		bankEntry("rb_2", "completely unrelated staffing question"),
	}

	got := Rank("what is your fund size", entries)
	if len(got) != 1 {
		t.Fatalf("expected 1 suggestion, got %d", len(got))
	}
	if got[0].Entry.ID != "rb_1" {
		t.Errorf("expected rb_1, got %s", got[0].Entry.ID)
	}
	if got[0].Similarity <= threshold {
		t.Errorf("similarity %v should exceed threshold", got[0].Similarity)
	}
}

func TestRankExcludesExactThreshold(t *testing.T) {
	// 3 of 10 union tokens: Jaccard exactly 0.3, which must not surface.
	query := "alpha beta gamma delta epsilon zeta"
	entries := []store.ResponseBankEntry{
		bankEntry("rb_edge", "alpha beta gamma one two three four"),
	}
	if got := Jaccard(query, entries[0].Question); math.Abs(got-0.3) > 1e-9 {
		t.Fatalf("test setup wrong, Jaccard = %v, want 0.3", got)
	}
	if got := Rank(query, entries); len(got) != 0 {
		t.Fatalf("expected exact-threshold entry excluded, got %d suggestions", len(got))
	}
}

func TestRankCapsAtThree(t *testing.T) {
	entries := []store.ResponseBankEntry{
		bankEntry("rb_1", "what is your fund size"),
		bankEntry("rb_2", "what is your fund size today"),
		bankEntry("rb_3", "what is your current fund size"),
		bankEntry("rb_4", "what is your fund size in usd"),
	}
	got := Rank("what is your fund size", entries)
	if len(got) != 3 {
		t.Fatalf("expected 3 suggestions, got %d", len(got))
	}
	if got[0].Entry.ID != "rb_1" {
		t.Errorf("best match should be the identical question, got %s", got[0].Entry.ID)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Similarity > got[i-1].Similarity {
			t.Errorf("suggestions not in descending order at %d", i)
		}
	}
}

func TestRankStableOnTies(t *testing.T) {
	// Identical questions score the same; bank order must hold.
	entries := []store.ResponseBankEntry{
		bankEntry("rb_a", "describe your esg policy"),
		bankEntry("rb_b", "describe your esg policy"),
	}
	got := Rank("describe your esg policy", entries)
	if len(got) != 2 {
		t.Fatalf("expected 2 suggestions, got %d", len(got))
	}
	if got[0].Entry.ID != "rb_a" || got[1].Entry.ID != "rb_b" {
		t.Errorf("tie broke bank order: %s, %s", got[0].Entry.ID, got[1].Entry.ID)
	}
}

type staticCorpus struct {
	entries []store.ResponseBankEntry
}

func (c staticCorpus) ListResponseBank(_ context.Context) ([]store.ResponseBankEntry, error) {
	return c.entries, nil
}

func TestServiceFallsBackWithoutMeili(t *testing.T) {
	svc := NewService(staticCorpus{entries: []store.ResponseBankEntry{
		bankEntry("rb_1", "what is your fund size"),
	}}, nil)

	got, err := svc.Suggestions(context.Background(), "what is your fund size")
	if err != nil {
		t.Fatalf("Suggestions failed: %v", err)
	}
	if len(got) != 1 || got[0].Entry.ID != "rb_1" {
		t.Fatalf("unexpected suggestions: %+v", got)
	}
}
