package suggest

import (
	"context"
	"log"

	"vestira/api/internal/store"
)

// candidateLimit bounds how many bank entries Meilisearch narrows to before
// Jaccard ranking.
const candidateLimit = 50

// Corpus is the slice of the data store the suggester needs.
type Corpus interface {
	ListResponseBank(ctx context.Context) ([]store.ResponseBankEntry, error)
}

// Service ranks response-bank entries against a draft follow-up question.
// When Meilisearch is available it narrows the candidate set first; otherwise
// the whole bank is scanned. Ranking is always Jaccard, never search relevance.
type Service struct {
	corpus Corpus
	meili  *Meili
}

// NewService creates the suggestion service. meili may be nil when no
// Meilisearch instance is configured.
func NewService(corpus Corpus, meili *Meili) *Service {
	return &Service{corpus: corpus, meili: meili}
}

// Suggestions returns the ranked suggestions for the query text.
func (s *Service) Suggestions(ctx context.Context, query string) ([]Suggestion, error) {
	if s.meili != nil && s.meili.Healthy() {
		candidates, err := s.meili.Candidates(query, candidateLimit)
		if err == nil {
			return Rank(query, candidates), nil
		}
		log.Printf("suggest: meilisearch candidates failed, falling back to full scan: %v", err)
	}

	entries, err := s.corpus.ListResponseBank(ctx)
	if err != nil {
		return nil, err
	}
	return Rank(query, entries), nil
}

// Reindex pushes the whole response bank into Meilisearch. No-op without a
// configured instance.
func (s *Service) Reindex(ctx context.Context) error {
	if s.meili == nil {
		return nil
	}
	entries, err := s.corpus.ListResponseBank(ctx)
	if err != nil {
		return err
	}
	return s.meili.IndexEntries(entries)
}

// NotifyEntry indexes a single new bank entry in the background.
func (s *Service) NotifyEntry(entry store.ResponseBankEntry) {
	if s.meili == nil {
		return
	}
	go func() {
		if err := s.meili.IndexEntry(entry); err != nil {
			log.Printf("suggest: index entry %s: %v", entry.ID, err)
		}
	}()
}
