package suggest

import (
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"vestira/api/internal/store"
)

const idxResponseBank = "vestira_response_bank"

// Meili retrieves response-bank candidates from Meilisearch. It narrows the
// corpus before Jaccard ranking; it never ranks by Meilisearch relevance.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the response-bank
// index. The instance stays usable when the server is down; a background
// loop re-checks health and reconfigures on recovery.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("suggest: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxResponseBank,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("suggest: create index %s (may already exist): %v", idxResponseBank, err)
	}

	index := m.client.Index(idxResponseBank)
	filterable := []interface{}{"section", "questionType", "firmId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("suggest: update filterable attrs: %v", err)
	}
	searchable := []string{"question", "answer", "tags"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("suggest: update searchable attrs: %v", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("suggest: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// bankRecord is the indexed shape of a response-bank entry.
type bankRecord struct {
	ID           string   `json:"id"`
	Question     string   `json:"question"`
	Answer       string   `json:"answer"`
	Tags         []string `json:"tags"`
	QuestionType string   `json:"questionType"`
	Section      string   `json:"section"`
	FirmID       string   `json:"firmId"`
	FirmName     string   `json:"firmName"`
}

func toRecord(entry store.ResponseBankEntry) bankRecord {
	return bankRecord{
		ID:           entry.ID,
		Question:     entry.Question,
		Answer:       entry.Answer,
		Tags:         entry.Tags,
		QuestionType: entry.QuestionType,
		Section:      entry.Section,
		FirmID:       entry.FirmID,
		FirmName:     entry.FirmName,
	}
}

// IndexEntries bulk-indexes response bank entries.
func (m *Meili) IndexEntries(entries []store.ResponseBankEntry) error {
	if len(entries) == 0 {
		return nil
	}
	records := make([]bankRecord, 0, len(entries))
	for _, entry := range entries {
		records = append(records, toRecord(entry))
	}
	_, err := m.client.Index(idxResponseBank).AddDocuments(records, nil)
	return err
}

// IndexEntry adds or updates a single response bank entry in the index.
func (m *Meili) IndexEntry(entry store.ResponseBankEntry) error {
	_, err := m.client.Index(idxResponseBank).AddDocuments([]bankRecord{toRecord(entry)}, nil)
	return err
}

// Candidates returns up to limit bank entries matching the query text.
func (m *Meili) Candidates(query string, limit int) ([]store.ResponseBankEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	resp, err := m.client.Index(idxResponseBank).Search(query, &meili.SearchRequest{
		Limit: int64(limit),
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, err
	}

	entries := make([]store.ResponseBankEntry, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		entries = append(entries, hitToEntry(hit))
	}
	return entries, nil
}

func hitToEntry(hit meili.Hit) store.ResponseBankEntry {
	return store.ResponseBankEntry{
		ID:           decodeString(hit, "id"),
		Question:     decodeString(hit, "question"),
		Answer:       decodeString(hit, "answer"),
		Tags:         decodeStrings(hit, "tags"),
		QuestionType: decodeString(hit, "questionType"),
		Section:      decodeString(hit, "section"),
		FirmID:       decodeString(hit, "firmId"),
		FirmName:     decodeString(hit, "firmName"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeStrings(hit meili.Hit, key string) []string {
	raw, ok := hit[key]
	if !ok {
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err == nil {
		return values
	}
	return nil
}
