package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"time"

	"vestira/api/internal/store"
)

// exportCSV flattens a DDQ into one row per question and per branch. Branch
// rows reference their parent question so the hierarchy survives in flat
// spreadsheet tools.
func exportCSV(ddq store.DDQ, questions []store.Question) (*Result, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"kind", "id", "parent_question_id", "section", "question", "type", "status", "answer", "answered_at", "created_by", "created_by_role"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	for _, q := range questions {
		status := "pending"
		if q.Answer != nil {
			status = "answered"
		}
		row := []string{
			"question", q.ID, "", q.Section, q.Text, q.Type, status,
			deref(q.Answer), formatTime(q.AnsweredAt), "", "",
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write question row: %w", err)
		}

		for _, b := range q.Branches {
			row := []string{
				"branch", b.ID, b.ParentQuestionID, q.Section, b.Question, b.Type, b.Status,
				deref(b.Answer), formatTime(b.AnsweredAt), b.CreatedBy, b.CreatedByRole,
			}
			if err := w.Write(row); err != nil {
				return nil, fmt.Errorf("write branch row: %w", err)
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}

	return &Result{
		Data:     buf.Bytes(),
		Filename: sanitizeFilename(ddq.Name) + ".csv",
		MimeType: "text/csv",
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
