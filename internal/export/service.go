package export

import (
	"context"
	"fmt"
	"time"

	"vestira/api/internal/review"
	"vestira/api/internal/store"
)

// Service builds review reports from a DDQ and its branches.
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates a report in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	ddq, err := s.store.GetDDQ(ctx, req.DDQID)
	if err != nil {
		return nil, fmt.Errorf("get ddq: %w", err)
	}

	questions, err := s.store.ListQuestions(ctx, req.DDQID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	branches, err := s.store.ListBranchesByDDQ(ctx, req.DDQID)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	attachBranches(questions, branches)

	switch req.Format {
	case FormatCSV:
		return exportCSV(ddq, questions)
	case FormatPDF:
		summary := review.Summarize(questions)
		html, err := RenderReportHTML(buildTemplateData(ddq, questions, summary))
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		return exportPDF(html, ddq.Name)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}

// attachBranches groups flat branch rows under their parent questions,
// preserving creation order within each question.
func attachBranches(questions []store.Question, branches []store.Branch) {
	byQuestion := make(map[string][]store.Branch)
	for _, b := range branches {
		byQuestion[b.ParentQuestionID] = append(byQuestion[b.ParentQuestionID], b)
	}
	for i := range questions {
		questions[i].Branches = byQuestion[questions[i].ID]
	}
}

func buildTemplateData(ddq store.DDQ, questions []store.Question, summary review.Summary) TemplateData {
	data := TemplateData{
		Name:          ddq.Name,
		AllocatorFirm: ddq.AllocatorFirm,
		ManagerFirm:   ddq.ManagerFirm,
		Status:        ddq.Status,
		GeneratedAt:   time.Now(),
		Completion:    summary.CompletionPercentage,
	}

	for _, q := range questions {
		tq := TemplateQuestion{
			Section: q.Section,
			Text:    q.Text,
			Type:    q.Type,
		}
		if q.Answer != nil {
			tq.Answer = *q.Answer
		}
		for _, b := range q.Branches {
			tb := TemplateBranch{
				Question:  b.Question,
				Status:    b.Status,
				CreatedBy: b.CreatedBy,
				Reasoning: b.Reasoning,
			}
			if b.Answer != nil {
				tb.Answer = *b.Answer
			}
			tq.Branches = append(tq.Branches, tb)
		}
		data.Questions = append(data.Questions, tq)
	}
	return data
}
