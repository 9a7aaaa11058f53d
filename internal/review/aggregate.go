// Package review aggregates branch progress across a DDQ for reviewers.
package review

import "vestira/api/internal/store"

// Summary reports branch counts and completion for one DDQ.
type Summary struct {
	TotalBranches         int     `json:"totalBranches"`
	AnsweredBranches      int     `json:"answeredBranches"`
	PendingBranches       int     `json:"pendingBranches"`
	ClarificationBranches int     `json:"clarificationBranches"`
	CompletionPercentage  float64 `json:"completionPercentage"`
}

// TotalBranches counts branches across every question of a DDQ.
func TotalBranches(questions []store.Question) int {
	total := 0
	for _, q := range questions {
		total += len(q.Branches)
	}
	return total
}

// CountByStatus counts branches in the given status across every question.
func CountByStatus(questions []store.Question, status string) int {
	count := 0
	for _, q := range questions {
		for _, b := range q.Branches {
			if b.Status == status {
				count++
			}
		}
	}
	return count
}

// CompletionPercentage is answered over total as a percentage. A DDQ with no
// branches reports 0, never NaN.
func CompletionPercentage(answered, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(answered) / float64(total) * 100
}

// Summarize builds the review summary for a set of questions with their
// branches attached. Clarification branches count as unanswered work even
// when an earlier answer is still on record.
func Summarize(questions []store.Question) Summary {
	total := TotalBranches(questions)
	answered := CountByStatus(questions, store.BranchAnswered)
	return Summary{
		TotalBranches:         total,
		AnsweredBranches:      answered,
		PendingBranches:       CountByStatus(questions, store.BranchPending),
		ClarificationBranches: CountByStatus(questions, store.BranchClarification),
		CompletionPercentage:  CompletionPercentage(answered, total),
	}
}
