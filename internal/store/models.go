package store

import "time"

// Branch lifecycle states. A branch starts pending, becomes answered when the
// manager responds, and may be flagged clarification_needed by a reviewer.
const (
	BranchPending       = "pending"
	BranchAnswered      = "answered"
	BranchClarification = "clarification_needed"
)

// Question and branch prompt types.
const (
	TypeShortText      = "short_text"
	TypeLongText       = "long_text"
	TypeMultipleChoice = "multiple_choice"
	TypeYesNo          = "yes_no"
	TypeCurrency       = "currency"
)

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	FirmName              string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// DDQ is the due-diligence request aggregate. It exclusively owns its
// questions and their branches; nothing is shared across DDQs.
type DDQ struct {
	ID            string
	Name          string
	AllocatorFirm string
	ManagerFirm   string
	Status        string
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Question struct {
	ID         string
	DDQID      string
	Section    string
	Text       string
	Type       string
	Required   bool
	Options    []string
	Answer     *string
	AnsweredAt *time.Time
	SortOrder  int
	// Branches is populated on detail reads, in creation order.
	Branches []Branch
}

// Branch is a follow-up question attached to a primary question during
// review. Append-only: no operation removes a branch.
type Branch struct {
	ID               string
	ParentQuestionID string
	DDQID            string
	Question         string
	Type             string
	Options          []string
	Answer           *string
	Status           string
	CreatedBy        string
	CreatedByRole    string
	CreatedAt        time.Time
	AnsweredBy       string
	AnsweredAt       *time.Time
	Reasoning        string
	Priority         string
	// Version guards concurrent mutation of the same branch.
	Version int
}

// ResponseBankEntry is a previously given Q&A pair reused for suggestions.
// The bank is a read-only corpus as far as the DDQ workflow is concerned.
type ResponseBankEntry struct {
	ID           string
	Question     string
	Answer       string
	Tags         []string
	QuestionType string
	Section      string
	FirmID       string
	FirmName     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
