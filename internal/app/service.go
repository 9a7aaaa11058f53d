package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"vestira/api/internal/auth"
	"vestira/api/internal/authpw"
	"vestira/api/internal/config"
	"vestira/api/internal/email"
	"vestira/api/internal/export"
	"vestira/api/internal/files"
	"vestira/api/internal/history"
	"vestira/api/internal/rbac"
	"vestira/api/internal/review"
	"vestira/api/internal/store"
	"vestira/api/internal/suggest"
	"vestira/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	Firm         string
	JTI          string
	ExpiresAt    time.Time
}

type QuestionInput struct {
	Section  string   `json:"section"`
	Text     string   `json:"text"`
	Type     string   `json:"type"`
	Options  []string `json:"options"`
	Required bool     `json:"required"`
}

type BranchInput struct {
	Question  string   `json:"question"`
	Type      string   `json:"type"`
	Options   []string `json:"options"`
	Reasoning string   `json:"reasoning"`
	Priority  string   `json:"priority"`
}

var allowedQuestionTypes = map[string]struct{}{
	store.TypeShortText:      {},
	store.TypeLongText:       {},
	store.TypeMultipleChoice: {},
	store.TypeYesNo:          {},
	store.TypeCurrency:       {},
}

var allowedPriorities = map[string]struct{}{
	"":       {},
	"low":    {},
	"medium": {},
	"high":   {},
}

// answerAttempts bounds the optimistic-concurrency retry loop on branch
// mutations before the caller sees a conflict.
const answerAttempts = 3

func nonEmptyOptions(options []string) []string {
	cleaned := make([]string, 0, len(options))
	for _, option := range options {
		option = strings.TrimSpace(option)
		if option != "" {
			cleaned = append(cleaned, option)
		}
	}
	return cleaned
}

type dataStore interface {
	Ping(ctx context.Context) error

	CreateUser(context.Context, store.User) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByDisplayName(context.Context, string) (store.User, error)
	ListUsersByFirm(context.Context, string) ([]store.User, error)

	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	InsertDDQ(context.Context, store.DDQ) error
	ListDDQs(context.Context) ([]store.DDQ, error)
	GetDDQ(context.Context, string) (store.DDQ, error)
	UpdateDDQStatus(context.Context, string, string) error

	InsertQuestion(context.Context, store.Question) error
	ListQuestions(context.Context, string) ([]store.Question, error)
	GetQuestion(context.Context, string, string) (store.Question, error)
	AnswerQuestion(context.Context, string, string, string, time.Time) (bool, error)

	InsertBranch(context.Context, store.Branch) error
	ListBranches(context.Context, string) ([]store.Branch, error)
	ListBranchesByDDQ(context.Context, string) ([]store.Branch, error)
	GetBranch(context.Context, string, string) (store.Branch, error)
	UpdateBranchAnswer(context.Context, string, int, string, string, time.Time) (bool, error)
	UpdateBranchStatus(context.Context, string, int, string) (bool, error)

	InsertResponseBankEntry(context.Context, store.ResponseBankEntry) error
	ListResponseBank(context.Context) ([]store.ResponseBankEntry, error)
}

// sessionStore holds refresh tokens. Postgres serves by default; Redis when
// configured.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type auditService interface {
	EnsureRepo(ddqID string, initial history.Snapshot, author string) error
	CommitSnapshot(ddqID string, snapshot history.Snapshot, author, message string) (history.Event, error)
	History(ddqID string, limit int) ([]history.Event, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	audit    auditService
	suggest  *suggest.Service
	export   *export.Service
	authPW   *authpw.Service
	email    *email.Service
	files    *files.Store
}

func New(cfg config.Config, dataStore dataStore, audit auditService, suggestService *suggest.Service, exportService *export.Service, authService *authpw.Service, emailService *email.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		audit:    audit,
		suggest:  suggestService,
		export:   exportService,
		authPW:   authService,
		email:    emailService,
	}
}

func NewWithSessionStore(cfg config.Config, dataStore dataStore, sessions sessionStore, audit auditService, suggestService *suggest.Service, exportService *export.Service, authService *authpw.Service, emailService *email.Service) *Service {
	service := New(cfg, dataStore, audit, suggestService, exportService, authService, emailService)
	service.sessions = sessions
	return service
}

// SetFileStore attaches object storage for generated report artifacts.
func (s *Service) SetFileStore(fileStore *files.Store) {
	s.files = fileStore
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authPW
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// Ping checks the health of service dependencies (database, etc.)
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// Bootstrap seeds a demo DDQ, users, and response bank when the database is
// empty so a fresh install has something to review.
func (s *Service) Bootstrap(ctx context.Context) error {
	ddqs, err := s.store.ListDDQs(ctx)
	if err != nil {
		return err
	}
	if len(ddqs) > 0 {
		return nil
	}

	if s.authPW != nil {
		seedUsers := []struct {
			Email string
			Name  string
			Role  string
			Firm  string
		}{
			{Email: "priya@meridian.example", Name: "Priya N.", Role: "allocator", Firm: "Meridian Capital"},
			{Email: "mark@northgate.example", Name: "Mark T.", Role: "manager", Firm: "Northgate Partners"},
			{Email: "dana@cairn.example", Name: "Dana R.", Role: "consultant", Firm: "Cairn Advisory"},
			{Email: "admin@vestira.example", Name: "Vestira Admin", Role: "admin", Firm: "Vestira"},
		}
		for _, seed := range seedUsers {
			resp, err := s.authPW.SignUp(ctx, authpw.SignUpRequest{
				Email:       seed.Email,
				Password:    "vestira-demo-123",
				DisplayName: seed.Name,
				Role:        seed.Role,
				FirmName:    seed.Firm,
			})
			if err != nil {
				return fmt.Errorf("seed user %s: %w", seed.Email, err)
			}
			if err := s.authPW.VerifyEmail(ctx, resp.VerificationToken); err != nil {
				return fmt.Errorf("verify seed user %s: %w", seed.Email, err)
			}
		}
	}

	ddq := store.DDQ{
		ID:            util.NewID("ddq"),
		Name:          "2026 Core Infrastructure Review",
		AllocatorFirm: "Meridian Capital",
		ManagerFirm:   "Northgate Partners",
		Status:        "in_progress",
		CreatedBy:     "Priya N.",
	}
	if err := s.store.InsertDDQ(ctx, ddq); err != nil {
		return err
	}

	questionSeeds := []store.Question{
		{ID: util.NewID("q"), DDQID: ddq.ID, Section: "Fund Overview", Text: "What is your total fund size?", Type: store.TypeCurrency, Required: true, SortOrder: 0},
		{ID: util.NewID("q"), DDQID: ddq.ID, Section: "Organization", Text: "How many investment professionals does the firm employ?", Type: store.TypeShortText, Required: true, SortOrder: 1},
		{ID: util.NewID("q"), DDQID: ddq.ID, Section: "ESG", Text: "Describe your ESG integration policy.", Type: store.TypeLongText, Required: false, SortOrder: 2},
	}
	for _, q := range questionSeeds {
		if err := s.store.InsertQuestion(ctx, q); err != nil {
			return err
		}
	}

	if _, err := s.store.AnswerQuestion(ctx, ddq.ID, questionSeeds[0].ID, "$2.4bn across two vehicles", time.Now()); err != nil {
		return err
	}

	if err := s.store.InsertBranch(ctx, store.Branch{
		ID:               util.NewID("br"),
		ParentQuestionID: questionSeeds[0].ID,
		DDQID:            ddq.ID,
		Question:         "How has fund size changed over the last three years?",
		Type:             store.TypeLongText,
		Status:           store.BranchPending,
		CreatedBy:        "Priya N.",
		CreatedByRole:    "allocator",
		CreatedAt:        time.Now(),
		Reasoning:        "Growth trend matters for capacity assessment.",
		Priority:         "high",
	}); err != nil {
		return err
	}

	bankSeeds := []store.ResponseBankEntry{
		{ID: "rb_fund_size", Question: "What is your fund size?", Answer: "$2.4bn across two vehicles as of Q2 2026.", Tags: []string{"aum", "fund"}, QuestionType: store.TypeCurrency, Section: "Fund Overview", FirmID: "firm_northgate", FirmName: "Northgate Partners"},
		{ID: "rb_fund_growth", Question: "How has your fund size changed year over year?", Answer: "AUM grew 18% in 2024 and 11% in 2025, driven by two new mandates.", Tags: []string{"aum", "growth"}, QuestionType: store.TypeLongText, Section: "Fund Overview", FirmID: "firm_northgate", FirmName: "Northgate Partners"},
		{ID: "rb_esg_policy", Question: "Describe your ESG integration policy.", Answer: "ESG factors are scored at diligence and reviewed annually by the investment committee.", Tags: []string{"esg"}, QuestionType: store.TypeLongText, Section: "ESG", FirmID: "firm_northgate", FirmName: "Northgate Partners"},
		{ID: "rb_team_turnover", Question: "What has been your team turnover over the last three years?", Answer: "Two senior departures since 2023, both succession-planned.", Tags: []string{"team"}, QuestionType: store.TypeLongText, Section: "Organization", FirmID: "firm_northgate", FirmName: "Northgate Partners"},
		{ID: "rb_employee_count", Question: "How many employees does the firm have by region?", Answer: "112 total: 74 EMEA, 28 Americas, 10 APAC.", Tags: []string{"team", "offices"}, QuestionType: store.TypeShortText, Section: "Organization", FirmID: "firm_northgate", FirmName: "Northgate Partners"},
	}
	for _, entry := range bankSeeds {
		if err := s.store.InsertResponseBankEntry(ctx, entry); err != nil {
			return err
		}
	}

	if s.audit != nil {
		snapshot, err := s.snapshot(ctx, ddq.ID)
		if err != nil {
			return err
		}
		if err := s.audit.EnsureRepo(ddq.ID, snapshot, ddq.CreatedBy); err != nil {
			return err
		}
	}

	if s.suggest != nil {
		go func() {
			if err := s.suggest.Reindex(context.Background()); err != nil {
				log.Printf("bootstrap: reindex response bank: %v", err)
			}
		}()
	}
	return nil
}

// ---- sessions ----

// CreateSession issues access and refresh tokens for an authenticated user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// The session store may only carry the subject id; resolve the full
	// record so role changes apply on the next refresh.
	user, err = s.store.GetUserByID(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		Firm: user.FirmName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         user.Role,
		Firm:         user.FirmName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Role:      user.Role,
		Firm:      user.FirmName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ---- DDQs ----

func (s *Service) ListDDQs(ctx context.Context, session Session) ([]map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, forbidden()
	}
	ddqs, err := s.store.ListDDQs(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(ddqs))
	for _, ddq := range ddqs {
		branches, err := s.store.ListBranchesByDDQ(ctx, ddq.ID)
		if err != nil {
			return nil, err
		}
		open := 0
		for _, b := range branches {
			if b.Status != store.BranchAnswered {
				open++
			}
		}
		item := ddqPayload(ddq)
		item["openBranches"] = open
		items = append(items, item)
	}
	return items, nil
}

func (s *Service) CreateDDQ(ctx context.Context, session Session, name, managerFirm string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionAuthor) {
		return nil, forbidden()
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}

	ddq := store.DDQ{
		ID:            util.NewID("ddq"),
		Name:          name,
		AllocatorFirm: session.Firm,
		ManagerFirm:   strings.TrimSpace(managerFirm),
		Status:        "in_progress",
		CreatedBy:     session.UserName,
	}
	if err := s.store.InsertDDQ(ctx, ddq); err != nil {
		return nil, err
	}

	if s.audit != nil {
		initial := history.Snapshot{DDQ: ddq}
		if err := s.audit.EnsureRepo(ddq.ID, initial, session.UserName); err != nil {
			log.Printf("create ddq %s: init audit repo: %v", ddq.ID, err)
		}
	}
	return ddqPayload(ddq), nil
}

func (s *Service) DDQDetail(ctx context.Context, session Session, ddqID string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, forbidden()
	}
	ddq, err := s.store.GetDDQ(ctx, ddqID)
	if err != nil {
		return nil, err
	}
	questions, err := s.questionsWithBranches(ctx, ddqID)
	if err != nil {
		return nil, err
	}

	questionItems := make([]map[string]any, 0, len(questions))
	for _, q := range questions {
		questionItems = append(questionItems, questionPayload(q))
	}

	payload := ddqPayload(ddq)
	payload["questions"] = questionItems
	payload["summary"] = review.Summarize(questions)
	return payload, nil
}

var allowedDDQStatuses = map[string]struct{}{
	"draft":        {},
	"in_progress":  {},
	"under_review": {},
	"completed":    {},
}

// SetDDQStatus transitions the DDQ lifecycle (draft, in_progress,
// under_review, completed).
func (s *Service) SetDDQStatus(ctx context.Context, session Session, ddqID, status string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionAuthor) {
		return nil, forbidden()
	}
	if _, ok := allowedDDQStatuses[status]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown status", map[string]any{"status": status})
	}
	if _, err := s.store.GetDDQ(ctx, ddqID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateDDQStatus(ctx, ddqID, status); err != nil {
		return nil, err
	}
	ddq, err := s.store.GetDDQ(ctx, ddqID)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ddqID, session.UserName, fmt.Sprintf("Set status %s", status))
	return ddqPayload(ddq), nil
}

// ---- questions ----

func (s *Service) AddQuestion(ctx context.Context, session Session, ddqID string, input QuestionInput) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionAuthor) {
		return nil, forbidden()
	}
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text is required", nil)
	}
	questionType := input.Type
	if questionType == "" {
		questionType = store.TypeLongText
	}
	if _, ok := allowedQuestionTypes[questionType]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown question type", map[string]any{"type": questionType})
	}
	options := nonEmptyOptions(input.Options)
	if questionType == store.TypeMultipleChoice && len(options) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "multiple_choice requires at least one option", nil)
	}

	if _, err := s.store.GetDDQ(ctx, ddqID); err != nil {
		return nil, err
	}
	existing, err := s.store.ListQuestions(ctx, ddqID)
	if err != nil {
		return nil, err
	}

	question := store.Question{
		ID:        util.NewID("q"),
		DDQID:     ddqID,
		Section:   strings.TrimSpace(input.Section),
		Text:      text,
		Type:      questionType,
		Required:  input.Required,
		Options:   options,
		SortOrder: len(existing),
	}
	if err := s.store.InsertQuestion(ctx, question); err != nil {
		return nil, err
	}

	s.recordAudit(ddqID, session.UserName, fmt.Sprintf("Add question %s", question.ID))
	return questionPayload(question), nil
}

func (s *Service) AnswerQuestion(ctx context.Context, session Session, ddqID, questionID, answer string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionAnswer) {
		return nil, forbidden()
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "answer is required", nil)
	}

	ok, err := s.store.AnswerQuestion(ctx, ddqID, questionID, answer, time.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound()
	}

	question, err := s.store.GetQuestion(ctx, ddqID, questionID)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ddqID, session.UserName, fmt.Sprintf("Answer question %s", questionID))
	s.addToResponseBank(store.ResponseBankEntry{
		ID:           "rb_q_" + questionID,
		Question:     question.Text,
		Answer:       answer,
		QuestionType: question.Type,
		Section:      question.Section,
		FirmName:     session.Firm,
	})
	return questionPayload(question), nil
}

// ---- branches ----

func (s *Service) ListBranches(ctx context.Context, session Session, ddqID, questionID string) ([]map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, forbidden()
	}
	if _, err := s.store.GetQuestion(ctx, ddqID, questionID); err != nil {
		return nil, err
	}
	branches, err := s.store.ListBranches(ctx, questionID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(branches))
	for _, b := range branches {
		items = append(items, branchPayload(b))
	}
	return items, nil
}

// AddBranch attaches a follow-up question to a primary question. Only
// allocator and consultant roles may author; the role gate rejects before
// anything is written.
func (s *Service) AddBranch(ctx context.Context, session Session, ddqID, questionID string, input BranchInput) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionAuthor) {
		return nil, forbidden()
	}
	text := strings.TrimSpace(input.Question)
	if text == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "question is required", nil)
	}
	reasoning := strings.TrimSpace(input.Reasoning)
	if reasoning == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "reasoning is required", nil)
	}
	branchType := input.Type
	if branchType == "" {
		branchType = store.TypeLongText
	}
	if _, ok := allowedQuestionTypes[branchType]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown question type", map[string]any{"type": branchType})
	}
	options := nonEmptyOptions(input.Options)
	if branchType == store.TypeMultipleChoice && len(options) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "multiple_choice requires at least one option", nil)
	}
	priority := strings.TrimSpace(input.Priority)
	if _, ok := allowedPriorities[priority]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "priority must be low, medium, or high", map[string]any{"priority": priority})
	}

	parent, err := s.store.GetQuestion(ctx, ddqID, questionID)
	if err != nil {
		return nil, err
	}

	branch := store.Branch{
		ID:               util.NewID("br"),
		ParentQuestionID: parent.ID,
		DDQID:            ddqID,
		Question:         text,
		Type:             branchType,
		Options:          options,
		Status:           store.BranchPending,
		CreatedBy:        session.UserName,
		CreatedByRole:    string(rbac.Normalize(session.Role)),
		CreatedAt:        time.Now(),
		Reasoning:        reasoning,
		Priority:         priority,
		Version:          1,
	}
	if err := s.store.InsertBranch(ctx, branch); err != nil {
		return nil, err
	}

	s.recordAudit(ddqID, session.UserName, fmt.Sprintf("Add follow-up %s on question %s", branch.ID, parent.ID))
	s.notifyBranchCreated(ddqID, session.UserName, parent.Text, branch.Question)
	return branchPayload(branch), nil
}

// AnswerBranch records the manager's response. Concurrent writers race on the
// branch version; the loser retries against fresh state and eventually
// surfaces a conflict.
func (s *Service) AnswerBranch(ctx context.Context, session Session, ddqID, branchID, answer string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionAnswer) {
		return nil, forbidden()
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "answer is required", nil)
	}

	for attempt := 0; attempt < answerAttempts; attempt++ {
		branch, err := s.store.GetBranch(ctx, ddqID, branchID)
		if err != nil {
			return nil, err
		}

		ok, err := s.store.UpdateBranchAnswer(ctx, branchID, branch.Version, answer, session.UserName, time.Now())
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		updated, err := s.store.GetBranch(ctx, ddqID, branchID)
		if err != nil {
			return nil, err
		}

		s.recordAudit(ddqID, session.UserName, fmt.Sprintf("Answer follow-up %s", branchID))
		s.notifyBranchAnswered(updated, session.UserName)
		s.addToResponseBank(store.ResponseBankEntry{
			ID:           "rb_br_" + branchID,
			Question:     updated.Question,
			Answer:       answer,
			QuestionType: updated.Type,
			FirmName:     session.Firm,
		})
		return branchPayload(updated), nil
	}
	return nil, domainError(http.StatusConflict, "CONFLICT", "Follow-up was modified concurrently, retry", nil)
}

// FlagBranch marks a follow-up as needing clarification. A prior answer, if
// any, stays on record.
func (s *Service) FlagBranch(ctx context.Context, session Session, ddqID, branchID, note string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionFlag) {
		return nil, forbidden()
	}

	for attempt := 0; attempt < answerAttempts; attempt++ {
		branch, err := s.store.GetBranch(ctx, ddqID, branchID)
		if err != nil {
			return nil, err
		}
		ok, err := s.store.UpdateBranchStatus(ctx, branchID, branch.Version, store.BranchClarification)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		updated, err := s.store.GetBranch(ctx, ddqID, branchID)
		if err != nil {
			return nil, err
		}

		s.recordAudit(ddqID, session.UserName, fmt.Sprintf("Flag follow-up %s for clarification", branchID))
		s.notifyClarification(updated, session.UserName, note)
		return branchPayload(updated), nil
	}
	return nil, domainError(http.StatusConflict, "CONFLICT", "Follow-up was modified concurrently, retry", nil)
}

// ---- review ----

func (s *Service) Summary(ctx context.Context, session Session, ddqID string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, forbidden()
	}
	ddq, err := s.store.GetDDQ(ctx, ddqID)
	if err != nil {
		return nil, err
	}
	questions, err := s.questionsWithBranches(ctx, ddqID)
	if err != nil {
		return nil, err
	}
	summary := review.Summarize(questions)
	return map[string]any{
		"ddqId":                 ddq.ID,
		"name":                  ddq.Name,
		"totalBranches":         summary.TotalBranches,
		"answeredBranches":      summary.AnsweredBranches,
		"pendingBranches":       summary.PendingBranches,
		"clarificationBranches": summary.ClarificationBranches,
		"completionPercentage":  summary.CompletionPercentage,
	}, nil
}

func (s *Service) HistoryEvents(ctx context.Context, session Session, ddqID string, limit int) ([]history.Event, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, forbidden()
	}
	if _, err := s.store.GetDDQ(ctx, ddqID); err != nil {
		return nil, err
	}
	if s.audit == nil {
		return []history.Event{}, nil
	}
	return s.audit.History(ddqID, limit)
}

// ExportReport builds the review report. When object storage is configured
// the artifact is also archived and a presigned download URL is returned.
func (s *Service) ExportReport(ctx context.Context, session Session, ddqID string, format export.Format) (*export.Result, string, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, "", forbidden()
	}
	if s.export == nil {
		return nil, "", domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export service not configured", nil)
	}
	result, err := s.export.Export(ctx, export.Request{DDQID: ddqID, Format: format})
	if err != nil {
		return nil, "", err
	}

	archiveURL := ""
	if s.files != nil {
		key, err := s.files.PutReport(ctx, ddqID, result.Filename, result.MimeType, result.Data)
		if err != nil {
			// Archiving is best effort; the caller still gets the report.
			log.Printf("export %s: archive report: %v", ddqID, err)
		} else if url, err := s.files.PresignedURL(ctx, key, 24*time.Hour); err != nil {
			log.Printf("export %s: presign %s: %v", ddqID, key, err)
		} else {
			archiveURL = url
		}
	}
	return result, archiveURL, nil
}

// ---- response bank ----

func (s *Service) ResponseBank(ctx context.Context, session Session) ([]map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, forbidden()
	}
	entries, err := s.store.ListResponseBank(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		items = append(items, bankEntryPayload(entry))
	}
	return items, nil
}

func (s *Service) Suggestions(ctx context.Context, session Session, query string) ([]map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, forbidden()
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
	}
	if s.suggest == nil {
		return []map[string]any{}, nil
	}
	suggestions, err := s.suggest.Suggestions(ctx, query)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(suggestions))
	for _, suggestion := range suggestions {
		items = append(items, map[string]any{
			"entry":      bankEntryPayload(suggestion.Entry),
			"similarity": suggestion.Similarity,
		})
	}
	return items, nil
}

// ---- helpers ----

func (s *Service) questionsWithBranches(ctx context.Context, ddqID string) ([]store.Question, error) {
	questions, err := s.store.ListQuestions(ctx, ddqID)
	if err != nil {
		return nil, err
	}
	branches, err := s.store.ListBranchesByDDQ(ctx, ddqID)
	if err != nil {
		return nil, err
	}
	byQuestion := make(map[string][]store.Branch)
	for _, b := range branches {
		byQuestion[b.ParentQuestionID] = append(byQuestion[b.ParentQuestionID], b)
	}
	for i := range questions {
		questions[i].Branches = byQuestion[questions[i].ID]
	}
	return questions, nil
}

func (s *Service) snapshot(ctx context.Context, ddqID string) (history.Snapshot, error) {
	ddq, err := s.store.GetDDQ(ctx, ddqID)
	if err != nil {
		return history.Snapshot{}, err
	}
	questions, err := s.questionsWithBranches(ctx, ddqID)
	if err != nil {
		return history.Snapshot{}, err
	}
	return history.Snapshot{DDQ: ddq, Questions: questions}, nil
}

// recordAudit commits the current DDQ state in the background; audit failures
// never block the mutation that already succeeded.
func (s *Service) recordAudit(ddqID, author, message string) {
	if s.audit == nil {
		return
	}
	go func() {
		snapshot, err := s.snapshot(context.Background(), ddqID)
		if err != nil {
			log.Printf("audit %s: load snapshot: %v", ddqID, err)
			return
		}
		if err := s.audit.EnsureRepo(ddqID, snapshot, author); err != nil {
			log.Printf("audit %s: ensure repo: %v", ddqID, err)
			return
		}
		if _, err := s.audit.CommitSnapshot(ddqID, snapshot, author, message); err != nil {
			log.Printf("audit %s: commit: %v", ddqID, err)
		}
	}()
}

func (s *Service) addToResponseBank(entry store.ResponseBankEntry) {
	go func() {
		if err := s.store.InsertResponseBankEntry(context.Background(), entry); err != nil {
			log.Printf("response bank: insert %s: %v", entry.ID, err)
			return
		}
		if s.suggest != nil {
			s.suggest.NotifyEntry(entry)
		}
	}()
}

// SendVerificationEmail delivers the signup verification link in the
// background.
func (s *Service) SendVerificationEmail(to, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	go func() {
		verificationURL := s.cfg.CORSOrigin + "/verify-email?token=" + token
		if err := s.email.SendVerificationEmail(to, userName, verificationURL); err != nil {
			log.Printf("send verification email to %s: %v", to, err)
		}
	}()
}

// SendPasswordResetEmail delivers the reset link in the background.
func (s *Service) SendPasswordResetEmail(to, token string) {
	if !s.SMTPConfigured() {
		return
	}
	go func() {
		user, err := s.store.GetUserByEmail(context.Background(), to)
		if err != nil {
			return
		}
		resetURL := s.cfg.CORSOrigin + "/reset-password?token=" + token
		if err := s.email.SendPasswordResetEmail(to, user.DisplayName, resetURL); err != nil {
			log.Printf("send password reset email to %s: %v", to, err)
		}
	}()
}

func (s *Service) notifyBranchCreated(ddqID, actorName, parentQuestion, branchQuestion string) {
	if !s.SMTPConfigured() {
		return
	}
	go func() {
		ctx := context.Background()
		ddq, err := s.store.GetDDQ(ctx, ddqID)
		if err != nil {
			log.Printf("notify branch created: load ddq %s: %v", ddqID, err)
			return
		}
		recipients, err := s.store.ListUsersByFirm(ctx, ddq.ManagerFirm)
		if err != nil {
			log.Printf("notify branch created: list %s users: %v", ddq.ManagerFirm, err)
			return
		}
		for _, recipient := range recipients {
			if err := s.email.SendBranchCreatedEmail(recipient.Email, recipient.DisplayName, actorName, ddq.Name, parentQuestion, branchQuestion); err != nil {
				log.Printf("notify branch created: send to %s: %v", recipient.Email, err)
			}
		}
	}()
}

func (s *Service) notifyBranchAnswered(branch store.Branch, actorName string) {
	if !s.SMTPConfigured() {
		return
	}
	go func() {
		ctx := context.Background()
		ddq, err := s.store.GetDDQ(ctx, branch.DDQID)
		if err != nil {
			log.Printf("notify branch answered: load ddq %s: %v", branch.DDQID, err)
			return
		}
		author, err := s.store.GetUserByDisplayName(ctx, branch.CreatedBy)
		if err != nil {
			log.Printf("notify branch answered: author %q not found", branch.CreatedBy)
			return
		}
		answer := ""
		if branch.Answer != nil {
			answer = *branch.Answer
		}
		if err := s.email.SendBranchAnsweredEmail(author.Email, author.DisplayName, actorName, ddq.Name, branch.Question, answer); err != nil {
			log.Printf("notify branch answered: send to %s: %v", author.Email, err)
		}
	}()
}

func (s *Service) notifyClarification(branch store.Branch, actorName, note string) {
	if !s.SMTPConfigured() || branch.AnsweredBy == "" {
		return
	}
	go func() {
		ctx := context.Background()
		ddq, err := s.store.GetDDQ(ctx, branch.DDQID)
		if err != nil {
			log.Printf("notify clarification: load ddq %s: %v", branch.DDQID, err)
			return
		}
		answerer, err := s.store.GetUserByDisplayName(ctx, branch.AnsweredBy)
		if err != nil {
			log.Printf("notify clarification: answerer %q not found", branch.AnsweredBy)
			return
		}
		if err := s.email.SendClarificationEmail(answerer.Email, answerer.DisplayName, actorName, ddq.Name, branch.Question, note); err != nil {
			log.Printf("notify clarification: send to %s: %v", answerer.Email, err)
		}
	}()
}

func forbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func notFound() *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// ---- payloads ----

func ddqPayload(ddq store.DDQ) map[string]any {
	return map[string]any{
		"id":            ddq.ID,
		"name":          ddq.Name,
		"allocatorFirm": ddq.AllocatorFirm,
		"managerFirm":   ddq.ManagerFirm,
		"status":        ddq.Status,
		"createdBy":     ddq.CreatedBy,
		"createdAt":     ddq.CreatedAt,
		"updatedAt":     ddq.UpdatedAt,
	}
}

func questionPayload(q store.Question) map[string]any {
	branches := make([]map[string]any, 0, len(q.Branches))
	for _, b := range q.Branches {
		branches = append(branches, branchPayload(b))
	}
	return map[string]any{
		"id":         q.ID,
		"ddqId":      q.DDQID,
		"section":    q.Section,
		"text":       q.Text,
		"type":       q.Type,
		"required":   q.Required,
		"options":    q.Options,
		"answer":     q.Answer,
		"answeredAt": q.AnsweredAt,
		"sortOrder":  q.SortOrder,
		"branches":   branches,
	}
}

func branchPayload(b store.Branch) map[string]any {
	return map[string]any{
		"id":               b.ID,
		"parentQuestionId": b.ParentQuestionID,
		"ddqId":            b.DDQID,
		"question":         b.Question,
		"type":             b.Type,
		"options":          b.Options,
		"answer":           b.Answer,
		"status":           b.Status,
		"createdBy":        b.CreatedBy,
		"createdByRole":    b.CreatedByRole,
		"createdAt":        b.CreatedAt,
		"answeredBy":       b.AnsweredBy,
		"answeredAt":       b.AnsweredAt,
		"reasoning":        b.Reasoning,
		"priority":         b.Priority,
		"version":          b.Version,
	}
}

func bankEntryPayload(entry store.ResponseBankEntry) map[string]any {
	return map[string]any{
		"id":           entry.ID,
		"question":     entry.Question,
		"answer":       entry.Answer,
		"tags":         entry.Tags,
		"questionType": entry.QuestionType,
		"section":      entry.Section,
		"firmId":       entry.FirmID,
		"firmName":     entry.FirmName,
	}
}
