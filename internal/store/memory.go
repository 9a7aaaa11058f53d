package store

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of the same repository surface
// as PostgresStore. It backs the service tests and local demos; not-found
// lookups return sql.ErrNoRows so callers see identical sentinel behavior.
type MemoryStore struct {
	mu sync.Mutex

	users           map[string]User   // by id
	refreshSessions map[string]memRefresh
	revokedTokens   map[string]time.Time
	passwordResets  map[string]memReset

	ddqs      map[string]DDQ
	questions map[string]Question // by id
	branches  []Branch            // insertion order
	bank      []ResponseBankEntry
}

type memRefresh struct {
	userID    string
	expiresAt time.Time
	revoked   bool
}

type memReset struct {
	userID    string
	expiresAt time.Time
	used      bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:           make(map[string]User),
		refreshSessions: make(map[string]memRefresh),
		revokedTokens:   make(map[string]time.Time),
		passwordResets:  make(map[string]memReset),
		ddqs:            make(map[string]DDQ),
		questions:       make(map[string]Question),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// ---- users ----

func (s *MemoryStore) CreateUser(ctx context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	s.users[user.ID] = user
	return nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return User{}, sql.ErrNoRows
}

func (s *MemoryStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	return user, nil
}

func (s *MemoryStore) GetUserByDisplayName(ctx context.Context, displayName string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *User
	for _, user := range s.users {
		if user.DisplayName != displayName {
			continue
		}
		u := user
		if found == nil || u.CreatedAt.Before(found.CreatedAt) {
			found = &u
		}
	}
	if found == nil {
		return User{}, sql.ErrNoRows
	}
	return *found, nil
}

func (s *MemoryStore) ListUsersByFirm(ctx context.Context, firmName string) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]User, 0)
	for _, user := range s.users {
		if user.FirmName == firmName {
			items = append(items, user)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (s *MemoryStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.VerificationToken = token
	user.VerificationExpiresAt = &expiresAt
	s.users[userID] = user
	return nil
}

func (s *MemoryStore) VerifyUserEmail(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, user := range s.users {
		if user.VerificationToken == "" || user.VerificationToken != token {
			continue
		}
		if user.VerificationExpiresAt != nil && time.Now().After(*user.VerificationExpiresAt) {
			continue
		}
		user.IsEmailVerified = true
		user.VerificationToken = ""
		user.VerificationExpiresAt = nil
		s.users[id] = user
		return nil
	}
	return sql.ErrNoRows
}

func (s *MemoryStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	s.users[userID] = user
	return nil
}

func (s *MemoryStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwordResets[token] = memReset{userID: userID, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reset, ok := s.passwordResets[token]
	if !ok || reset.used || time.Now().After(reset.expiresAt) {
		return "", sql.ErrNoRows
	}
	return reset.userID, nil
}

func (s *MemoryStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reset, ok := s.passwordResets[token]
	if !ok {
		return nil
	}
	reset.used = true
	s.passwordResets[token] = reset
	return nil
}

// ---- sessions ----

func (s *MemoryStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshSessions[tokenHash] = memRefresh{userID: userID, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.refreshSessions[tokenHash]
	if !ok || session.revoked || time.Now().After(session.expiresAt) {
		return User{}, sql.ErrNoRows
	}
	user, ok := s.users[session.userID]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	return user, nil
}

func (s *MemoryStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.refreshSessions[tokenHash]
	if !ok {
		return nil
	}
	session.revoked = true
	s.refreshSessions[tokenHash] = session
	return nil
}

func (s *MemoryStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokedTokens[jti] = exp
	return nil
}

func (s *MemoryStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, revoked := s.revokedTokens[jti]
	return revoked, nil
}

// ---- DDQs ----

func (s *MemoryStore) InsertDDQ(ctx context.Context, ddq DDQ) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if ddq.CreatedAt.IsZero() {
		ddq.CreatedAt = now
	}
	ddq.UpdatedAt = now
	s.ddqs[ddq.ID] = ddq
	return nil
}

func (s *MemoryStore) ListDDQs(ctx context.Context) ([]DDQ, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]DDQ, 0, len(s.ddqs))
	for _, ddq := range s.ddqs {
		items = append(items, ddq)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UpdatedAt.After(items[j].UpdatedAt) })
	return items, nil
}

func (s *MemoryStore) GetDDQ(ctx context.Context, ddqID string) (DDQ, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ddq, ok := s.ddqs[ddqID]
	if !ok {
		return DDQ{}, sql.ErrNoRows
	}
	return ddq, nil
}

func (s *MemoryStore) UpdateDDQStatus(ctx context.Context, ddqID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ddq, ok := s.ddqs[ddqID]
	if !ok {
		return sql.ErrNoRows
	}
	ddq.Status = status
	ddq.UpdatedAt = time.Now()
	s.ddqs[ddqID] = ddq
	return nil
}

// ---- questions ----

func (s *MemoryStore) InsertQuestion(ctx context.Context, q Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q.Branches = nil
	s.questions[q.ID] = q
	return nil
}

func (s *MemoryStore) ListQuestions(ctx context.Context, ddqID string) ([]Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Question, 0)
	for _, q := range s.questions {
		if q.DDQID == ddqID {
			items = append(items, q)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].SortOrder != items[j].SortOrder {
			return items[i].SortOrder < items[j].SortOrder
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *MemoryStore) GetQuestion(ctx context.Context, ddqID, questionID string) (Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[questionID]
	if !ok || q.DDQID != ddqID {
		return Question{}, sql.ErrNoRows
	}
	return q, nil
}

func (s *MemoryStore) AnswerQuestion(ctx context.Context, ddqID, questionID, answer string, answeredAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[questionID]
	if !ok || q.DDQID != ddqID {
		return false, nil
	}
	q.Answer = &answer
	if q.AnsweredAt == nil {
		q.AnsweredAt = &answeredAt
	}
	s.questions[questionID] = q
	return true, nil
}

// ---- branches ----

func (s *MemoryStore) InsertBranch(ctx context.Context, b Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.Version = 1
	s.branches = append(s.branches, b)
	return nil
}

func (s *MemoryStore) ListBranches(ctx context.Context, questionID string) ([]Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Branch, 0)
	for _, b := range s.branches {
		if b.ParentQuestionID == questionID {
			items = append(items, b)
		}
	}
	return items, nil
}

func (s *MemoryStore) ListBranchesByDDQ(ctx context.Context, ddqID string) ([]Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Branch, 0)
	for _, b := range s.branches {
		if b.DDQID == ddqID {
			items = append(items, b)
		}
	}
	return items, nil
}

func (s *MemoryStore) GetBranch(ctx context.Context, ddqID, branchID string) (Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.branches {
		if b.ID == branchID && b.DDQID == ddqID {
			return b, nil
		}
	}
	return Branch{}, sql.ErrNoRows
}

func (s *MemoryStore) UpdateBranchAnswer(ctx context.Context, branchID string, version int, answer, answeredBy string, answeredAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range s.branches {
		if b.ID != branchID {
			continue
		}
		if b.Version != version {
			return false, nil
		}
		b.Answer = &answer
		b.Status = BranchAnswered
		b.AnsweredBy = answeredBy
		b.AnsweredAt = &answeredAt
		b.Version++
		s.branches[i] = b
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) UpdateBranchStatus(ctx context.Context, branchID string, version int, status string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range s.branches {
		if b.ID != branchID {
			continue
		}
		if b.Version != version {
			return false, nil
		}
		b.Status = status
		b.Version++
		s.branches[i] = b
		return true, nil
	}
	return false, nil
}

// ---- response bank ----

func (s *MemoryStore) InsertResponseBankEntry(ctx context.Context, entry ResponseBankEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.bank {
		if existing.ID == entry.ID {
			existing.Answer = entry.Answer
			existing.Tags = entry.Tags
			existing.UpdatedAt = time.Now()
			s.bank[i] = existing
			return nil
		}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.UpdatedAt = entry.CreatedAt
	s.bank = append(s.bank, entry)
	return nil
}

func (s *MemoryStore) ListResponseBank(ctx context.Context) ([]ResponseBankEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]ResponseBankEntry, len(s.bank))
	copy(items, s.bank)
	return items, nil
}
