package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, firm_name, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.FirmName, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, firm_name, is_email_verified
		FROM users WHERE LOWER(email) = LOWER($1)
	`, email))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, firm_name, is_email_verified
		FROM users WHERE id = $1
	`, userID))
}

func (s *PostgresStore) GetUserByDisplayName(ctx context.Context, displayName string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, firm_name, is_email_verified
		FROM users WHERE display_name = $1
		ORDER BY created_at LIMIT 1
	`, displayName))
}

func (s *PostgresStore) ListUsersByFirm(ctx context.Context, firmName string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, email, password_hash, role, firm_name, is_email_verified
		FROM users WHERE firm_name = $1
		ORDER BY created_at
	`, firmName)
	if err != nil {
		return nil, fmt.Errorf("list firm users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.FirmName, &user.IsEmailVerified); err != nil {
			return nil, fmt.Errorf("scan firm user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate firm users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.FirmName, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("set verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token='', verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_token <> ''
			AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark reset used: %w", err)
	}
	return nil
}

// ---- sessions ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.password_hash, u.role, u.firm_name, u.is_email_verified
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, tokenHash))
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- DDQs ----

func (s *PostgresStore) InsertDDQ(ctx context.Context, ddq DDQ) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ddqs (id, name, allocator_firm, manager_firm, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ddq.ID, ddq.Name, ddq.AllocatorFirm, ddq.ManagerFirm, ddq.Status, ddq.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert ddq: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDDQs(ctx context.Context) ([]DDQ, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, allocator_firm, manager_firm, status, created_by, created_at, updated_at
		FROM ddqs
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list ddqs: %w", err)
	}
	defer rows.Close()

	items := make([]DDQ, 0)
	for rows.Next() {
		var item DDQ
		if err := rows.Scan(&item.ID, &item.Name, &item.AllocatorFirm, &item.ManagerFirm, &item.Status, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan ddq: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ddqs: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDDQ(ctx context.Context, ddqID string) (DDQ, error) {
	var item DDQ
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, allocator_firm, manager_firm, status, created_by, created_at, updated_at
		FROM ddqs WHERE id=$1
	`, ddqID).Scan(&item.ID, &item.Name, &item.AllocatorFirm, &item.ManagerFirm, &item.Status, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return DDQ{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpdateDDQStatus(ctx context.Context, ddqID, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE ddqs SET status=$2, updated_at=NOW() WHERE id=$1`, ddqID, status)
	if err != nil {
		return fmt.Errorf("update ddq status: %w", err)
	}
	return nil
}

// ---- questions ----

func (s *PostgresStore) InsertQuestion(ctx context.Context, q Question) error {
	options, err := json.Marshal(q.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO questions (id, ddq_id, section, text, type, required, options, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, q.ID, q.DDQID, q.Section, q.Text, q.Type, q.Required, options, q.SortOrder)
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListQuestions(ctx context.Context, ddqID string) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ddq_id, section, text, type, required, options, answer, answered_at, sort_order
		FROM questions
		WHERE ddq_id=$1
		ORDER BY sort_order, created_at
	`, ddqID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	items := make([]Question, 0)
	for rows.Next() {
		item, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetQuestion(ctx context.Context, ddqID, questionID string) (Question, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, ddq_id, section, text, type, required, options, answer, answered_at, sort_order
		FROM questions
		WHERE ddq_id=$1 AND id=$2
	`, ddqID, questionID)
	return scanQuestion(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner) (Question, error) {
	var item Question
	var options []byte
	if err := row.Scan(&item.ID, &item.DDQID, &item.Section, &item.Text, &item.Type, &item.Required, &options, &item.Answer, &item.AnsweredAt, &item.SortOrder); err != nil {
		return Question{}, err
	}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &item.Options); err != nil {
			return Question{}, fmt.Errorf("unmarshal question options: %w", err)
		}
	}
	return item, nil
}

func (s *PostgresStore) AnswerQuestion(ctx context.Context, ddqID, questionID, answer string, answeredAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE questions
		SET answer=$3, answered_at=COALESCE(answered_at, $4)
		WHERE ddq_id=$1 AND id=$2
	`, ddqID, questionID, answer, answeredAt)
	if err != nil {
		return false, fmt.Errorf("answer question: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("answer question rows: %w", err)
	}
	return affected > 0, nil
}

// ---- branches ----

func (s *PostgresStore) InsertBranch(ctx context.Context, b Branch) error {
	options, err := json.Marshal(b.Options)
	if err != nil {
		return fmt.Errorf("marshal branch options: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO branches (id, question_id, ddq_id, question, type, options, status, created_by, created_by_role, created_at, reasoning, priority, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1)
	`, b.ID, b.ParentQuestionID, b.DDQID, b.Question, b.Type, options, b.Status, b.CreatedBy, b.CreatedByRole, b.CreatedAt, b.Reasoning, b.Priority)
	if err != nil {
		return fmt.Errorf("insert branch: %w", err)
	}
	return nil
}

const branchColumns = `id, question_id, ddq_id, question, type, options, answer, status, created_by, created_by_role, created_at, answered_by, answered_at, reasoning, priority, version`

func (s *PostgresStore) ListBranches(ctx context.Context, questionID string) ([]Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+branchColumns+`
		FROM branches
		WHERE question_id=$1
		ORDER BY created_at, id
	`, questionID)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	return collectBranches(rows)
}

func (s *PostgresStore) ListBranchesByDDQ(ctx context.Context, ddqID string) ([]Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+branchColumns+`
		FROM branches
		WHERE ddq_id=$1
		ORDER BY created_at, id
	`, ddqID)
	if err != nil {
		return nil, fmt.Errorf("list ddq branches: %w", err)
	}
	return collectBranches(rows)
}

func collectBranches(rows *sql.Rows) ([]Branch, error) {
	defer rows.Close()
	items := make([]Branch, 0)
	for rows.Next() {
		item, err := scanBranch(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate branches: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetBranch(ctx context.Context, ddqID, branchID string) (Branch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+branchColumns+`
		FROM branches
		WHERE ddq_id=$1 AND id=$2
	`, ddqID, branchID)
	return scanBranch(row)
}

func scanBranch(row rowScanner) (Branch, error) {
	var item Branch
	var options []byte
	err := row.Scan(&item.ID, &item.ParentQuestionID, &item.DDQID, &item.Question, &item.Type, &options, &item.Answer, &item.Status, &item.CreatedBy, &item.CreatedByRole, &item.CreatedAt, &item.AnsweredBy, &item.AnsweredAt, &item.Reasoning, &item.Priority, &item.Version)
	if err != nil {
		return Branch{}, err
	}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &item.Options); err != nil {
			return Branch{}, fmt.Errorf("unmarshal branch options: %w", err)
		}
	}
	return item, nil
}

// UpdateBranchAnswer sets the answer and marks the branch answered, guarded by
// the optimistic version. Returns false when the version is stale.
func (s *PostgresStore) UpdateBranchAnswer(ctx context.Context, branchID string, version int, answer, answeredBy string, answeredAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE branches
		SET answer=$3, status=$4, answered_by=$5, answered_at=$6, version=version+1
		WHERE id=$1 AND version=$2
	`, branchID, version, answer, BranchAnswered, answeredBy, answeredAt)
	if err != nil {
		return false, fmt.Errorf("update branch answer: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update branch answer rows: %w", err)
	}
	return affected > 0, nil
}

// UpdateBranchStatus changes only the lifecycle status, preserving any
// existing answer, guarded by the optimistic version.
func (s *PostgresStore) UpdateBranchStatus(ctx context.Context, branchID string, version int, status string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE branches
		SET status=$3, version=version+1
		WHERE id=$1 AND version=$2
	`, branchID, version, status)
	if err != nil {
		return false, fmt.Errorf("update branch status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update branch status rows: %w", err)
	}
	return affected > 0, nil
}

// ---- response bank ----

func (s *PostgresStore) InsertResponseBankEntry(ctx context.Context, entry ResponseBankEntry) error {
	tags, err := json.Marshal(entry.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO response_bank (id, question, answer, tags, question_type, section, firm_id, firm_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			answer = EXCLUDED.answer,
			tags = EXCLUDED.tags,
			updated_at = NOW()
	`, entry.ID, entry.Question, entry.Answer, tags, entry.QuestionType, entry.Section, entry.FirmID, entry.FirmName)
	if err != nil {
		return fmt.Errorf("insert response bank entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListResponseBank(ctx context.Context) ([]ResponseBankEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question, answer, tags, question_type, section, firm_id, firm_name, created_at, updated_at
		FROM response_bank
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list response bank: %w", err)
	}
	defer rows.Close()

	items := make([]ResponseBankEntry, 0)
	for rows.Next() {
		var item ResponseBankEntry
		var tags []byte
		if err := rows.Scan(&item.ID, &item.Question, &item.Answer, &tags, &item.QuestionType, &item.Section, &item.FirmID, &item.FirmName, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan response bank entry: %w", err)
		}
		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &item.Tags); err != nil {
				return nil, fmt.Errorf("unmarshal tags: %w", err)
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate response bank: %w", err)
	}
	return items, nil
}

// IsNotFound reports whether an error is the store's no-rows sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
