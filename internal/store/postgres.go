package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
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
	return wrap("ping db", s.db.PingContext(ctx))
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrap("commit tx", err)
	}
	return nil
}

// Accounts

func (s *PostgresStore) CreateAccount(ctx context.Context, account Account) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (id, name, email, password_hash, role)
			VALUES ($1, $2, $3, $4, $5)
		`, account.ID, account.Name, strings.ToLower(account.Email), account.PasswordHash, account.Role); err != nil {
			return wrap("insert account", err)
		}
		if account.Role != RoleTutor {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO tutor_profiles (id) VALUES ($1)`, account.ID); err != nil {
			return wrap("insert tutor profile", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, role, created_at
		FROM accounts WHERE lower(email) = lower($1)
	`, strings.TrimSpace(email)), "get account by email")
}

func (s *PostgresStore) GetAccountByID(ctx context.Context, accountID string) (Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, role, created_at
		FROM accounts WHERE id = $1
	`, accountID), "get account")
}

func scanAccount(row rowScanner, op string) (Account, error) {
	var account Account
	if err := row.Scan(&account.ID, &account.Name, &account.Email, &account.PasswordHash, &account.Role, &account.CreatedAt); err != nil {
		return Account{}, wrap(op, err)
	}
	return account, nil
}

// Tokens

func (s *PostgresStore) SaveAccountSession(ctx context.Context, tokenHash string, account Account, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, account_id, expires_at)
		VALUES ($1, $2, $3)
	`, tokenHash, account.ID, expiresAt)
	return wrap("save refresh session", err)
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `
		SELECT a.id, a.name, a.email, a.password_hash, a.role, a.created_at
		FROM refresh_sessions r
		JOIN accounts a ON a.id = r.account_id
		WHERE r.token_hash = $1 AND r.expires_at > NOW()
	`, tokenHash), "lookup refresh session")
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE token_hash = $1`, tokenHash)
	return wrap("revoke refresh session", err)
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt)
	return wrap("revoke access token", err)
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti = $1)`, jti).Scan(&exists); err != nil {
		return false, wrap("check revoked token", err)
	}
	return exists, nil
}

// Tutor profiles

const tutorColumns = `
	p.id, a.name, p.bio, p.subjects::text, COALESCE(p.is_active, TRUE),
	p.rating_total, p.rating_count, p.updated_at
	FROM tutor_profiles p
	JOIN accounts a ON a.id = p.id`

func scanTutor(row rowScanner) (TutorProfile, error) {
	var (
		profile  TutorProfile
		subjects string
	)
	if err := row.Scan(
		&profile.ID,
		&profile.Name,
		&profile.Bio,
		&subjects,
		&profile.IsActive,
		&profile.RatingTotal,
		&profile.RatingCount,
		&profile.UpdatedAt,
	); err != nil {
		return TutorProfile{}, err
	}
	profile.Subjects = decodeStrings(subjects)
	return profile, nil
}

func (s *PostgresStore) GetTutorProfile(ctx context.Context, tutorID string) (TutorProfile, error) {
	return getTutor(ctx, s.db, tutorID)
}

func getTutor(ctx context.Context, q queryer, tutorID string) (TutorProfile, error) {
	profile, err := scanTutor(q.QueryRowContext(ctx, `SELECT `+tutorColumns+` WHERE p.id = $1`, tutorID))
	if err != nil {
		return TutorProfile{}, wrap("get tutor profile", err)
	}
	return profile, nil
}

func (s *PostgresStore) ListActiveTutors(ctx context.Context, subject string) ([]TutorProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tutorColumns+`
		WHERE COALESCE(p.is_active, TRUE)
		  AND ($1 = '' OR EXISTS (
			SELECT 1 FROM jsonb_array_elements_text(p.subjects) AS subject
			WHERE lower(subject) = lower($1)
		  ))
		ORDER BY a.name ASC, p.id ASC
	`, strings.TrimSpace(subject))
	if err != nil {
		return nil, wrap("list tutors", err)
	}
	defer rows.Close()

	items := make([]TutorProfile, 0)
	for rows.Next() {
		profile, err := scanTutor(rows)
		if err != nil {
			return nil, wrap("scan tutor", err)
		}
		items = append(items, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate tutors", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateTutorProfile(ctx context.Context, tutorID, bio string, subjects []string, isActive bool) (TutorProfile, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tutor_profiles
		SET bio = $2, subjects = $3::jsonb, is_active = $4, updated_at = NOW()
		WHERE id = $1
	`, tutorID, bio, encodeStrings(subjects), isActive)
	if err != nil {
		return TutorProfile{}, wrap("update tutor profile", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return TutorProfile{}, wrap("update tutor profile rows", err)
	} else if affected == 0 {
		return TutorProfile{}, fmt.Errorf("update tutor profile: %w", ErrNotFound)
	}
	return s.GetTutorProfile(ctx, tutorID)
}

func (s *PostgresStore) ListReviews(ctx context.Context, tutorID string) ([]Review, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tutor_id, session_id, student_id, rating, review_text, created_at
		FROM reviews
		WHERE tutor_id = $1
		ORDER BY created_at DESC, id DESC
	`, tutorID)
	if err != nil {
		return nil, wrap("list reviews", err)
	}
	defer rows.Close()

	items := make([]Review, 0)
	for rows.Next() {
		var item Review
		if err := rows.Scan(&item.ID, &item.TutorID, &item.SessionID, &item.StudentID, &item.Rating, &item.ReviewText, &item.CreatedAt); err != nil {
			return nil, wrap("scan review", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate reviews", err)
	}
	return items, nil
}

func encodeStrings(values []string) string {
	if values == nil {
		values = []string{}
	}
	raw, _ := json.Marshal(values)
	return string(raw)
}

// decodeStrings tolerates NULL, malformed and non-array legacy values.
func decodeStrings(raw string) []string {
	out := []string{}
	if strings.TrimSpace(raw) == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return []string{}
	}
	return out
}
