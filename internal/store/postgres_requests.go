package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const requestColumns = `
	r.id, r.student_id, sa.name, r.tutor_id, ta.name, r.subject, r.message, r.status,
	COALESCE(r.session_id, ''), r.created_at, r.updated_at
	FROM requests r
	JOIN accounts sa ON sa.id = r.student_id
	JOIN accounts ta ON ta.id = r.tutor_id`

func scanRequest(row rowScanner) (Request, error) {
	var item Request
	err := row.Scan(
		&item.ID,
		&item.StudentID,
		&item.StudentName,
		&item.TutorID,
		&item.TutorName,
		&item.Subject,
		&item.Message,
		&item.Status,
		&item.SessionID,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) CreateRequest(ctx context.Context, request Request) (Request, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (id, student_id, tutor_id, subject, message, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
	`, request.ID, request.StudentID, request.TutorID, request.Subject, request.Message); err != nil {
		return Request{}, wrap("insert request", err)
	}
	return s.GetRequest(ctx, request.ID)
}

func (s *PostgresStore) GetRequest(ctx context.Context, requestID string) (Request, error) {
	return getRequest(ctx, s.db, requestID)
}

func getRequest(ctx context.Context, q queryer, requestID string) (Request, error) {
	item, err := scanRequest(q.QueryRowContext(ctx, `SELECT `+requestColumns+` WHERE r.id = $1`, requestID))
	if err != nil {
		return Request{}, wrap("get request", err)
	}
	return item, nil
}

func (s *PostgresStore) ListRequests(ctx context.Context, accountID string) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		WHERE r.student_id = $1 OR r.tutor_id = $1
		ORDER BY r.created_at DESC, r.id DESC
	`, accountID)
	if err != nil {
		return nil, wrap("list requests", err)
	}
	defer rows.Close()

	items := make([]Request, 0)
	for rows.Next() {
		item, err := scanRequest(rows)
		if err != nil {
			return nil, wrap("scan request", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate requests", err)
	}
	return items, nil
}

// AcceptRequest creates the session and links it to the request in one transaction.
// The request row is locked first so a concurrent accept observes the new status.
func (s *PostgresStore) AcceptRequest(ctx context.Context, requestID string, session Session) (Request, Session, error) {
	var (
		request Request
		created Session
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM requests WHERE id = $1 FOR UPDATE`, requestID).Scan(&status); err != nil {
			return wrap("lock request", err)
		}
		if status != RequestPending {
			return fmt.Errorf("accept request: %w", ErrNotPending)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, request_id, student_id, student_name, tutor_id, tutor_name, subject, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'active')
		`, session.ID, requestID, session.StudentID, session.StudentName, session.TutorID, session.TutorName, session.Subject); err != nil {
			if errors.Is(wrap("", err), ErrDuplicate) {
				return fmt.Errorf("insert session: %w", ErrNotPending)
			}
			return wrap("insert session", err)
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE requests
			SET status = 'accepted', session_id = $2, updated_at = NOW()
			WHERE id = $1 AND status = 'pending'
		`, requestID, session.ID)
		if err != nil {
			return wrap("update request", err)
		}
		if affected, err := result.RowsAffected(); err != nil {
			return wrap("update request rows", err)
		} else if affected != 1 {
			return fmt.Errorf("update request: %w", ErrNotPending)
		}

		if request, err = getRequest(ctx, tx, requestID); err != nil {
			return err
		}
		created, err = getSession(ctx, tx, session.ID)
		return err
	})
	if err != nil {
		return Request{}, Session{}, err
	}
	return request, created, nil
}

// TransitionRequest moves a request from one status to another, failing with
// ErrNotPending when the request is no longer in the expected status.
func (s *PostgresStore) TransitionRequest(ctx context.Context, requestID, from, to string) (Request, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE requests SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, requestID, from, to)
	if err != nil {
		return Request{}, wrap("transition request", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Request{}, wrap("transition request rows", err)
	}
	if affected == 0 {
		if _, err := s.GetRequest(ctx, requestID); err != nil {
			return Request{}, err
		}
		return Request{}, fmt.Errorf("transition request: %w", ErrNotPending)
	}
	return s.GetRequest(ctx, requestID)
}

func (s *PostgresStore) DeleteRequest(ctx context.Context, requestID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM requests WHERE id = $1 AND status IN ('rejected', 'cancelled')
	`, requestID)
	if err != nil {
		return wrap("delete request", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return wrap("delete request rows", err)
	}
	if affected == 0 {
		if _, err := s.GetRequest(ctx, requestID); err != nil {
			return err
		}
		return fmt.Errorf("delete request: %w", ErrNotDeletable)
	}
	return nil
}
