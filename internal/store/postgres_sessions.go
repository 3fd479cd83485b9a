package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const sessionFields = `
	id, request_id, student_id, student_name, tutor_id, tutor_name, subject, status,
	active_goals_preview::text, goals_count, has_review, review_rating, COALESCE(review_text, ''),
	reviewed_at, created_at, closed_at, updated_at`

const sessionColumns = sessionFields + ` FROM sessions`

func scanSession(row rowScanner) (Session, error) {
	var (
		item       Session
		preview    string
		rating     sql.NullInt64
		reviewedAt sql.NullTime
		closedAt   sql.NullTime
	)
	if err := row.Scan(
		&item.ID,
		&item.RequestID,
		&item.StudentID,
		&item.StudentName,
		&item.TutorID,
		&item.TutorName,
		&item.Subject,
		&item.Status,
		&preview,
		&item.GoalsCount,
		&item.HasReview,
		&rating,
		&item.ReviewText,
		&reviewedAt,
		&item.CreatedAt,
		&closedAt,
		&item.UpdatedAt,
	); err != nil {
		return Session{}, err
	}
	item.ActiveGoalsPreview = decodeStrings(preview)
	if rating.Valid {
		value := int(rating.Int64)
		item.ReviewRating = &value
	}
	if reviewedAt.Valid {
		item.ReviewedAt = &reviewedAt.Time
	}
	if closedAt.Valid {
		item.ClosedAt = &closedAt.Time
	}
	return item, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	return getSession(ctx, s.db, sessionID)
}

func getSession(ctx context.Context, q queryer, sessionID string) (Session, error) {
	item, err := scanSession(q.QueryRowContext(ctx, `SELECT `+sessionColumns+` WHERE id = $1`, sessionID))
	if err != nil {
		return Session{}, wrap("get session", err)
	}
	return item, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, accountID, status string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		WHERE (student_id = $1 OR tutor_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
	`, accountID, status)
	if err != nil {
		return nil, wrap("list sessions", err)
	}
	defer rows.Close()

	items := make([]Session, 0)
	for rows.Next() {
		item, err := scanSession(rows)
		if err != nil {
			return nil, wrap("scan session", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate sessions", err)
	}
	return items, nil
}

func (s *PostgresStore) CloseSession(ctx context.Context, sessionID string) (Session, error) {
	item, err := scanSession(s.db.QueryRowContext(ctx, `
		UPDATE sessions
		SET status = 'closed', closed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING `+sessionFields, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.GetSession(ctx, sessionID); err != nil {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("close session: %w", ErrSessionClosed)
	}
	if err != nil {
		return Session{}, wrap("close session", err)
	}
	return item, nil
}

// lockActiveSession re-reads the session status inside tx. FOR SHARE is enough for
// rows that only reference the session; FOR UPDATE is taken when the session row
// itself is rewritten in the same transaction.
func lockActiveSession(ctx context.Context, tx *sql.Tx, sessionID string, forUpdate bool) error {
	query := `SELECT status FROM sessions WHERE id = $1 FOR SHARE`
	if forUpdate {
		query = `SELECT status FROM sessions WHERE id = $1 FOR UPDATE`
	}
	var status string
	if err := tx.QueryRowContext(ctx, query, sessionID).Scan(&status); err != nil {
		return wrap("lock session", err)
	}
	if status != SessionActive {
		return fmt.Errorf("lock session: %w", ErrSessionClosed)
	}
	return nil
}

// Chat

// InsertMessage assigns the next per-session sequence number and appends the message.
// The sequence bump doubles as the active-status check and row lock.
func (s *PostgresStore) InsertMessage(ctx context.Context, message Message) (Message, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE sessions SET message_seq = message_seq + 1
			WHERE id = $1 AND status = 'active'
			RETURNING message_seq
		`, message.SessionID).Scan(&message.Seq)
		if errors.Is(err, sql.ErrNoRows) {
			if _, err := getSession(ctx, tx, message.SessionID); err != nil {
				return err
			}
			return fmt.Errorf("insert message: %w", ErrSessionClosed)
		}
		if err != nil {
			return wrap("next message seq", err)
		}

		message.Delivered = true
		message.Seen = false
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO messages (id, session_id, seq, sender_id, sender_role, text, delivered, seen)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE, FALSE)
			RETURNING created_at
		`, message.ID, message.SessionID, message.Seq, message.SenderID, message.SenderRole, message.Text).Scan(&message.CreatedAt); err != nil {
			return wrap("insert message", err)
		}
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	return message, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, sessionID string, afterSeq int64) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, seq, sender_id, COALESCE(NULLIF(sender_role, ''), 'user'), COALESCE(text, ''),
			created_at, delivered, seen
		FROM messages
		WHERE session_id = $1 AND seq > $2
		ORDER BY seq ASC
	`, sessionID, afterSeq)
	if err != nil {
		return nil, wrap("list messages", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		var item Message
		if err := rows.Scan(&item.ID, &item.SessionID, &item.Seq, &item.SenderID, &item.SenderRole, &item.Text, &item.CreatedAt, &item.Delivered, &item.Seen); err != nil {
			return nil, wrap("scan message", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate messages", err)
	}
	return items, nil
}

// MarkSeen flips seen for messages the viewer did not send, up to uptoSeq (0 = all).
// It is a no-op once the session is closed and never clears seen.
func (s *PostgresStore) MarkSeen(ctx context.Context, sessionID, viewerID string, uptoSeq int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE messages m
		SET seen = TRUE
		FROM sessions s
		WHERE m.session_id = $1
		  AND s.id = m.session_id
		  AND s.status = 'active'
		  AND m.sender_id <> $2
		  AND m.seen = FALSE
		  AND ($3 = 0 OR m.seq <= $3)
		RETURNING m.id
	`, sessionID, viewerID, uptoSeq)
	if err != nil {
		return nil, wrap("mark seen", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("scan seen id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate seen ids", err)
	}
	return ids, nil
}

// Notes

func (s *PostgresStore) GetNote(ctx context.Context, sessionID string) (Note, error) {
	var note Note
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, content, updated_at, updated_by FROM notes WHERE session_id = $1
	`, sessionID).Scan(&note.SessionID, &note.Content, &note.UpdatedAt, &note.UpdatedBy)
	if err != nil {
		return Note{}, wrap("get note", err)
	}
	return note, nil
}

func (s *PostgresStore) SaveNote(ctx context.Context, note Note) (Note, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockActiveSession(ctx, tx, note.SessionID, false); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO notes (session_id, content, updated_at, updated_by)
			VALUES ($1, $2, NOW(), $3)
			ON CONFLICT (session_id) DO UPDATE
			SET content = EXCLUDED.content, updated_at = EXCLUDED.updated_at, updated_by = EXCLUDED.updated_by
			RETURNING updated_at
		`, note.SessionID, note.Content, note.UpdatedBy).Scan(&note.UpdatedAt); err != nil {
			return wrap("save note", err)
		}
		return nil
	})
	if err != nil {
		return Note{}, err
	}
	return note, nil
}

// Goals

func (s *PostgresStore) ListGoals(ctx context.Context, sessionID string) ([]Goal, error) {
	return listGoals(ctx, s.db, sessionID)
}

func listGoals(ctx context.Context, q queryer, sessionID string) ([]Goal, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, session_id, text, completed, created_at, completed_at
		FROM goals
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, wrap("list goals", err)
	}
	defer rows.Close()

	items := make([]Goal, 0)
	for rows.Next() {
		item, err := scanGoal(rows)
		if err != nil {
			return nil, wrap("scan goal", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate goals", err)
	}
	return items, nil
}

func scanGoal(row rowScanner) (Goal, error) {
	var (
		item        Goal
		completedAt sql.NullTime
	)
	if err := row.Scan(&item.ID, &item.SessionID, &item.Text, &item.Completed, &item.CreatedAt, &completedAt); err != nil {
		return Goal{}, err
	}
	if completedAt.Valid {
		item.CompletedAt = &completedAt.Time
	}
	return item, nil
}

func (s *PostgresStore) InsertGoal(ctx context.Context, goal Goal) (Goal, Session, error) {
	var session Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockActiveSession(ctx, tx, goal.SessionID, true); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO goals (id, session_id, text, completed)
			VALUES ($1, $2, $3, FALSE)
			RETURNING created_at
		`, goal.ID, goal.SessionID, goal.Text).Scan(&goal.CreatedAt); err != nil {
			return wrap("insert goal", err)
		}
		goal.Completed = false
		goal.CompletedAt = nil

		var err error
		session, err = refreshGoalsPreview(ctx, tx, goal.SessionID)
		return err
	})
	if err != nil {
		return Goal{}, Session{}, err
	}
	return goal, session, nil
}

// SetGoalCompleted sets completed to *completed, or flips it when completed is nil.
// completedAt is stamped only on the transition to completed.
func (s *PostgresStore) SetGoalCompleted(ctx context.Context, sessionID, goalID string, completed *bool) (Goal, Session, error) {
	var (
		goal    Goal
		session Session
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockActiveSession(ctx, tx, sessionID, true); err != nil {
			return err
		}
		var current bool
		if err := tx.QueryRowContext(ctx, `
			SELECT completed FROM goals WHERE id = $1 AND session_id = $2 FOR UPDATE
		`, goalID, sessionID).Scan(&current); err != nil {
			return wrap("lock goal", err)
		}
		target := !current
		if completed != nil {
			target = *completed
		}
		if target != current {
			if _, err := tx.ExecContext(ctx, `
				UPDATE goals
				SET completed = $3, completed_at = CASE WHEN $3 THEN NOW() ELSE NULL END
				WHERE id = $1 AND session_id = $2
			`, goalID, sessionID, target); err != nil {
				return wrap("update goal", err)
			}
		}

		var err error
		goal, err = scanGoal(tx.QueryRowContext(ctx, `
			SELECT id, session_id, text, completed, created_at, completed_at FROM goals WHERE id = $1
		`, goalID))
		if err != nil {
			return wrap("reload goal", err)
		}
		session, err = refreshGoalsPreview(ctx, tx, sessionID)
		return err
	})
	if err != nil {
		return Goal{}, Session{}, err
	}
	return goal, session, nil
}

func refreshGoalsPreview(ctx context.Context, tx *sql.Tx, sessionID string) (Session, error) {
	goals, err := listGoals(ctx, tx, sessionID)
	if err != nil {
		return Session{}, err
	}
	preview, count := GoalsPreview(goals)
	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET active_goals_preview = $2::jsonb, goals_count = $3, updated_at = NOW()
		WHERE id = $1
	`, sessionID, encodeStrings(preview), count); err != nil {
		return Session{}, wrap("update goals preview", err)
	}
	return getSession(ctx, tx, sessionID)
}

// Summary

func (s *PostgresStore) GetSummary(ctx context.Context, sessionID string) (Summary, error) {
	var (
		item        Summary
		generatedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, content, provider, generated_at, updated_at, updated_by
		FROM summaries WHERE session_id = $1
	`, sessionID).Scan(&item.SessionID, &item.Content, &item.Provider, &generatedAt, &item.UpdatedAt, &item.UpdatedBy)
	if err != nil {
		return Summary{}, wrap("get summary", err)
	}
	if generatedAt.Valid {
		item.GeneratedAt = &generatedAt.Time
	}
	return item, nil
}

func (s *PostgresStore) SaveSummary(ctx context.Context, summary Summary) (Summary, error) {
	var generatedAt any
	if summary.GeneratedAt != nil {
		generatedAt = *summary.GeneratedAt
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO summaries (session_id, content, provider, generated_at, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, NOW(), $5)
		ON CONFLICT (session_id) DO UPDATE
		SET content = EXCLUDED.content,
			provider = EXCLUDED.provider,
			generated_at = EXCLUDED.generated_at,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
		RETURNING updated_at
	`, summary.SessionID, summary.Content, summary.Provider, generatedAt, summary.UpdatedBy).Scan(&summary.UpdatedAt)
	if err != nil {
		return Summary{}, wrap("save summary", err)
	}
	return summary, nil
}
