package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SubmitReview records the review, folds it into the tutor aggregate and stamps the
// session in one transaction. A second review for the same session fails with
// ErrAlreadyReviewed.
func (s *PostgresStore) SubmitReview(ctx context.Context, review Review) (Session, TutorProfile, error) {
	var (
		session Session
		profile TutorProfile
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			status    string
			hasReview bool
			tutorID   string
		)
		if err := tx.QueryRowContext(ctx, `
			SELECT status, has_review, tutor_id FROM sessions WHERE id = $1 FOR UPDATE
		`, review.SessionID).Scan(&status, &hasReview, &tutorID); err != nil {
			return wrap("lock session", err)
		}
		if status != SessionClosed {
			return fmt.Errorf("submit review: %w", ErrSessionNotClosed)
		}
		if hasReview {
			return fmt.Errorf("submit review: %w", ErrAlreadyReviewed)
		}
		review.TutorID = tutorID

		if err := tx.QueryRowContext(ctx, `
			INSERT INTO reviews (id, tutor_id, session_id, student_id, rating, review_text)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING created_at
		`, review.ID, review.TutorID, review.SessionID, review.StudentID, review.Rating, review.ReviewText).Scan(&review.CreatedAt); err != nil {
			err = wrap("insert review", err)
			if errors.Is(err, ErrDuplicate) {
				return fmt.Errorf("insert review: %w", ErrAlreadyReviewed)
			}
			return err
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE tutor_profiles
			SET rating_total = rating_total + $2, rating_count = rating_count + 1, updated_at = NOW()
			WHERE id = $1
		`, review.TutorID, review.Rating)
		if err != nil {
			return wrap("update tutor rating", err)
		}
		if affected, err := result.RowsAffected(); err != nil {
			return wrap("update tutor rating rows", err)
		} else if affected != 1 {
			return fmt.Errorf("update tutor rating: %w", ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions
			SET has_review = TRUE, review_rating = $2, review_text = $3, reviewed_at = $4, updated_at = NOW()
			WHERE id = $1
		`, review.SessionID, review.Rating, review.ReviewText, review.CreatedAt); err != nil {
			return wrap("stamp session review", err)
		}

		if session, err = getSession(ctx, tx, review.SessionID); err != nil {
			return err
		}
		profile, err = getTutor(ctx, tx, review.TutorID)
		return err
	})
	if err != nil {
		return Session{}, TutorProfile{}, err
	}
	return session, profile, nil
}

// ReconcileRatings recomputes tutor aggregates whose stored totals disagree with
// their reviews and returns what was corrected.
func (s *PostgresStore) ReconcileRatings(ctx context.Context) ([]RatingDrift, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.rating_total, p.rating_count,
			COALESCE(SUM(r.rating), 0)::int, COUNT(r.id)::int
		FROM tutor_profiles p
		LEFT JOIN reviews r ON r.tutor_id = p.id
		GROUP BY p.id, p.rating_total, p.rating_count
		HAVING p.rating_total <> COALESCE(SUM(r.rating), 0) OR p.rating_count <> COUNT(r.id)
	`)
	if err != nil {
		return nil, wrap("find rating drift", err)
	}
	candidates := make([]string, 0)
	for rows.Next() {
		var drift RatingDrift
		if err := rows.Scan(&drift.TutorID, &drift.StoredTotal, &drift.StoredCount, &drift.ComputedTotal, &drift.ComputedCount); err != nil {
			rows.Close()
			return nil, wrap("scan rating drift", err)
		}
		candidates = append(candidates, drift.TutorID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, wrap("iterate rating drift", err)
	}
	rows.Close()

	fixed := make([]RatingDrift, 0, len(candidates))
	for _, tutorID := range candidates {
		var drift RatingDrift
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			drift = RatingDrift{TutorID: tutorID}
			if err := tx.QueryRowContext(ctx, `
				SELECT rating_total, rating_count FROM tutor_profiles WHERE id = $1 FOR UPDATE
			`, tutorID).Scan(&drift.StoredTotal, &drift.StoredCount); err != nil {
				return wrap("lock tutor profile", err)
			}
			if err := tx.QueryRowContext(ctx, `
				SELECT COALESCE(SUM(rating), 0)::int, COUNT(*)::int FROM reviews WHERE tutor_id = $1
			`, tutorID).Scan(&drift.ComputedTotal, &drift.ComputedCount); err != nil {
				return wrap("sum reviews", err)
			}
			if drift.StoredTotal == drift.ComputedTotal && drift.StoredCount == drift.ComputedCount {
				return nil
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE tutor_profiles SET rating_total = $2, rating_count = $3, updated_at = NOW() WHERE id = $1
			`, tutorID, drift.ComputedTotal, drift.ComputedCount); err != nil {
				return wrap("fix tutor rating", err)
			}
			return nil
		})
		if err != nil {
			return fixed, err
		}
		if drift.StoredTotal != drift.ComputedTotal || drift.StoredCount != drift.ComputedCount {
			fixed = append(fixed, drift)
		}
	}
	return fixed, nil
}

// ReconcileGoalPreviews rewrites session previews that no longer match their goals.
func (s *PostgresStore) ReconcileGoalPreviews(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id
		FROM sessions s
		WHERE s.active_goals_preview <> COALESCE((
			SELECT jsonb_agg(g.text ORDER BY g.created_at, g.id)
			FROM goals g
			WHERE g.session_id = s.id AND NOT g.completed
		), '[]'::jsonb)
		OR s.goals_count <> (
			SELECT COUNT(*) FROM goals g WHERE g.session_id = s.id AND NOT g.completed
		)
	`)
	if err != nil {
		return nil, wrap("find stale previews", err)
	}
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, wrap("scan stale preview", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, wrap("iterate stale previews", err)
	}
	rows.Close()

	fixed := make([]string, 0, len(ids))
	for _, id := range ids {
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `SELECT 1 FROM sessions WHERE id = $1 FOR UPDATE`, id); err != nil {
				return wrap("lock session", err)
			}
			_, err := refreshGoalsPreview(ctx, tx, id)
			return err
		})
		if err != nil {
			return fixed, err
		}
		fixed = append(fixed, id)
	}
	return fixed, nil
}
