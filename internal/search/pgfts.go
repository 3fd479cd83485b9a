package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

const ftsDocument = `to_tsvector('english', s.subject) ||
	to_tsvector('english', coalesce(n.content, '')) ||
	to_tsvector('english', coalesce(sm.content, ''))`

// Search ranks the account's sessions by subject, notes and summary, with
// ts_headline snippets from the summary or notes.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	from := `
		FROM sessions s
		LEFT JOIN notes n ON n.session_id = s.id
		LEFT JOIN summaries sm ON sm.session_id = s.id
		WHERE (s.student_id = $2 OR s.tutor_id = $2)
		  AND ` + ftsDocument + ` @@ plainto_tsquery('english', $1)`

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*)`+from, q.Text, q.AccountID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT s.id, s.subject, s.status,
			ts_headline('english', coalesce(NULLIF(sm.content, ''), n.content, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30'),
			s.updated_at
		%s
		ORDER BY ts_rank(%s, plainto_tsquery('english', $1)) DESC, s.updated_at DESC
		LIMIT %d OFFSET %d`, from, ftsDocument, limit, offset), q.Text, q.AccountID)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.SessionID, &r.Subject, &r.Status, &r.Snippet, &r.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadRecords returns index documents for the given sessions, or for every
// session when ids is empty.
func (p *PgFTS) LoadRecords(ctx context.Context, ids ...string) ([]SessionRecord, error) {
	if ids == nil {
		ids = []string{}
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT s.id, s.student_id, s.tutor_id, s.subject, s.status,
			coalesce(n.content, ''), coalesce(sm.content, ''), s.updated_at
		FROM sessions s
		LEFT JOIN notes n ON n.session_id = s.id
		LEFT JOIN summaries sm ON sm.session_id = s.id
		WHERE cardinality($1::text[]) = 0 OR s.id = ANY($1::text[])
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	defer rows.Close()

	records := make([]SessionRecord, 0)
	for rows.Next() {
		var (
			r         SessionRecord
			updatedAt time.Time
		)
		if err := rows.Scan(&r.ID, &r.StudentID, &r.TutorID, &r.Subject, &r.Status, &r.Notes, &r.Summary, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan session record: %w", err)
		}
		r.UpdatedAt = updatedAt.Unix()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session records: %w", err)
	}
	return records, nil
}
