package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestWrapClassifiesErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "no rows", err: sql.ErrNoRows, want: ErrNotFound},
		{name: "unique", err: &pgconn.PgError{Code: "23505"}, want: ErrDuplicate},
		{name: "deadline", err: context.DeadlineExceeded, want: ErrUnavailable},
		{name: "conn done", err: sql.ErrConnDone, want: ErrUnavailable},
		{name: "sentinel passthrough", err: ErrSessionClosed, want: ErrSessionClosed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := wrap("op", tc.err)
			if !errors.Is(got, tc.want) {
				t.Fatalf("wrap(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
	if wrap("op", nil) != nil {
		t.Fatal("wrap(nil) should be nil")
	}
}

func TestGoalsPreviewKeepsIncompleteInOrder(t *testing.T) {
	goals := []Goal{
		{ID: "g1", Text: "Factor quadratics"},
		{ID: "g2", Text: "Graph parabolas", Completed: true},
		{ID: "g3", Text: "Word problems"},
	}
	preview, count := GoalsPreview(goals)
	if count != 2 || len(preview) != 2 || preview[0] != "Factor quadratics" || preview[1] != "Word problems" {
		t.Fatalf("GoalsPreview() = %v, %d", preview, count)
	}
	empty, zero := GoalsPreview(nil)
	if zero != 0 || empty == nil {
		t.Fatalf("expected empty non-nil preview, got %v %d", empty, zero)
	}
}

func TestNormalizeSubjects(t *testing.T) {
	got := NormalizeSubjects([]string{" Algebra ", "", "algebra", "Physics"})
	if len(got) != 2 || got[0] != "Algebra" || got[1] != "Physics" {
		t.Fatalf("NormalizeSubjects() = %v", got)
	}
}

func TestAverageRating(t *testing.T) {
	if (TutorProfile{}).AverageRating() != 0 {
		t.Fatal("expected zero average without reviews")
	}
	if got := (TutorProfile{RatingTotal: 9, RatingCount: 2}).AverageRating(); got != 4.5 {
		t.Fatalf("AverageRating() = %v", got)
	}
}
