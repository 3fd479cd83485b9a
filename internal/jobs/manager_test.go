package jobs

import (
	"context"
	"errors"
	"testing"

	"peertutor/api/internal/logger"
	"peertutor/api/internal/store"
)

type fakeReconciler struct {
	drift      []store.RatingDrift
	ratingsErr error
	previews   []string
	calls      int
}

func (f *fakeReconciler) ReconcileRatings(context.Context) ([]store.RatingDrift, error) {
	f.calls++
	return f.drift, f.ratingsErr
}

func (f *fakeReconciler) ReconcileGoalPreviews(context.Context) ([]string, error) {
	f.calls++
	return f.previews, nil
}

type fakeReindexer struct{ count int }

func (f fakeReindexer) ReindexAll(context.Context) (int, error) { return f.count, nil }

func TestRunOnceRunsEveryTask(t *testing.T) {
	reconciler := &fakeReconciler{
		drift:      []store.RatingDrift{{TutorID: "acc_t", StoredTotal: 40, StoredCount: 1, ComputedTotal: 4, ComputedCount: 1}},
		ratingsErr: errors.New("deadlock detected"),
		previews:   []string{"ses_1"},
	}
	manager := NewManager(logger.Nop(), reconciler, fakeReindexer{count: 3})

	report := manager.RunOnce(context.Background())
	if reconciler.calls != 2 {
		t.Fatalf("reconciler calls = %d, want 2", reconciler.calls)
	}
	if len(report.RatingDrift) != 1 || len(report.GoalPreviews) != 1 || report.Reindexed != 3 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(report.FailedTasks) != 1 || report.FailedTasks[0] != "ratings" {
		t.Fatalf("failed tasks = %v", report.FailedTasks)
	}
	if last := manager.LastReport(); last.Reindexed != 3 {
		t.Fatalf("LastReport() = %+v", last)
	}
}

func TestRunOnceWithoutReindexer(t *testing.T) {
	manager := NewManager(logger.Nop(), &fakeReconciler{}, nil)
	if report := manager.RunOnce(context.Background()); len(report.FailedTasks) != 0 {
		t.Fatalf("failed tasks = %v", report.FailedTasks)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	manager := NewManager(logger.Nop(), &fakeReconciler{}, nil)
	if err := manager.Start("not a schedule"); err == nil {
		t.Fatal("expected schedule parse error")
	}
}
