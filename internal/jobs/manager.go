// Package jobs schedules the periodic repair work that keeps derived data in
// line with its source rows.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"peertutor/api/internal/logger"
	"peertutor/api/internal/store"
)

type Reconciler interface {
	ReconcileRatings(ctx context.Context) ([]store.RatingDrift, error)
	ReconcileGoalPreviews(ctx context.Context) ([]string, error)
}

type Reindexer interface {
	ReindexAll(ctx context.Context) (int, error)
}

// Report is what one reconciliation pass changed.
type Report struct {
	RatingDrift  []store.RatingDrift
	GoalPreviews []string
	Reindexed    int
	FailedTasks  []string
	StartedAt    time.Time
	FinishedAt   time.Time
}

type Manager struct {
	cron       *cron.Cron
	log        *logger.Logger
	reconciler Reconciler
	reindexer  Reindexer
	timeout    time.Duration

	mu   sync.Mutex
	last Report
}

// NewManager builds a scheduler with seconds precision. reindexer may be nil.
func NewManager(log *logger.Logger, reconciler Reconciler, reindexer Reindexer) *Manager {
	return &Manager{
		cron:       cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:        log,
		reconciler: reconciler,
		reindexer:  reindexer,
		timeout:    10 * time.Minute,
	}
}

// Start registers the reconciliation job on schedule and starts the scheduler.
func (m *Manager) Start(schedule string) error {
	_, err := m.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		m.RunOnce(ctx)
	})
	if err != nil {
		return err
	}
	m.cron.Start()
	m.log.Info("cron jobs started", "schedule", schedule)
	return nil
}

// Stop waits for a running job to finish.
func (m *Manager) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.log.Info("cron jobs stopped")
}

// RunOnce performs one reconciliation pass. Each task runs even if an earlier one failed.
func (m *Manager) RunOnce(ctx context.Context) Report {
	report := Report{StartedAt: time.Now().UTC()}
	m.log.Info("cron job started", "job", "reconcile")

	drift, err := m.reconciler.ReconcileRatings(ctx)
	report.RatingDrift = drift
	if err != nil {
		report.FailedTasks = append(report.FailedTasks, "ratings")
		m.log.Error("reconcile ratings failed", "error", err)
	}
	for _, d := range drift {
		m.log.Warn("tutor rating drift repaired",
			"tutor_id", d.TutorID,
			"stored_total", d.StoredTotal,
			"stored_count", d.StoredCount,
			"computed_total", d.ComputedTotal,
			"computed_count", d.ComputedCount,
		)
	}

	previews, err := m.reconciler.ReconcileGoalPreviews(ctx)
	report.GoalPreviews = previews
	if err != nil {
		report.FailedTasks = append(report.FailedTasks, "goal_previews")
		m.log.Error("reconcile goal previews failed", "error", err)
	}
	if len(previews) > 0 {
		m.log.Warn("goal previews repaired", "session_ids", previews)
	}

	if m.reindexer != nil {
		count, err := m.reindexer.ReindexAll(ctx)
		report.Reindexed = count
		if err != nil {
			report.FailedTasks = append(report.FailedTasks, "search_reindex")
			m.log.Warn("search reindex failed", "error", err)
		}
	}

	report.FinishedAt = time.Now().UTC()
	m.mu.Lock()
	m.last = report
	m.mu.Unlock()
	m.log.Info("cron job completed",
		"job", "reconcile",
		"rating_drift", len(report.RatingDrift),
		"goal_previews", len(report.GoalPreviews),
		"reindexed", report.Reindexed,
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	)
	return report
}

// LastReport returns the most recent pass.
func (m *Manager) LastReport() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
