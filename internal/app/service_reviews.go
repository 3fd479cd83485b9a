package app

import (
	"context"
	"errors"
	"strings"

	"peertutor/api/internal/rbac"
	"peertutor/api/internal/realtime"
	"peertutor/api/internal/store"
	"peertutor/api/internal/util"
)

type ReviewInput struct {
	Rating int    `json:"rating" validate:"required,min=1,max=5"`
	Text   string `json:"text" validate:"required,min=3,max=2000"`
}

// SubmitReview records the student's single review of a closed session and
// folds its rating into the tutor's totals.
func (s *Service) SubmitReview(ctx context.Context, principal Principal, sessionID string, input ReviewInput) (store.Session, store.TutorProfile, error) {
	input.Text = strings.TrimSpace(input.Text)
	if err := s.validate(input); err != nil {
		return store.Session{}, store.TutorProfile{}, err
	}
	session, err := s.loadSession(ctx, principal, sessionID)
	if err != nil {
		return store.Session{}, store.TutorProfile{}, err
	}
	if err := requireSessionAction(session, principal, rbac.ActionReview); err != nil {
		return store.Session{}, store.TutorProfile{}, err
	}
	if session.Status != store.SessionClosed {
		return store.Session{}, store.TutorProfile{}, errConflict("SESSION_NOT_CLOSED", "Session must be closed before it can be reviewed")
	}
	if session.HasReview {
		return store.Session{}, store.TutorProfile{}, errConflict("ALREADY_REVIEWED", "Session already reviewed")
	}

	updated, profile, err := s.store.SubmitReview(ctx, store.Review{
		ID:         util.NewID("rev"),
		SessionID:  session.ID,
		StudentID:  principal.ID,
		Rating:     input.Rating,
		ReviewText: input.Text,
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyReviewed) {
			return store.Session{}, store.TutorProfile{}, errConflict("ALREADY_REVIEWED", "Session already reviewed")
		}
		return store.Session{}, store.TutorProfile{}, err
	}

	s.publish(ctx,
		realtime.NewEvent(realtime.SessionChannel(updated.ID), realtime.TypeSessionUpdated, updated),
		realtime.NewEvent(realtime.RequestsChannel(updated.StudentID), realtime.TypeSessionUpdated, updated),
		realtime.NewEvent(realtime.RequestsChannel(updated.TutorID), realtime.TypeSessionUpdated, updated),
	)
	return updated, profile, nil
}
