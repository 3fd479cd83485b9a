package app

import (
	"context"

	"peertutor/api/internal/rbac"
	"peertutor/api/internal/realtime"
	"peertutor/api/internal/store"
	"peertutor/api/internal/util"
)

type AddGoalInput struct {
	Text string `json:"text" validate:"required,notblank,max=280"`
}

// ToggleGoalInput carries the desired state. Without it the goal flips; with it
// a replayed toggle is idempotent.
type ToggleGoalInput struct {
	Completed *bool `json:"completed"`
}

func (s *Service) ListGoals(ctx context.Context, principal Principal, sessionID string) ([]store.Goal, error) {
	if _, err := s.loadSession(ctx, principal, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListGoals(ctx, sessionID)
}

func (s *Service) authorizeGoalsWrite(ctx context.Context, principal Principal, sessionID string) (store.Session, error) {
	session, err := s.loadSession(ctx, principal, sessionID)
	if err != nil {
		return store.Session{}, err
	}
	if err := requireSessionAction(session, principal, rbac.ActionGoalsWrite); err != nil {
		return store.Session{}, err
	}
	if err := requireActive(session); err != nil {
		return store.Session{}, err
	}
	return session, nil
}

func (s *Service) AddGoal(ctx context.Context, principal Principal, sessionID string, input AddGoalInput) (store.Goal, store.Session, error) {
	if err := s.validate(input); err != nil {
		return store.Goal{}, store.Session{}, err
	}
	if _, err := s.authorizeGoalsWrite(ctx, principal, sessionID); err != nil {
		return store.Goal{}, store.Session{}, err
	}
	goal, session, err := s.store.InsertGoal(ctx, store.Goal{
		ID:        util.NewID("goal"),
		SessionID: sessionID,
		Text:      input.Text,
	})
	if err != nil {
		return store.Goal{}, store.Session{}, err
	}
	s.publishGoal(ctx, realtime.TypeGoalCreated, goal, session)
	return goal, session, nil
}

func (s *Service) ToggleGoal(ctx context.Context, principal Principal, sessionID, goalID string, input ToggleGoalInput) (store.Goal, store.Session, error) {
	if _, err := s.authorizeGoalsWrite(ctx, principal, sessionID); err != nil {
		return store.Goal{}, store.Session{}, err
	}
	goal, session, err := s.store.SetGoalCompleted(ctx, sessionID, goalID, input.Completed)
	if err != nil {
		return store.Goal{}, store.Session{}, err
	}
	s.publishGoal(ctx, realtime.TypeGoalUpdated, goal, session)
	return goal, session, nil
}

// publishGoal announces the goal and the session's refreshed preview.
func (s *Service) publishGoal(ctx context.Context, eventType string, goal store.Goal, session store.Session) {
	s.publish(ctx,
		realtime.NewEvent(realtime.SessionTopicChannel(session.ID, realtime.TopicGoals), eventType, goal),
		realtime.NewEvent(realtime.SessionChannel(session.ID), realtime.TypeSessionUpdated, session),
		realtime.NewEvent(realtime.RequestsChannel(session.StudentID), realtime.TypeSessionUpdated, session),
		realtime.NewEvent(realtime.RequestsChannel(session.TutorID), realtime.TypeSessionUpdated, session),
	)
}
