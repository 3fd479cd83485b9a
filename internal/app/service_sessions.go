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

func (s *Service) GetSession(ctx context.Context, principal Principal, sessionID string) (store.Session, error) {
	return s.loadSession(ctx, principal, sessionID)
}

func (s *Service) ListSessions(ctx context.Context, principal Principal, status string) ([]store.Session, error) {
	switch status {
	case "", store.SessionActive, store.SessionClosed:
	default:
		return nil, errValidation("Invalid status", map[string]string{"status": "must be one of: active closed"})
	}
	return s.store.ListSessions(ctx, principal.ID, status)
}

// CloseSession ends the session for good. A notes draft submitted before the
// close is persisted first and the close fails if that save does; anything
// arriving later is rejected by the store.
func (s *Service) CloseSession(ctx context.Context, principal Principal, sessionID string) (store.Session, error) {
	session, err := s.loadSession(ctx, principal, sessionID)
	if err != nil {
		return store.Session{}, err
	}
	if err := requireSessionAction(session, principal, rbac.ActionSessionClose); err != nil {
		return store.Session{}, err
	}
	if session.Status != store.SessionActive {
		return store.Session{}, errConflict("SESSION_NOT_ACTIVE", "Session is already closed")
	}

	if _, err := s.drafts.Flush(ctx, sessionID); err != nil {
		s.log.Warn("flush notes before close failed, session left open", "sessionId", sessionID, "error", err)
		return store.Session{}, err
	}

	closed, err := s.store.CloseSession(ctx, sessionID)
	if errors.Is(err, store.ErrSessionClosed) {
		return store.Session{}, errConflict("SESSION_NOT_ACTIVE", "Session is already closed")
	}
	if err != nil {
		return store.Session{}, err
	}
	s.drafts.Discard(sessionID)

	s.publish(ctx,
		realtime.NewEvent(realtime.SessionChannel(closed.ID), realtime.TypeSessionClosed, closed),
		realtime.NewEvent(realtime.RequestsChannel(closed.StudentID), realtime.TypeSessionClosed, closed),
		realtime.NewEvent(realtime.RequestsChannel(closed.TutorID), realtime.TypeSessionClosed, closed),
	)
	s.index(closed.ID)
	return closed, nil
}

// Chat

type SendMessageInput struct {
	Text string `json:"text" validate:"required,notblank,max=4000"`
}

func (s *Service) SendMessage(ctx context.Context, principal Principal, sessionID string, input SendMessageInput) (store.Message, error) {
	if err := s.validate(input); err != nil {
		return store.Message{}, err
	}
	session, err := s.loadSession(ctx, principal, sessionID)
	if err != nil {
		return store.Message{}, err
	}
	if err := requireSessionAction(session, principal, rbac.ActionChat); err != nil {
		return store.Message{}, err
	}
	if err := requireActive(session); err != nil {
		return store.Message{}, err
	}

	message, err := s.store.InsertMessage(ctx, store.Message{
		ID:         util.NewID("msg"),
		SessionID:  session.ID,
		SenderID:   principal.ID,
		SenderRole: session.RoleOf(principal.ID),
		Text:       strings.TrimRight(input.Text, " \t\r\n"),
	})
	if err != nil {
		return store.Message{}, err
	}
	s.publish(ctx, realtime.NewEvent(realtime.SessionTopicChannel(session.ID, realtime.TopicMessages), realtime.TypeMessageCreated, message))
	return message, nil
}

func (s *Service) ListMessages(ctx context.Context, principal Principal, sessionID string, afterSeq int64) ([]store.Message, error) {
	if _, err := s.loadSession(ctx, principal, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, sessionID, afterSeq)
}

// MarkSeen flags the other participant's messages up to uptoSeq (0 = all) as
// seen by principal. Repeats are harmless and nothing is ever un-seen.
func (s *Service) MarkSeen(ctx context.Context, principal Principal, sessionID string, uptoSeq int64) ([]string, error) {
	if _, err := s.loadSession(ctx, principal, sessionID); err != nil {
		return nil, err
	}
	return s.markSeen(ctx, principal.ID, sessionID, uptoSeq)
}

func (s *Service) markSeen(ctx context.Context, viewerID, sessionID string, uptoSeq int64) ([]string, error) {
	ids, err := s.store.MarkSeen(ctx, sessionID, viewerID, uptoSeq)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		s.publish(ctx, realtime.NewEvent(
			realtime.SessionTopicChannel(sessionID, realtime.TopicMessages),
			realtime.TypeMessageSeen,
			map[string]any{"ids": ids, "viewerId": viewerID},
		))
	}
	return ids, nil
}
