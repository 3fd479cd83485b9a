package app

import (
	"context"
	"errors"
	"fmt"

	"peertutor/api/internal/rbac"
	"peertutor/api/internal/realtime"
	"peertutor/api/internal/store"
)

type NotesInput struct {
	Content string `json:"content" validate:"max=100000"`
}

func (s *Service) GetNotes(ctx context.Context, principal Principal, sessionID string) (store.Note, error) {
	if _, err := s.loadSession(ctx, principal, sessionID); err != nil {
		return store.Note{}, err
	}
	return s.currentNote(ctx, sessionID)
}

// currentNote returns the saved notes, or an empty note when none exist yet.
func (s *Service) currentNote(ctx context.Context, sessionID string) (store.Note, error) {
	note, err := s.store.GetNote(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Note{SessionID: sessionID}, nil
	}
	return note, err
}

func (s *Service) authorizeNotesWrite(ctx context.Context, principal Principal, sessionID string, input NotesInput) (store.Session, error) {
	if err := s.validate(input); err != nil {
		return store.Session{}, err
	}
	session, err := s.loadSession(ctx, principal, sessionID)
	if err != nil {
		return store.Session{}, err
	}
	if err := requireSessionAction(session, principal, rbac.ActionNotesWrite); err != nil {
		return store.Session{}, err
	}
	if err := requireActive(session); err != nil {
		return store.Session{}, err
	}
	return session, nil
}

// SaveNotes persists content immediately, superseding any pending draft. It is
// ordered after a draft save already in flight, so that draft cannot land on top.
func (s *Service) SaveNotes(ctx context.Context, principal Principal, sessionID string, input NotesInput) (store.Note, error) {
	if _, err := s.authorizeNotesWrite(ctx, principal, sessionID, input); err != nil {
		return store.Note{}, err
	}
	var note store.Note
	err := s.drafts.SaveNow(ctx, sessionID, func(ctx context.Context) error {
		var err error
		note, err = s.persistNote(ctx, sessionID, noteDraft{Content: input.Content, AuthorID: principal.ID, AuthorName: principal.Name})
		return err
	})
	if err != nil {
		return store.Note{}, err
	}
	return note, nil
}

// DraftNotes schedules a debounced save. Rapid drafts coalesce into one write
// of the latest content.
func (s *Service) DraftNotes(ctx context.Context, principal Principal, sessionID string, input NotesInput) error {
	if _, err := s.authorizeNotesWrite(ctx, principal, sessionID, input); err != nil {
		return err
	}
	if !s.drafts.Schedule(sessionID, noteDraft{Content: input.Content, AuthorID: principal.ID, AuthorName: principal.Name}) {
		return errUnavailable("Server is shutting down")
	}
	return nil
}

// FlushNotes persists a pending draft now, e.g. when the editor disconnects.
// It reports whether there was anything to save.
func (s *Service) FlushNotes(ctx context.Context, principal Principal, sessionID string) (bool, error) {
	session, err := s.loadSession(ctx, principal, sessionID)
	if err != nil {
		return false, err
	}
	if err := requireSessionAction(session, principal, rbac.ActionNotesWrite); err != nil {
		return false, err
	}
	return s.drafts.Flush(ctx, sessionID)
}

func (s *Service) saveDraft(ctx context.Context, sessionID string, draft noteDraft) error {
	_, err := s.persistNote(ctx, sessionID, draft)
	return err
}

func (s *Service) persistNote(ctx context.Context, sessionID string, draft noteDraft) (store.Note, error) {
	note, err := s.store.SaveNote(ctx, store.Note{
		SessionID: sessionID,
		Content:   draft.Content,
		UpdatedBy: draft.AuthorID,
	})
	if err != nil {
		return store.Note{}, err
	}
	s.publish(ctx, realtime.NewEvent(realtime.SessionTopicChannel(sessionID, realtime.TopicNotes), realtime.TypeNotesUpdated, note))
	if s.history != nil {
		if _, _, err := s.history.CommitNotes(sessionID, note.Content, draft.AuthorName, "Update notes"); err != nil {
			s.log.Warn("notes history commit failed", "sessionId", sessionID, "error", err)
		}
	}
	s.index(sessionID)
	return note, nil
}

func (s *Service) NotesHistory(ctx context.Context, principal Principal, sessionID string, limit int) ([]store.CommitInfo, error) {
	if _, err := s.loadSession(ctx, principal, sessionID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []store.CommitInfo{}, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.history.History(sessionID, limit)
}

type NotesRevision struct {
	Commit  store.CommitInfo `json:"commit"`
	Content string           `json:"content"`
}

func (s *Service) NotesRevision(ctx context.Context, principal Principal, sessionID, hash string) (NotesRevision, error) {
	if _, err := s.loadSession(ctx, principal, sessionID); err != nil {
		return NotesRevision{}, err
	}
	if s.history == nil {
		return NotesRevision{}, errNotFound("Notes history is not enabled")
	}
	content, commit, err := s.history.ContentAt(sessionID, hash)
	if err != nil {
		return NotesRevision{}, fmt.Errorf("notes revision %s: %w", hash, err)
	}
	return NotesRevision{Commit: commit, Content: content}, nil
}
