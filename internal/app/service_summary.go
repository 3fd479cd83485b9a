package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"peertutor/api/internal/rbac"
	"peertutor/api/internal/realtime"
	"peertutor/api/internal/store"
	"peertutor/api/internal/summary"
)

type SummaryInput struct {
	Content string `json:"content" validate:"max=50000"`
}

func (s *Service) GetSummary(ctx context.Context, principal Principal, sessionID string) (store.Summary, error) {
	if _, err := s.loadSession(ctx, principal, sessionID); err != nil {
		return store.Summary{}, err
	}
	return s.currentSummary(ctx, sessionID)
}

func (s *Service) currentSummary(ctx context.Context, sessionID string) (store.Summary, error) {
	item, err := s.store.GetSummary(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Summary{SessionID: sessionID}, nil
	}
	return item, err
}

// SaveSummary overwrites the summary by hand. It stays editable after close.
func (s *Service) SaveSummary(ctx context.Context, principal Principal, sessionID string, input SummaryInput) (store.Summary, error) {
	if err := s.validate(input); err != nil {
		return store.Summary{}, err
	}
	session, err := s.loadSession(ctx, principal, sessionID)
	if err != nil {
		return store.Summary{}, err
	}
	if err := requireSessionAction(session, principal, rbac.ActionSummaryWrite); err != nil {
		return store.Summary{}, err
	}
	return s.storeSummary(ctx, store.Summary{
		SessionID: sessionID,
		Content:   input.Content,
		Provider:  store.ProviderManual,
		UpdatedBy: principal.ID,
	})
}

// GenerateSummary builds a prompt from the subject, transcript and notes and runs
// it through the provider chain. Provider failures fall through; an error here
// means the chain itself could not produce anything.
func (s *Service) GenerateSummary(ctx context.Context, principal Principal, sessionID string) (store.Summary, error) {
	session, err := s.loadSession(ctx, principal, sessionID)
	if err != nil {
		return store.Summary{}, err
	}
	if err := requireSessionAction(session, principal, rbac.ActionSummaryWrite); err != nil {
		return store.Summary{}, err
	}

	var (
		messages []store.Message
		note     store.Note
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		messages, err = s.store.ListMessages(groupCtx, sessionID, 0)
		return err
	})
	group.Go(func() error {
		var err error
		note, err = s.currentNote(groupCtx, sessionID)
		return err
	})
	if err := group.Wait(); err != nil {
		return store.Summary{}, err
	}

	genCtx, cancel := context.WithTimeout(ctx, s.summaryTimeout())
	defer cancel()

	result, err := s.summaries.Generate(genCtx, summary.BuildPrompt(summary.Input{
		Subject:  session.Subject,
		Messages: messages,
		Notes:    note.Content,
	}))
	if err != nil {
		s.log.Error("summary generation failed", "sessionId", sessionID, "error", err)
		return store.Summary{}, domainError(http.StatusInternalServerError, "SUMMARY_FAILED", "Summary generation failed", nil)
	}

	now := time.Now().UTC()
	return s.storeSummary(ctx, store.Summary{
		SessionID:   sessionID,
		Content:     result.Content,
		Provider:    result.Provider,
		GeneratedAt: &now,
		UpdatedBy:   principal.ID,
	})
}

// summaryTimeout is the budget shared by the remote providers of the chain.
func (s *Service) summaryTimeout() time.Duration {
	if s.cfg.SummaryTimeout <= 0 {
		return 60 * time.Second
	}
	return s.cfg.SummaryTimeout
}

func (s *Service) storeSummary(ctx context.Context, item store.Summary) (store.Summary, error) {
	saved, err := s.store.SaveSummary(ctx, item)
	if err != nil {
		return store.Summary{}, err
	}
	s.publish(ctx, realtime.NewEvent(realtime.SessionTopicChannel(saved.SessionID, realtime.TopicSummary), realtime.TypeSummaryUpdated, saved))
	s.index(saved.SessionID)
	return saved, nil
}
