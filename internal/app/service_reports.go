package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"peertutor/api/internal/export"
	"peertutor/api/internal/objectstore"
	"peertutor/api/internal/search"
	"peertutor/api/internal/store"
)

func (s *Service) Search(ctx context.Context, principal Principal, text string, limit, offset int) (search.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	if s.search == nil {
		return search.Response{}, errUnavailable("Search is not configured")
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.search.Search(ctx, search.Query{Text: text, AccountID: principal.ID, Limit: limit, Offset: offset}), nil
}

// ExportedReport is a rendered report, plus its download link when it was archived.
type ExportedReport struct {
	*export.Result
	URL string
}

// ExportSession renders the session report for either participant. With
// archive set the file is also stored and a presigned link returned.
func (s *Service) ExportSession(ctx context.Context, principal Principal, sessionID string, format export.Format, archive bool) (ExportedReport, error) {
	session, err := s.loadSession(ctx, principal, sessionID)
	if err != nil {
		return ExportedReport{}, err
	}
	if s.exporter == nil {
		return ExportedReport{}, errUnavailable("Export is not configured")
	}
	if archive && s.archive == nil {
		return ExportedReport{}, errUnavailable("Report archive is not configured")
	}

	report, err := s.assembleReport(ctx, session)
	if err != nil {
		return ExportedReport{}, err
	}
	result, err := s.exporter.Export(ctx, report, format)
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
			return ExportedReport{}, errUnavailable("Export renderer is not installed")
		}
		return ExportedReport{}, err
	}

	out := ExportedReport{Result: result}
	if archive {
		url, err := s.archive.Put(ctx, objectstore.ReportKey(session.ID, result.Filename, time.Now()), result.MimeType, result.Data)
		if err != nil {
			return ExportedReport{}, err
		}
		out.URL = url
	}
	return out, nil
}

func (s *Service) assembleReport(ctx context.Context, session store.Session) (export.Report, error) {
	var (
		messages []store.Message
		note     store.Note
		goals    []store.Goal
		summary  store.Summary
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		messages, err = s.store.ListMessages(groupCtx, session.ID, 0)
		return err
	})
	group.Go(func() error {
		var err error
		note, err = s.currentNote(groupCtx, session.ID)
		return err
	})
	group.Go(func() error {
		var err error
		goals, err = s.store.ListGoals(groupCtx, session.ID)
		return err
	})
	group.Go(func() error {
		var err error
		summary, err = s.currentSummary(groupCtx, session.ID)
		return err
	})
	if err := group.Wait(); err != nil {
		return export.Report{}, err
	}

	report := export.Report{
		SessionID:   session.ID,
		Subject:     session.Subject,
		Status:      session.Status,
		StudentName: session.StudentName,
		TutorName:   session.TutorName,
		CreatedAt:   session.CreatedAt,
		ClosedAt:    session.ClosedAt,
		Notes:       note.Content,
		Summary:     summary.Content,
		Provider:    summary.Provider,
		Rating:      session.ReviewRating,
		ReviewText:  session.ReviewText,
		Messages:    make([]export.Message, 0, len(messages)),
		Goals:       make([]export.Goal, 0, len(goals)),
	}
	for _, message := range messages {
		sender := session.StudentName
		if message.SenderID == session.TutorID {
			sender = session.TutorName
		}
		report.Messages = append(report.Messages, export.Message{Seq: message.Seq, Sender: sender, Text: message.Text, At: message.CreatedAt})
	}
	for _, goal := range goals {
		report.Goals = append(report.Goals, export.Goal{Text: goal.Text, Completed: goal.Completed})
	}
	return report, nil
}
