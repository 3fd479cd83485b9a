package search

import (
	"context"

	"peertutor/api/internal/logger"
)

type index interface {
	Searcher
	IndexSessions(records []SessionRecord) error
}

type recordLoader interface {
	Searcher
	LoadRecords(ctx context.Context, ids ...string) ([]SessionRecord, error)
}

// Service tries Meilisearch first and falls back to Postgres full-text search.
type Service struct {
	meili index
	pgfts recordLoader
	log   *logger.Logger
}

// NewService creates a search service. meili may be nil when Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS, log *logger.Logger) *Service {
	s := &Service{pgfts: pgfts, log: log.With("component", "Search")}
	if meili != nil {
		s.meili = meili
	}
	return s
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("meilisearch error, falling back to pgfts", "error", err)
	}

	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.log.Error("pgfts search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexSession refreshes one session in Meilisearch in the background.
func (s *Service) IndexSession(sessionID string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		ctx := context.Background()
		records, err := s.pgfts.LoadRecords(ctx, sessionID)
		if err != nil {
			s.log.Warn("load session for index", "sessionId", sessionID, "error", err)
			return
		}
		if err := s.meili.IndexSessions(records); err != nil {
			s.log.Warn("index session", "sessionId", sessionID, "error", err)
		}
	}()
}

// ReindexAll pushes every session from Postgres into Meilisearch and reports how many.
func (s *Service) ReindexAll(ctx context.Context) (int, error) {
	if s.meili == nil || !s.meili.Healthy() {
		return 0, nil
	}
	records, err := s.pgfts.LoadRecords(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.meili.IndexSessions(records); err != nil {
		return 0, err
	}
	return len(records), nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
