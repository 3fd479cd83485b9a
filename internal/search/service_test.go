package search

import (
	"context"
	"errors"
	"testing"

	"peertutor/api/internal/logger"
)

type fakeIndex struct {
	healthy bool
	results []Result
	err     error
	indexed []SessionRecord
}

func (f *fakeIndex) Healthy() bool { return f.healthy }

func (f *fakeIndex) Search(context.Context, Query) ([]Result, int, error) {
	return f.results, len(f.results), f.err
}

func (f *fakeIndex) IndexSessions(records []SessionRecord) error {
	f.indexed = append(f.indexed, records...)
	return nil
}

type fakeLoader struct {
	results []Result
	records []SessionRecord
	queries []Query
}

func (f *fakeLoader) Healthy() bool { return true }

func (f *fakeLoader) Search(_ context.Context, q Query) ([]Result, int, error) {
	f.queries = append(f.queries, q)
	return f.results, len(f.results), nil
}

func (f *fakeLoader) LoadRecords(context.Context, ...string) ([]SessionRecord, error) {
	return f.records, nil
}

func TestSearchPrefersHealthyMeili(t *testing.T) {
	meili := &fakeIndex{healthy: true, results: []Result{{SessionID: "ses_meili"}}}
	pg := &fakeLoader{results: []Result{{SessionID: "ses_pg"}}}
	svc := &Service{meili: meili, pgfts: pg, log: logger.Nop()}

	resp := svc.Search(context.Background(), Query{Text: "algebra", AccountID: "acc_1"})
	if len(resp.Results) != 1 || resp.Results[0].SessionID != "ses_meili" {
		t.Fatalf("results = %+v", resp.Results)
	}
	if len(pg.queries) != 0 {
		t.Fatal("pgfts should not be queried")
	}
}

func TestSearchFallsBackToPostgres(t *testing.T) {
	cases := map[string]*fakeIndex{
		"unhealthy": {healthy: false},
		"erroring":  {healthy: true, err: errors.New("boom")},
	}
	for name, meili := range cases {
		t.Run(name, func(t *testing.T) {
			pg := &fakeLoader{results: []Result{{SessionID: "ses_pg"}}}
			svc := &Service{meili: meili, pgfts: pg, log: logger.Nop()}
			resp := svc.Search(context.Background(), Query{Text: "algebra", AccountID: "acc_1"})
			if len(resp.Results) != 1 || resp.Results[0].SessionID != "ses_pg" {
				t.Fatalf("results = %+v", resp.Results)
			}
			if pg.queries[0].AccountID != "acc_1" {
				t.Fatal("account filter not forwarded")
			}
		})
	}
}

func TestSearchWithoutMeiliReturnsEmptySlice(t *testing.T) {
	svc := &Service{pgfts: &fakeLoader{}, log: logger.Nop()}
	resp := svc.Search(context.Background(), Query{Text: "x"})
	if resp.Results == nil {
		t.Fatal("results should be an empty slice")
	}
}

func TestReindexAll(t *testing.T) {
	meili := &fakeIndex{healthy: true}
	pg := &fakeLoader{records: []SessionRecord{{ID: "s1"}, {ID: "s2"}}}
	svc := &Service{meili: meili, pgfts: pg, log: logger.Nop()}
	n, err := svc.ReindexAll(context.Background())
	if err != nil || n != 2 || len(meili.indexed) != 2 {
		t.Fatalf("reindex = %d, %v, indexed %d", n, err, len(meili.indexed))
	}

	none := &Service{pgfts: pg, log: logger.Nop()}
	if n, err := none.ReindexAll(context.Background()); n != 0 || err != nil {
		t.Fatalf("reindex without meili = %d, %v", n, err)
	}
}

func TestParticipantFilter(t *testing.T) {
	if got := participantFilter("acc_1"); got != `studentId = "acc_1" OR tutorId = "acc_1"` {
		t.Fatalf("filter = %s", got)
	}
}
