package search

import (
	"context"
	"time"
)

// Result is a single archive search hit.
type Result struct {
	SessionID string    `json:"sessionId"`
	Subject   string    `json:"subject"`
	Status    string    `json:"status"`
	Snippet   string    `json:"snippet"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Query describes a search request. AccountID restricts hits to sessions the
// account took part in.
type Query struct {
	Text      string
	AccountID string
	Limit     int
	Offset    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// SessionRecord is the data indexed for one session.
type SessionRecord struct {
	ID        string `json:"id"`
	StudentID string `json:"studentId"`
	TutorID   string `json:"tutorId"`
	Subject   string `json:"subject"`
	Status    string `json:"status"`
	Notes     string `json:"notes"`
	Summary   string `json:"summary"`
	UpdatedAt int64  `json:"updatedAt"`
}
