package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"peertutor/api/internal/store"
	"peertutor/api/internal/tokenstore"
)

// fakeStore is an in-memory dataStore and tokenStore. One mutex stands in for
// the row locks of the Postgres store, so the same preconditions hold under
// concurrent callers.
type fakeStore struct {
	mu sync.Mutex

	accounts  map[string]store.Account
	profiles  map[string]store.TutorProfile
	reviews   []store.Review
	requests  map[string]store.Request
	sessions  map[string]store.Session
	messages  map[string][]store.Message
	notes     map[string]store.Note
	goals     map[string][]store.Goal
	summaries map[string]store.Summary
	refresh   map[string]store.Account
	revoked   map[string]bool

	clock  time.Time
	pingFn func(context.Context) error
	// saveNoteFn runs before SaveNote takes the lock; an error aborts the save.
	saveNoteFn func(context.Context, store.Note) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:  make(map[string]store.Account),
		profiles:  make(map[string]store.TutorProfile),
		requests:  make(map[string]store.Request),
		sessions:  make(map[string]store.Session),
		messages:  make(map[string][]store.Message),
		notes:     make(map[string]store.Note),
		goals:     make(map[string][]store.Goal),
		summaries: make(map[string]store.Summary),
		refresh:   make(map[string]store.Account),
		revoked:   make(map[string]bool),
		clock:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

// now ticks forward on every call so creation order is total.
func (f *fakeStore) now() time.Time {
	f.clock = f.clock.Add(time.Millisecond)
	return f.clock
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// Accounts

func (f *fakeStore) CreateAccount(_ context.Context, account store.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	account.Email = strings.ToLower(account.Email)
	for _, existing := range f.accounts {
		if existing.Email == account.Email {
			return fmt.Errorf("insert account: %w", store.ErrDuplicate)
		}
	}
	account.CreatedAt = f.now()
	f.accounts[account.ID] = account
	if account.Role == store.RoleTutor {
		f.profiles[account.ID] = store.TutorProfile{ID: account.ID, Name: account.Name, Subjects: []string{}, IsActive: true, UpdatedAt: account.CreatedAt}
	}
	return nil
}

func (f *fakeStore) GetAccountByEmail(_ context.Context, email string) (store.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, account := range f.accounts {
		if account.Email == strings.ToLower(email) {
			return account, nil
		}
	}
	return store.Account{}, store.ErrNotFound
}

func (f *fakeStore) GetAccountByID(_ context.Context, accountID string) (store.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[accountID]
	if !ok {
		return store.Account{}, store.ErrNotFound
	}
	return account, nil
}

// Tokens

func (f *fakeStore) SaveAccountSession(_ context.Context, tokenHash string, account store.Account, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = account
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.refresh[tokenHash]
	if !ok {
		return store.Account{}, tokenstore.ErrTokenNotFound
	}
	return account, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

// Tutors

func copyProfile(profile store.TutorProfile) store.TutorProfile {
	profile.Subjects = append([]string{}, profile.Subjects...)
	return profile
}

func (f *fakeStore) GetTutorProfile(_ context.Context, tutorID string) (store.TutorProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[tutorID]
	if !ok {
		return store.TutorProfile{}, store.ErrNotFound
	}
	return copyProfile(profile), nil
}

func (f *fakeStore) ListActiveTutors(_ context.Context, subject string) ([]store.TutorProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.TutorProfile, 0)
	for _, profile := range f.profiles {
		if !profile.IsActive {
			continue
		}
		if subject != "" && !containsFold(profile.Subjects, subject) {
			continue
		}
		items = append(items, copyProfile(profile))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func containsFold(values []string, want string) bool {
	for _, value := range values {
		if strings.EqualFold(value, want) {
			return true
		}
	}
	return false
}

func (f *fakeStore) UpdateTutorProfile(_ context.Context, tutorID, bio string, subjects []string, isActive bool) (store.TutorProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[tutorID]
	if !ok {
		return store.TutorProfile{}, store.ErrNotFound
	}
	profile.Bio = bio
	profile.Subjects = append([]string{}, subjects...)
	profile.IsActive = isActive
	profile.UpdatedAt = f.now()
	f.profiles[tutorID] = profile
	return copyProfile(profile), nil
}

func (f *fakeStore) ListReviews(_ context.Context, tutorID string) ([]store.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Review, 0)
	for i := len(f.reviews) - 1; i >= 0; i-- {
		if f.reviews[i].TutorID == tutorID {
			items = append(items, f.reviews[i])
		}
	}
	return items, nil
}

// Requests

func (f *fakeStore) CreateRequest(_ context.Context, request store.Request) (store.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.requests {
		if existing.StudentID == request.StudentID && existing.TutorID == request.TutorID && existing.Status == store.RequestPending {
			return store.Request{}, fmt.Errorf("insert request: %w", store.ErrDuplicate)
		}
	}
	request.StudentName = f.accounts[request.StudentID].Name
	request.TutorName = f.accounts[request.TutorID].Name
	request.Status = store.RequestPending
	request.CreatedAt = f.now()
	request.UpdatedAt = request.CreatedAt
	f.requests[request.ID] = request
	return request, nil
}

func (f *fakeStore) GetRequest(_ context.Context, requestID string) (store.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.requests[requestID]
	if !ok {
		return store.Request{}, store.ErrNotFound
	}
	return request, nil
}

func (f *fakeStore) ListRequests(_ context.Context, accountID string) ([]store.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Request, 0)
	for _, request := range f.requests {
		if request.StudentID == accountID || request.TutorID == accountID {
			items = append(items, request)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (f *fakeStore) AcceptRequest(_ context.Context, requestID string, session store.Session) (store.Request, store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.requests[requestID]
	if !ok {
		return store.Request{}, store.Session{}, store.ErrNotFound
	}
	if request.Status != store.RequestPending {
		return store.Request{}, store.Session{}, fmt.Errorf("accept request: %w", store.ErrNotPending)
	}
	session.RequestID = requestID
	session.Status = store.SessionActive
	session.ActiveGoalsPreview = []string{}
	session.CreatedAt = f.now()
	session.UpdatedAt = session.CreatedAt
	f.sessions[session.ID] = session

	request.Status = store.RequestAccepted
	request.SessionID = session.ID
	request.UpdatedAt = session.CreatedAt
	f.requests[requestID] = request
	return request, copySession(session), nil
}

func (f *fakeStore) TransitionRequest(_ context.Context, requestID, from, to string) (store.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.requests[requestID]
	if !ok {
		return store.Request{}, store.ErrNotFound
	}
	if request.Status != from {
		return store.Request{}, fmt.Errorf("transition request: %w", store.ErrNotPending)
	}
	request.Status = to
	request.UpdatedAt = f.now()
	f.requests[requestID] = request
	return request, nil
}

func (f *fakeStore) DeleteRequest(_ context.Context, requestID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.requests[requestID]
	if !ok {
		return store.ErrNotFound
	}
	if request.Status != store.RequestRejected && request.Status != store.RequestCancelled {
		return fmt.Errorf("delete request: %w", store.ErrNotDeletable)
	}
	delete(f.requests, requestID)
	return nil
}

// Sessions

func copySession(session store.Session) store.Session {
	session.ActiveGoalsPreview = append([]string{}, session.ActiveGoalsPreview...)
	return session
}

func (f *fakeStore) GetSession(_ context.Context, sessionID string) (store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return store.Session{}, store.ErrNotFound
	}
	return copySession(session), nil
}

func (f *fakeStore) ListSessions(_ context.Context, accountID, status string) ([]store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Session, 0)
	for _, session := range f.sessions {
		if !session.IsParticipant(accountID) || (status != "" && session.Status != status) {
			continue
		}
		items = append(items, copySession(session))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (f *fakeStore) CloseSession(_ context.Context, sessionID string) (store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return store.Session{}, store.ErrNotFound
	}
	if session.Status != store.SessionActive {
		return store.Session{}, fmt.Errorf("close session: %w", store.ErrSessionClosed)
	}
	closedAt := f.now()
	session.Status = store.SessionClosed
	session.ClosedAt = &closedAt
	session.UpdatedAt = closedAt
	f.sessions[sessionID] = session
	return copySession(session), nil
}

// activeLocked mirrors the status gate every artifact write takes.
func (f *fakeStore) activeLocked(sessionID string) error {
	session, ok := f.sessions[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	if session.Status != store.SessionActive {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrSessionClosed)
	}
	return nil
}

// Messages

func (f *fakeStore) InsertMessage(_ context.Context, message store.Message) (store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.activeLocked(message.SessionID); err != nil {
		return store.Message{}, err
	}
	message.Seq = int64(len(f.messages[message.SessionID]) + 1)
	message.CreatedAt = f.now()
	message.Delivered = true
	message.Seen = false
	f.messages[message.SessionID] = append(f.messages[message.SessionID], message)
	return message, nil
}

func (f *fakeStore) ListMessages(_ context.Context, sessionID string, afterSeq int64) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Message, 0)
	for _, message := range f.messages[sessionID] {
		if message.Seq > afterSeq {
			items = append(items, message)
		}
	}
	return items, nil
}

func (f *fakeStore) MarkSeen(_ context.Context, sessionID, viewerID string, uptoSeq int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0)
	if session, ok := f.sessions[sessionID]; !ok || session.Status != store.SessionActive {
		return ids, nil
	}
	messages := f.messages[sessionID]
	for i := range messages {
		if messages[i].SenderID == viewerID || messages[i].Seen {
			continue
		}
		if uptoSeq != 0 && messages[i].Seq > uptoSeq {
			continue
		}
		messages[i].Seen = true
		ids = append(ids, messages[i].ID)
	}
	return ids, nil
}

// Notes

func (f *fakeStore) GetNote(_ context.Context, sessionID string) (store.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	note, ok := f.notes[sessionID]
	if !ok {
		return store.Note{}, store.ErrNotFound
	}
	return note, nil
}

func (f *fakeStore) SaveNote(ctx context.Context, note store.Note) (store.Note, error) {
	if f.saveNoteFn != nil {
		if err := f.saveNoteFn(ctx, note); err != nil {
			return store.Note{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.activeLocked(note.SessionID); err != nil {
		return store.Note{}, err
	}
	note.UpdatedAt = f.now()
	f.notes[note.SessionID] = note
	return note, nil
}

// Goals

func (f *fakeStore) ListGoals(_ context.Context, sessionID string) ([]store.Goal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Goal{}, f.goals[sessionID]...), nil
}

func (f *fakeStore) refreshPreviewLocked(sessionID string) store.Session {
	session := f.sessions[sessionID]
	session.ActiveGoalsPreview, session.GoalsCount = store.GoalsPreview(f.goals[sessionID])
	session.UpdatedAt = f.now()
	f.sessions[sessionID] = session
	return copySession(session)
}

func (f *fakeStore) InsertGoal(_ context.Context, goal store.Goal) (store.Goal, store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.activeLocked(goal.SessionID); err != nil {
		return store.Goal{}, store.Session{}, err
	}
	goal.CreatedAt = f.now()
	f.goals[goal.SessionID] = append(f.goals[goal.SessionID], goal)
	return goal, f.refreshPreviewLocked(goal.SessionID), nil
}

func (f *fakeStore) SetGoalCompleted(_ context.Context, sessionID, goalID string, completed *bool) (store.Goal, store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.activeLocked(sessionID); err != nil {
		return store.Goal{}, store.Session{}, err
	}
	goals := f.goals[sessionID]
	for i := range goals {
		if goals[i].ID != goalID {
			continue
		}
		target := !goals[i].Completed
		if completed != nil {
			target = *completed
		}
		if target != goals[i].Completed {
			goals[i].Completed = target
			goals[i].CompletedAt = nil
			if target {
				at := f.now()
				goals[i].CompletedAt = &at
			}
		}
		return goals[i], f.refreshPreviewLocked(sessionID), nil
	}
	return store.Goal{}, store.Session{}, store.ErrNotFound
}

// Summary

func (f *fakeStore) GetSummary(_ context.Context, sessionID string) (store.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.summaries[sessionID]
	if !ok {
		return store.Summary{}, store.ErrNotFound
	}
	return item, nil
}

func (f *fakeStore) SaveSummary(_ context.Context, item store.Summary) (store.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[item.SessionID]; !ok {
		return store.Summary{}, store.ErrNotFound
	}
	item.UpdatedAt = f.now()
	f.summaries[item.SessionID] = item
	return item, nil
}

// Reviews

func (f *fakeStore) SubmitReview(_ context.Context, review store.Review) (store.Session, store.TutorProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[review.SessionID]
	if !ok {
		return store.Session{}, store.TutorProfile{}, store.ErrNotFound
	}
	if session.Status != store.SessionClosed {
		return store.Session{}, store.TutorProfile{}, fmt.Errorf("submit review: %w", store.ErrSessionNotClosed)
	}
	if session.HasReview {
		return store.Session{}, store.TutorProfile{}, fmt.Errorf("submit review: %w", store.ErrAlreadyReviewed)
	}
	review.TutorID = session.TutorID
	review.CreatedAt = f.now()
	f.reviews = append(f.reviews, review)

	profile := f.profiles[session.TutorID]
	profile.RatingTotal += review.Rating
	profile.RatingCount++
	f.profiles[session.TutorID] = profile

	rating := review.Rating
	reviewedAt := review.CreatedAt
	session.HasReview = true
	session.ReviewRating = &rating
	session.ReviewText = review.ReviewText
	session.ReviewedAt = &reviewedAt
	f.sessions[session.ID] = session
	return copySession(session), copyProfile(profile), nil
}

func (f *fakeStore) reviewCount(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, review := range f.reviews {
		if review.SessionID == sessionID {
			n++
		}
	}
	return n
}
