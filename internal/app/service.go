package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"peertutor/api/internal/auth"
	"peertutor/api/internal/authpw"
	"peertutor/api/internal/autosave"
	"peertutor/api/internal/config"
	"peertutor/api/internal/email"
	"peertutor/api/internal/export"
	"peertutor/api/internal/logger"
	"peertutor/api/internal/rbac"
	"peertutor/api/internal/realtime"
	"peertutor/api/internal/search"
	"peertutor/api/internal/store"
	"peertutor/api/internal/summary"
	"peertutor/api/internal/util"
	"peertutor/api/internal/validation"
)

// Principal is the authenticated caller every operation acts for.
type Principal struct {
	ID        string
	Name      string
	Role      string
	JTI       string
	ExpiresAt time.Time
}

// AuthSession is the token pair handed out on sign-in and refresh.
type AuthSession struct {
	Token        string
	RefreshToken string
	Principal    Principal
}

type dataStore interface {
	CreateAccount(context.Context, store.Account) error
	GetAccountByEmail(context.Context, string) (store.Account, error)
	GetAccountByID(context.Context, string) (store.Account, error)

	GetTutorProfile(context.Context, string) (store.TutorProfile, error)
	ListActiveTutors(context.Context, string) ([]store.TutorProfile, error)
	UpdateTutorProfile(context.Context, string, string, []string, bool) (store.TutorProfile, error)
	ListReviews(context.Context, string) ([]store.Review, error)

	CreateRequest(context.Context, store.Request) (store.Request, error)
	GetRequest(context.Context, string) (store.Request, error)
	ListRequests(context.Context, string) ([]store.Request, error)
	AcceptRequest(context.Context, string, store.Session) (store.Request, store.Session, error)
	TransitionRequest(context.Context, string, string, string) (store.Request, error)
	DeleteRequest(context.Context, string) error

	GetSession(context.Context, string) (store.Session, error)
	ListSessions(context.Context, string, string) ([]store.Session, error)
	CloseSession(context.Context, string) (store.Session, error)

	InsertMessage(context.Context, store.Message) (store.Message, error)
	ListMessages(context.Context, string, int64) ([]store.Message, error)
	MarkSeen(context.Context, string, string, int64) ([]string, error)

	GetNote(context.Context, string) (store.Note, error)
	SaveNote(context.Context, store.Note) (store.Note, error)

	ListGoals(context.Context, string) ([]store.Goal, error)
	InsertGoal(context.Context, store.Goal) (store.Goal, store.Session, error)
	SetGoalCompleted(context.Context, string, string, *bool) (store.Goal, store.Session, error)

	GetSummary(context.Context, string) (store.Summary, error)
	SaveSummary(context.Context, store.Summary) (store.Summary, error)

	SubmitReview(context.Context, store.Review) (store.Session, store.TutorProfile, error)

	Ping(ctx context.Context) error
}

// tokenStore keeps refresh tokens and access-token revocations. Postgres and
// Redis both implement it.
type tokenStore interface {
	SaveAccountSession(context.Context, string, store.Account, time.Time) error
	LookupRefreshSession(context.Context, string) (store.Account, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type summaryGenerator interface {
	Generate(ctx context.Context, prompt string) (summary.Result, error)
}

type notesHistory interface {
	CommitNotes(sessionID, content, author, message string) (store.CommitInfo, bool, error)
	History(sessionID string, limit int) ([]store.CommitInfo, error)
	ContentAt(sessionID, hash string) (string, store.CommitInfo, error)
}

type sessionSearch interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexSession(sessionID string)
}

type reportExporter interface {
	Export(ctx context.Context, report export.Report, format export.Format) (*export.Result, error)
}

type reportArchive interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

type notifier interface {
	IsConfigured() bool
	SendNewRequest(to string, data email.RequestData) error
	SendRequestAccepted(to string, data email.RequestData) error
	SendRequestRejected(to string, data email.RequestData) error
}

// Deps are the collaborators of a Service. Store is required; every other
// collaborator may be left nil and its feature degrades.
type Deps struct {
	Store     dataStore
	Tokens    tokenStore
	Broker    *realtime.Broker
	Summaries summaryGenerator
	History   notesHistory
	Search    sessionSearch
	Exporter  reportExporter
	Archive   reportArchive
	Mailer    notifier
	Log       *logger.Logger
}

type noteDraft struct {
	Content    string
	AuthorID   string
	AuthorName string
}

type Service struct {
	cfg       config.Config
	store     dataStore
	tokens    tokenStore
	passwords *authpw.Service
	validator *validation.Validator
	broker    *realtime.Broker
	summaries summaryGenerator
	history   notesHistory
	search    sessionSearch
	exporter  reportExporter
	archive   reportArchive
	mailer    notifier
	log       *logger.Logger
	drafts    *autosave.Debouncer[noteDraft]
	bg        sync.WaitGroup
}

func New(cfg config.Config, deps Deps) *Service {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	tokens := deps.Tokens
	if tokens == nil {
		if fallback, ok := deps.Store.(tokenStore); ok {
			tokens = fallback
		}
	}
	broker := deps.Broker
	if broker == nil {
		broker = realtime.NewBroker(log, realtime.NewHub(log), nil)
	}
	generator := deps.Summaries
	if generator == nil {
		generator = summary.NewChain(log, summary.NewLocal())
	}
	s := &Service{
		cfg:       cfg,
		store:     deps.Store,
		tokens:    tokens,
		passwords: authpw.NewService(deps.Store),
		validator: validation.NewValidator(),
		broker:    broker,
		summaries: generator,
		history:   deps.History,
		search:    deps.Search,
		exporter:  deps.Exporter,
		archive:   deps.Archive,
		mailer:    deps.Mailer,
		log:       log.With("component", "Service"),
	}
	delay := cfg.NotesDebounce
	if delay <= 0 {
		delay = 800 * time.Millisecond
	}
	s.drafts = autosave.New(delay, s.saveDraft, log)
	return s
}

func (s *Service) Broker() *realtime.Broker {
	return s.broker
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Shutdown persists pending note drafts and waits for background work.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.drafts.Stop(ctx)
	done := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// Auth

type SignUpInput struct {
	Name     string `json:"name" validate:"required,notblank,max=120"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	Role     string `json:"role" validate:"required,oneof=student tutor"`
}

func (s *Service) SignUp(ctx context.Context, input SignUpInput) (store.Account, error) {
	if err := s.validate(input); err != nil {
		return store.Account{}, err
	}
	return s.passwords.SignUp(ctx, authpw.SignUpRequest{
		Name:     input.Name,
		Email:    input.Email,
		Password: input.Password,
		Role:     input.Role,
	})
}

func (s *Service) SignIn(ctx context.Context, emailAddress, password string) (AuthSession, error) {
	account, err := s.passwords.SignIn(ctx, emailAddress, password)
	if err != nil {
		return AuthSession{}, err
	}
	return s.issueSession(ctx, account)
}

// Refresh rotates a refresh token: the presented token is revoked and a new pair issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (AuthSession, error) {
	if s.tokens == nil {
		return AuthSession{}, errUnavailable("Token store not configured")
	}
	tokenHash := auth.HashToken(refreshToken)
	account, err := s.tokens.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return AuthSession{}, err
	}
	if err := s.tokens.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return AuthSession{}, err
	}
	return s.issueSession(ctx, account)
}

func (s *Service) issueSession(ctx context.Context, account store.Account) (AuthSession, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  account.ID,
		Name: account.Name,
		Role: account.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return AuthSession{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if s.tokens != nil {
		if err := s.tokens.SaveAccountSession(ctx, auth.HashToken(refresh), account, now.Add(s.cfg.RefreshTTL)); err != nil {
			return AuthSession{}, err
		}
	}

	return AuthSession{
		Token:        token,
		RefreshToken: refresh,
		Principal: Principal{
			ID:        account.ID,
			Name:      account.Name,
			Role:      account.Role,
			JTI:       jti,
			ExpiresAt: expiresAt,
		},
	}, nil
}

func (s *Service) PrincipalFromToken(ctx context.Context, token string) (Principal, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Principal{}, err
	}
	if s.tokens != nil {
		revoked, err := s.tokens.IsAccessTokenRevoked(ctx, claims.JTI)
		if err != nil {
			return Principal{}, err
		}
		if revoked {
			return Principal{}, auth.ErrInvalidToken
		}
	}
	if !rbac.Valid(claims.Role) {
		return Principal{}, auth.ErrInvalidToken
	}
	return Principal{
		ID:        claims.Sub,
		Name:      claims.Name,
		Role:      claims.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, principal Principal, refreshToken string) error {
	if s.tokens == nil {
		return nil
	}
	var errs []error
	if principal.JTI != "" {
		errs = append(errs, s.tokens.RevokeAccessToken(ctx, principal.JTI, principal.ExpiresAt))
	}
	if refreshToken != "" {
		errs = append(errs, s.tokens.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)))
	}
	return errors.Join(errs...)
}

// helpers

func (s *Service) validate(input any) error {
	if err := s.validator.ValidateStruct(input); err != nil {
		return errValidation("Invalid input", validation.FormatValidationErrors(err))
	}
	return nil
}

func (s *Service) publish(ctx context.Context, events ...realtime.Event) {
	s.broker.Publish(ctx, events...)
}

func (s *Service) index(sessionID string) {
	if s.search != nil {
		s.search.IndexSession(sessionID)
	}
}

// background runs fn after the response; Shutdown waits for it.
func (s *Service) background(name string, fn func() error) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		if err := fn(); err != nil {
			s.log.Warn("background task failed", "task", name, "error", err)
		}
	}()
}

// loadSession reads the session and requires the principal to take part in it.
func (s *Service) loadSession(ctx context.Context, principal Principal, sessionID string) (store.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return store.Session{}, err
	}
	if !session.IsParticipant(principal.ID) {
		return store.Session{}, errForbidden("Not a participant of this session")
	}
	return session, nil
}

// requireSessionAction checks the principal holds action in this session under
// the role they play in it.
func requireSessionAction(session store.Session, principal Principal, action rbac.Action) error {
	role := session.RoleOf(principal.ID)
	if role == "" || role != principal.Role || !rbac.Can(rbac.Role(role), action) {
		return errForbidden(fmt.Sprintf("Not allowed to %s", strings.ReplaceAll(string(action), ":", " ")))
	}
	return nil
}

func requireActive(session store.Session) error {
	if session.Status != store.SessionActive {
		return errSessionClosed()
	}
	return nil
}
