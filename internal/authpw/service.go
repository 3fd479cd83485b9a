// Package authpw provides email/password account creation and sign-in.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"peertutor/api/internal/store"
	"peertutor/api/internal/util"
)

var (
	ErrInvalidInput       = errors.New("name, email, password and role are required")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

const minPasswordLength = 8

// AccountStore is the storage the service needs.
type AccountStore interface {
	GetAccountByEmail(ctx context.Context, email string) (store.Account, error)
	CreateAccount(ctx context.Context, account store.Account) error
}

type Service struct {
	store AccountStore
	cost  int
}

func NewService(accounts AccountStore) *Service {
	return &Service{store: accounts, cost: bcrypt.DefaultCost}
}

type SignUpRequest struct {
	Name     string
	Email    string
	Password string
	Role     string
}

// SignUp creates an account. Tutors get an empty, active directory profile.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.Account, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if name == "" || email == "" || req.Password == "" {
		return store.Account{}, ErrInvalidInput
	}
	if req.Role != store.RoleStudent && req.Role != store.RoleTutor {
		return store.Account{}, ErrInvalidInput
	}
	if len(req.Password) < minPasswordLength {
		return store.Account{}, ErrWeakPassword
	}

	if _, err := s.store.GetAccountByEmail(ctx, email); err == nil {
		return store.Account{}, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.Account{}, fmt.Errorf("lookup account: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.Account{}, fmt.Errorf("hash password: %w", err)
	}
	account := store.Account{
		ID:           util.NewID("acc"),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         req.Role,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.Account{}, ErrEmailTaken
		}
		return store.Account{}, fmt.Errorf("create account: %w", err)
	}
	return account, nil
}

// SignIn checks the password and returns the account.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.Account, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return store.Account{}, ErrInvalidCredentials
	}
	account, err := s.store.GetAccountByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return store.Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.Account{}, fmt.Errorf("lookup account: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return store.Account{}, ErrInvalidCredentials
	}
	return account, nil
}
