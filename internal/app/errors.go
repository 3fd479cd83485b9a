package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"peertutor/api/internal/auth"
	"peertutor/api/internal/authpw"
	"peertutor/api/internal/gitrepo"
	"peertutor/api/internal/store"
	"peertutor/api/internal/tokenstore"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errValidation(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}

func errUnauthorized() *DomainError {
	return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
}

func errForbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func errSessionClosed() *DomainError {
	return domainError(http.StatusForbidden, "SESSION_CLOSED", "Session is closed", nil)
}

func errNotFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func errConflict(code, message string) *DomainError {
	return domainError(http.StatusConflict, code, message, nil)
}

func errUnavailable(message string) *DomainError {
	return domainError(http.StatusServiceUnavailable, "UNAVAILABLE", message, map[string]any{"retryable": true})
}

// mapError folds domain, store and auth errors into an HTTP status and body.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, gitrepo.ErrNoHistory):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrSessionClosed):
		return http.StatusForbidden, "SESSION_CLOSED", "Session is closed", nil
	case errors.Is(err, store.ErrNotPending):
		return http.StatusConflict, "REQUEST_NOT_PENDING", "Request is no longer pending", nil
	case errors.Is(err, store.ErrNotDeletable):
		return http.StatusConflict, "REQUEST_NOT_DELETABLE", "Only rejected or cancelled requests can be deleted", nil
	case errors.Is(err, store.ErrSessionNotClosed):
		return http.StatusConflict, "SESSION_NOT_CLOSED", "Session must be closed first", nil
	case errors.Is(err, store.ErrAlreadyReviewed):
		return http.StatusConflict, "ALREADY_REVIEWED", "Session already reviewed", nil
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, "CONFLICT", "Already exists", nil
	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, authpw.ErrInvalidInput), errors.Is(err, authpw.ErrWeakPassword):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken), errors.Is(err, tokenstore.ErrTokenNotFound):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "UNAVAILABLE", "Temporarily unavailable, try again", map[string]any{"retryable": true}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
