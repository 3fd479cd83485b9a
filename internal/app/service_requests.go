package app

import (
	"context"
	"errors"
	"strings"

	"peertutor/api/internal/email"
	"peertutor/api/internal/rbac"
	"peertutor/api/internal/realtime"
	"peertutor/api/internal/store"
	"peertutor/api/internal/util"
)

type CreateRequestInput struct {
	TutorID string `json:"tutorId" validate:"required,notblank"`
	Subject string `json:"subject" validate:"required,notblank,max=120"`
	Message string `json:"message" validate:"max=2000"`
}

func (s *Service) CreateRequest(ctx context.Context, principal Principal, input CreateRequestInput) (store.Request, error) {
	if !rbac.Can(rbac.Normalize(principal.Role), rbac.ActionRequestCreate) {
		return store.Request{}, errForbidden("Only students can request sessions")
	}
	input.Subject = strings.TrimSpace(input.Subject)
	input.Message = strings.TrimSpace(input.Message)
	if err := s.validate(input); err != nil {
		return store.Request{}, err
	}

	tutor, err := s.store.GetTutorProfile(ctx, input.TutorID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Request{}, errNotFound("Tutor not found")
	}
	if err != nil {
		return store.Request{}, err
	}
	if !tutor.IsActive {
		return store.Request{}, errConflict("TUTOR_INACTIVE", "Tutor is not accepting requests")
	}

	request, err := s.store.CreateRequest(ctx, store.Request{
		ID:        util.NewID("req"),
		StudentID: principal.ID,
		TutorID:   tutor.ID,
		Subject:   input.Subject,
		Message:   input.Message,
	})
	if errors.Is(err, store.ErrDuplicate) {
		return store.Request{}, errConflict("REQUEST_EXISTS", "A pending request to this tutor already exists")
	}
	if err != nil {
		return store.Request{}, err
	}

	s.publishRequest(ctx, realtime.TypeRequestCreated, request, request)
	s.notifyRequest(request.TutorID, email.RequestData{
		RecipientName: request.TutorName,
		StudentName:   request.StudentName,
		TutorName:     request.TutorName,
		Subject:       request.Subject,
		Message:       request.Message,
	}, "new_request")
	return request, nil
}

func (s *Service) ListRequests(ctx context.Context, principal Principal) ([]store.Request, error) {
	return s.store.ListRequests(ctx, principal.ID)
}

// loadRequest reads the request and requires the principal to be its student
// or tutor, as given by side.
func (s *Service) loadRequest(ctx context.Context, principal Principal, requestID, side string) (store.Request, error) {
	request, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return store.Request{}, err
	}
	switch side {
	case store.RoleTutor:
		if request.TutorID != principal.ID || principal.Role != store.RoleTutor {
			return store.Request{}, errForbidden("Only the requested tutor can decide")
		}
	case store.RoleStudent:
		if request.StudentID != principal.ID || principal.Role != store.RoleStudent {
			return store.Request{}, errForbidden("Only the requesting student can cancel")
		}
	default:
		if request.StudentID != principal.ID && request.TutorID != principal.ID {
			return store.Request{}, errForbidden("Not a party to this request")
		}
	}
	return request, nil
}

// AcceptRequest turns a pending request into an active session. Concurrent
// accepts race on the request row; exactly one wins and the rest conflict.
func (s *Service) AcceptRequest(ctx context.Context, principal Principal, requestID string) (store.Request, store.Session, error) {
	if !rbac.Can(rbac.Normalize(principal.Role), rbac.ActionRequestDecide) {
		return store.Request{}, store.Session{}, errForbidden("Only tutors can accept requests")
	}
	request, err := s.loadRequest(ctx, principal, requestID, store.RoleTutor)
	if err != nil {
		return store.Request{}, store.Session{}, err
	}
	if request.Status != store.RequestPending {
		return store.Request{}, store.Session{}, store.ErrNotPending
	}

	request, session, err := s.store.AcceptRequest(ctx, request.ID, store.Session{
		ID:          util.NewID("ses"),
		StudentID:   request.StudentID,
		StudentName: request.StudentName,
		TutorID:     request.TutorID,
		TutorName:   request.TutorName,
		Subject:     request.Subject,
	})
	if err != nil {
		return store.Request{}, store.Session{}, err
	}

	s.publishRequest(ctx, realtime.TypeRequestUpdated, request, request)
	s.publish(ctx,
		realtime.NewEvent(realtime.RequestsChannel(session.StudentID), realtime.TypeSessionCreated, session),
		realtime.NewEvent(realtime.RequestsChannel(session.TutorID), realtime.TypeSessionCreated, session),
	)
	s.index(session.ID)
	s.notifyRequest(request.StudentID, email.RequestData{
		RecipientName: request.StudentName,
		StudentName:   request.StudentName,
		TutorName:     request.TutorName,
		Subject:       request.Subject,
	}, "request_accepted")
	return request, session, nil
}

func (s *Service) RejectRequest(ctx context.Context, principal Principal, requestID string) (store.Request, error) {
	if !rbac.Can(rbac.Normalize(principal.Role), rbac.ActionRequestDecide) {
		return store.Request{}, errForbidden("Only tutors can reject requests")
	}
	request, err := s.loadRequest(ctx, principal, requestID, store.RoleTutor)
	if err != nil {
		return store.Request{}, err
	}
	request, err = s.store.TransitionRequest(ctx, request.ID, store.RequestPending, store.RequestRejected)
	if err != nil {
		return store.Request{}, err
	}
	s.publishRequest(ctx, realtime.TypeRequestUpdated, request, request)
	s.notifyRequest(request.StudentID, email.RequestData{
		RecipientName: request.StudentName,
		StudentName:   request.StudentName,
		TutorName:     request.TutorName,
		Subject:       request.Subject,
	}, "request_rejected")
	return request, nil
}

func (s *Service) CancelRequest(ctx context.Context, principal Principal, requestID string) (store.Request, error) {
	if !rbac.Can(rbac.Normalize(principal.Role), rbac.ActionRequestCancel) {
		return store.Request{}, errForbidden("Only students can cancel requests")
	}
	request, err := s.loadRequest(ctx, principal, requestID, store.RoleStudent)
	if err != nil {
		return store.Request{}, err
	}
	request, err = s.store.TransitionRequest(ctx, request.ID, store.RequestPending, store.RequestCancelled)
	if err != nil {
		return store.Request{}, err
	}
	s.publishRequest(ctx, realtime.TypeRequestUpdated, request, request)
	return request, nil
}

// DeleteRequest removes a rejected or cancelled request; either party may do it.
func (s *Service) DeleteRequest(ctx context.Context, principal Principal, requestID string) error {
	request, err := s.loadRequest(ctx, principal, requestID, "")
	if err != nil {
		return err
	}
	if err := s.store.DeleteRequest(ctx, request.ID); err != nil {
		return err
	}
	s.publishRequest(ctx, realtime.TypeRequestDeleted, request, map[string]string{"id": request.ID})
	return nil
}

// publishRequest tells both parties' request feeds about a change.
func (s *Service) publishRequest(ctx context.Context, eventType string, request store.Request, data any) {
	s.publish(ctx,
		realtime.NewEvent(realtime.RequestsChannel(request.StudentID), eventType, data),
		realtime.NewEvent(realtime.RequestsChannel(request.TutorID), eventType, data),
	)
}

// notifyRequest emails recipientID in the background when a mailer is configured.
func (s *Service) notifyRequest(recipientID string, data email.RequestData, kind string) {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return
	}
	s.background("email:"+kind, func() error {
		ctx := context.Background()
		account, err := s.store.GetAccountByID(ctx, recipientID)
		if err != nil {
			return err
		}
		switch kind {
		case "new_request":
			return s.mailer.SendNewRequest(account.Email, data)
		case "request_accepted":
			return s.mailer.SendRequestAccepted(account.Email, data)
		default:
			return s.mailer.SendRequestRejected(account.Email, data)
		}
	})
}
