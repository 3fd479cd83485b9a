package app

import (
	"net/http"
)

func (s *HTTPServer) handleTutors(w http.ResponseWriter, r *http.Request, principal Principal, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		tutors, err := s.service.ListTutors(r.Context(), r.URL.Query().Get("subject"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tutors": tutors})
		return

	case len(parts) == 1 && parts[0] == "me" && r.Method == http.MethodPut:
		var body UpdateProfileInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		profile, err := s.service.UpdateMyProfile(r.Context(), principal, body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
		return

	case len(parts) == 1 && r.Method == http.MethodGet:
		tutorID := parts[0]
		if tutorID == "me" {
			tutorID = principal.ID
		}
		profile, err := s.service.GetTutor(r.Context(), tutorID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
		return

	case len(parts) == 2 && parts[1] == "reviews" && r.Method == http.MethodGet:
		reviews, err := s.service.ListTutorReviews(r.Context(), parts[0])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reviews": reviews})
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleRequests(w http.ResponseWriter, r *http.Request, principal Principal, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			requests, err := s.service.ListRequests(r.Context(), principal)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
			return
		case http.MethodPost:
			var body CreateRequestInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			request, err := s.service.CreateRequest(r.Context(), principal, body)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, request)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 1 && parts[0] == "events" && r.Method == http.MethodGet {
		stream, err := s.service.SubscribeRequests(r.Context(), principal)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		s.serveStream(w, r, stream)
		return
	}

	requestID := parts[0]
	if len(parts) == 1 && r.Method == http.MethodDelete {
		if err := s.service.DeleteRequest(r.Context(), principal, requestID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 2 && r.Method == http.MethodPost {
		switch parts[1] {
		case "accept":
			request, session, err := s.service.AcceptRequest(r.Context(), principal, requestID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"request": request, "session": session})
			return
		case "reject":
			request, err := s.service.RejectRequest(r.Context(), principal, requestID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, request)
			return
		case "cancel":
			request, err := s.service.CancelRequest(r.Context(), principal, requestID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, request)
			return
		}
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}
