package app

import (
	"net/http"
	"strings"
	"time"

	"peertutor/api/internal/export"
	"peertutor/api/internal/realtime"
)

func (s *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request, principal Principal, parts []string) {
	ctx := r.Context()
	if len(parts) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		sessions, err := s.service.ListSessions(ctx, principal, r.URL.Query().Get("status"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
		return
	}

	sessionID := parts[0]
	route := strings.Join(parts[1:], "/")

	switch {
	case route == "" && r.Method == http.MethodGet:
		session, err := s.service.GetSession(ctx, principal, sessionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
		return

	case route == "close" && r.Method == http.MethodPost:
		session, err := s.service.CloseSession(ctx, principal, sessionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
		return

	case route == "messages" && r.Method == http.MethodGet:
		messages, err := s.service.ListMessages(ctx, principal, sessionID, queryInt64(r.URL.Query().Get("after")))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
		return

	case route == "messages" && r.Method == http.MethodPost:
		var body SendMessageInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		message, err := s.service.SendMessage(ctx, principal, sessionID, body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, message)
		return

	case route == "messages/seen" && r.Method == http.MethodPost:
		var body struct {
			UptoSeq int64 `json:"uptoSeq"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		ids, err := s.service.MarkSeen(ctx, principal, sessionID, body.UptoSeq)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"seen": ids})
		return

	case route == "notes" && r.Method == http.MethodGet:
		note, err := s.service.GetNotes(ctx, principal, sessionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, note)
		return

	case route == "notes" && r.Method == http.MethodPut:
		var body NotesInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		note, err := s.service.SaveNotes(ctx, principal, sessionID, body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, note)
		return

	case route == "notes/draft" && r.Method == http.MethodPost:
		var body NotesInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.DraftNotes(ctx, principal, sessionID, body); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
		return

	case route == "notes/flush" && r.Method == http.MethodPost:
		flushed, err := s.service.FlushNotes(ctx, principal, sessionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"flushed": flushed})
		return

	case route == "notes/history" && r.Method == http.MethodGet:
		limit := queryInt(r.URL.Query().Get("limit"))
		commits, err := s.service.NotesHistory(ctx, principal, sessionID, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
		return

	case len(parts) == 4 && parts[1] == "notes" && parts[2] == "history" && r.Method == http.MethodGet:
		revision, err := s.service.NotesRevision(ctx, principal, sessionID, parts[3])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, revision)
		return

	case route == "goals" && r.Method == http.MethodGet:
		goals, err := s.service.ListGoals(ctx, principal, sessionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"goals": goals})
		return

	case route == "goals" && r.Method == http.MethodPost:
		var body AddGoalInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		goal, session, err := s.service.AddGoal(ctx, principal, sessionID, body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"goal": goal, "session": session})
		return

	case len(parts) == 4 && parts[1] == "goals" && parts[3] == "toggle" && r.Method == http.MethodPost:
		var body ToggleGoalInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		goal, session, err := s.service.ToggleGoal(ctx, principal, sessionID, parts[2], body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"goal": goal, "session": session})
		return

	case route == "summary" && r.Method == http.MethodGet:
		item, err := s.service.GetSummary(ctx, principal, sessionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
		return

	case route == "summary" && r.Method == http.MethodPut:
		var body SummaryInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.SaveSummary(ctx, principal, sessionID, body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
		return

	case route == "summary/generate" && r.Method == http.MethodPost:
		s.extendWriteDeadline(w, s.service.summaryTimeout())
		item, err := s.service.GenerateSummary(ctx, principal, sessionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
		return

	case route == "review" && r.Method == http.MethodPost:
		var body ReviewInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, profile, err := s.service.SubmitReview(ctx, principal, sessionID, body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"session": session, "tutor": tutorView(profile)})
		return

	case route == "export" && r.Method == http.MethodGet:
		query := r.URL.Query()
		format, ok := export.ParseFormat(query.Get("format"))
		if !ok {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "format must be 'pdf' or 'docx'", nil)
			return
		}
		result, err := s.service.ExportSession(ctx, principal, sessionID, format, query.Get("archive") == "true")
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if result.URL != "" {
			writeJSON(w, http.StatusOK, map[string]any{"url": result.URL, "filename": result.Filename})
			return
		}
		w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
		w.Header().Set("Content-Type", result.MimeType)
		_, _ = w.Write(result.Data)
		return

	case route == "events" && r.Method == http.MethodGet:
		stream, err := s.service.SubscribeSession(ctx, principal, sessionID, realtime.ParseTopics(r.URL.Query().Get("topics")))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		s.serveStream(w, r, stream)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleSummaryGenerate serves POST /summary-generate {sessionId}.
func (s *HTTPServer) handleSummaryGenerate(w http.ResponseWriter, r *http.Request, principal Principal) {
	var body struct {
		SessionID string `json:"sessionId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	sessionID := strings.TrimSpace(body.SessionID)
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Missing sessionId", nil)
		return
	}
	s.extendWriteDeadline(w, s.service.summaryTimeout())
	item, err := s.service.GenerateSummary(r.Context(), principal, sessionID)
	if err != nil {
		status, code, message, details := mapError(err)
		if status == http.StatusNotFound {
			message = "Session not found"
		}
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "provider": item.Provider})
}

// extendWriteDeadline lets a handler outlive the server write timeout by budget
// plus a margin for persisting and writing the response.
func (s *HTTPServer) extendWriteDeadline(w http.ResponseWriter, budget time.Duration) {
	deadline := time.Now().Add(budget + 15*time.Second)
	if err := http.NewResponseController(w).SetWriteDeadline(deadline); err != nil {
		s.log.Debug("extend write deadline", "error", err)
	}
}

// serveStream hands the response to the hub until the client goes away. The
// server write timeout would otherwise cut long-lived streams.
func (s *HTTPServer) serveStream(w http.ResponseWriter, r *http.Request, stream Stream) {
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		s.log.Debug("clear stream write deadline", "error", err)
	}
	hub := s.service.Broker().Hub()
	defer hub.CloseClient(stream.Client)
	hub.ServeHTTP(w, r, stream.Client, stream.Initial, stream.Handle)
}
