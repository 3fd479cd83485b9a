package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"peertutor/api/internal/logger"
	"peertutor/api/internal/store"
	"peertutor/api/internal/summary"
)

func (f *fixture) token(t *testing.T, principal Principal) string {
	t.Helper()
	account, err := f.store.GetAccountByID(context.Background(), principal.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	session, err := f.svc.issueSession(context.Background(), account)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return session.Token
}

func doJSON(t *testing.T, handler http.Handler, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	payload := map[string]any{}
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") && rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
		}
	}
	return rr, payload
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, Deps{})
	server := NewHTTPServer(f.svc, "*", logger.Nop())

	rr, payload := doJSON(t, server.Handler(), http.MethodGet, "/api/health", "", "")
	if rr.Code != http.StatusOK || payload["ok"] != true {
		t.Fatalf("health = %d %v", rr.Code, payload)
	}
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected CORS origin=*, got %v", origin)
	}
	if cache := rr.Header().Get("Cache-Control"); cache != "no-store" {
		t.Errorf("expected Cache-Control=no-store, got %v", cache)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Errorf("expected a request id")
	}

	rr, _ = doJSON(t, server.Handler(), http.MethodOptions, "/api/sessions", "", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for OPTIONS, got %d", rr.Code)
	}
}

func TestReadyEndpointReportsDatabase(t *testing.T) {
	f := newFixture(t, Deps{})
	server := NewHTTPServer(f.svc, "*", logger.Nop())

	rr, payload := doJSON(t, server.Handler(), http.MethodGet, "/api/ready", "", "")
	if rr.Code != http.StatusOK || payload["status"] != "ready" {
		t.Fatalf("ready = %d %v", rr.Code, payload)
	}

	f.store.pingFn = func(context.Context) error { return errors.New("connection refused") }
	rr, payload = doJSON(t, server.Handler(), http.MethodGet, "/api/ready", "", "")
	if rr.Code != http.StatusServiceUnavailable || payload["status"] != "not_ready" {
		t.Fatalf("not ready = %d %v", rr.Code, payload)
	}
	checks, _ := payload["checks"].(map[string]any)
	database, _ := checks["database"].(map[string]any)
	if database["error"] != "connection refused" {
		t.Fatalf("database check = %v", database)
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	f := newFixture(t, Deps{})
	server := NewHTTPServer(f.svc, "*", logger.Nop())

	for _, token := range []string{"", "definitely-not-a-token"} {
		rr, payload := doJSON(t, server.Handler(), http.MethodGet, "/api/sessions", token, "")
		if rr.Code != http.StatusUnauthorized || payload["code"] != "UNAUTHORIZED" {
			t.Fatalf("token %q: %d %v", token, rr.Code, payload)
		}
	}

	// The query parameter token is only honoured on event streams.
	rr, _ := doJSON(t, server.Handler(), http.MethodGet, "/api/sessions?access_token="+f.token(t, f.student), "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("query token on plain route = %d", rr.Code)
	}
}

func TestSignUpSignInContract(t *testing.T) {
	f := newFixture(t, Deps{})
	server := NewHTTPServer(f.svc, "*", logger.Nop())

	rr, payload := doJSON(t, server.Handler(), http.MethodPost, "/api/auth/signup", "",
		`{"name":"Ada","email":"ada@example.com","password":"correct horse","role":"student"}`)
	if rr.Code != http.StatusCreated || payload["role"] != "student" {
		t.Fatalf("signup = %d %v", rr.Code, payload)
	}

	rr, payload = doJSON(t, server.Handler(), http.MethodPost, "/api/auth/signup", "", `{"name":`)
	if rr.Code != http.StatusBadRequest || payload["code"] != "INVALID_BODY" {
		t.Fatalf("bad body = %d %v", rr.Code, payload)
	}

	rr, payload = doJSON(t, server.Handler(), http.MethodPost, "/api/auth/signin", "", `{"email":"ada@example.com","password":"wrong password"}`)
	if rr.Code != http.StatusUnauthorized || payload["code"] != "INVALID_CREDENTIALS" {
		t.Fatalf("bad signin = %d %v", rr.Code, payload)
	}

	rr, payload = doJSON(t, server.Handler(), http.MethodPost, "/api/auth/signin", "", `{"email":"ADA@example.com","password":"correct horse"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("signin = %d %v", rr.Code, payload)
	}
	token, _ := payload["token"].(string)
	if token == "" || payload["refreshToken"] == "" || payload["name"] != "Ada" {
		t.Fatalf("signin payload = %v", payload)
	}

	rr, payload = doJSON(t, server.Handler(), http.MethodGet, "/api/session", token, "")
	if rr.Code != http.StatusOK || payload["authenticated"] != true || payload["role"] != "student" {
		t.Fatalf("session = %d %v", rr.Code, payload)
	}
}

func TestSummaryGenerateContract(t *testing.T) {
	f := newFixture(t, Deps{})
	server := NewHTTPServer(f.svc, "*", logger.Nop())
	session := f.openSession(t, "Algebra")
	tutorToken := f.token(t, f.tutor)

	cases := []struct {
		name     string
		token    string
		body     string
		status   int
		wantCode string
	}{
		{name: "unauthenticated", token: "", body: `{"sessionId":"` + session.ID + `"}`, status: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "missing id", token: tutorToken, body: `{}`, status: http.StatusBadRequest, wantCode: "VALIDATION_ERROR"},
		{name: "blank id", token: tutorToken, body: `{"sessionId":"  "}`, status: http.StatusBadRequest, wantCode: "VALIDATION_ERROR"},
		{name: "unknown session", token: tutorToken, body: `{"sessionId":"ses_missing"}`, status: http.StatusNotFound, wantCode: "NOT_FOUND"},
		{name: "student", token: f.token(t, f.student), body: `{"sessionId":"` + session.ID + `"}`, status: http.StatusForbidden, wantCode: "FORBIDDEN"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr, payload := doJSON(t, server.Handler(), http.MethodPost, "/summary-generate", tc.token, tc.body)
			if rr.Code != tc.status || payload["code"] != tc.wantCode {
				t.Fatalf("got %d %v", rr.Code, payload)
			}
		})
	}

	rr, payload := doJSON(t, server.Handler(), http.MethodPost, "/summary-generate", tutorToken, `{"sessionId":"`+session.ID+`"}`)
	if rr.Code != http.StatusOK || payload["success"] != true || payload["provider"] != store.ProviderLocal {
		t.Fatalf("generate = %d %v", rr.Code, payload)
	}
	if _, payload := doJSON(t, server.Handler(), http.MethodPost, "/summary-generate", tutorToken, `{}`); payload["error"] != "Missing sessionId" {
		t.Fatalf("missing id message = %v", payload["error"])
	}
}

func TestSummaryGenerateChainFailure(t *testing.T) {
	f := newFixture(t, Deps{Summaries: summary.NewChain(logger.Nop(), failingProvider{name: store.ProviderOpenAI}, failingProvider{name: store.ProviderClaude})})
	server := NewHTTPServer(f.svc, "*", logger.Nop())
	session := f.openSession(t, "Algebra")

	rr, payload := doJSON(t, server.Handler(), http.MethodPost, "/summary-generate", f.token(t, f.tutor), `{"sessionId":"`+session.ID+`"}`)
	if rr.Code != http.StatusInternalServerError || payload["code"] != "SUMMARY_FAILED" {
		t.Fatalf("generate = %d %v", rr.Code, payload)
	}
}

func TestSessionRoutesLifecycle(t *testing.T) {
	f := newFixture(t, Deps{})
	server := NewHTTPServer(f.svc, "*", logger.Nop())
	handler := server.Handler()
	studentToken := f.token(t, f.student)
	tutorToken := f.token(t, f.tutor)

	rr, payload := doJSON(t, handler, http.MethodPost, "/api/requests", studentToken, `{"tutorId":"`+f.tutor.ID+`","subject":"Calculus"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create request = %d %v", rr.Code, payload)
	}
	requestID, _ := payload["id"].(string)

	rr, payload = doJSON(t, handler, http.MethodPost, "/api/requests/"+requestID+"/accept", studentToken, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("student accept = %d %v", rr.Code, payload)
	}
	rr, payload = doJSON(t, handler, http.MethodPost, "/api/requests/"+requestID+"/accept", tutorToken, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("accept = %d %v", rr.Code, payload)
	}
	session, _ := payload["session"].(map[string]any)
	sessionID, _ := session["id"].(string)
	rr, payload = doJSON(t, handler, http.MethodPost, "/api/requests/"+requestID+"/accept", tutorToken, "")
	if rr.Code != http.StatusConflict || payload["code"] != "REQUEST_NOT_PENDING" {
		t.Fatalf("second accept = %d %v", rr.Code, payload)
	}

	base := "/api/sessions/" + sessionID
	if rr, payload = doJSON(t, handler, http.MethodPost, base+"/goals", tutorToken, `{"text":"Limits"}`); rr.Code != http.StatusCreated {
		t.Fatalf("add goal = %d %v", rr.Code, payload)
	}
	if rr, payload = doJSON(t, handler, http.MethodPut, base+"/notes", tutorToken, `{"content":"epsilon-delta"}`); rr.Code != http.StatusOK {
		t.Fatalf("save notes = %d %v", rr.Code, payload)
	}
	if rr, payload = doJSON(t, handler, http.MethodPost, base+"/notes/draft", tutorToken, `{"content":"epsilon-delta proofs"}`); rr.Code != http.StatusAccepted {
		t.Fatalf("draft notes = %d %v", rr.Code, payload)
	}
	if rr, payload = doJSON(t, handler, http.MethodPost, base+"/close", tutorToken, ""); rr.Code != http.StatusOK || payload["status"] != store.SessionClosed {
		t.Fatalf("close = %d %v", rr.Code, payload)
	}

	rr, payload = doJSON(t, handler, http.MethodPut, base+"/notes", tutorToken, `{"content":"too late"}`)
	if rr.Code != http.StatusForbidden || payload["code"] != "SESSION_CLOSED" {
		t.Fatalf("late notes = %d %v", rr.Code, payload)
	}
	rr, payload = doJSON(t, handler, http.MethodGet, base+"/notes", studentToken, "")
	if rr.Code != http.StatusOK || payload["content"] != "epsilon-delta proofs" {
		t.Fatalf("read notes = %d %v", rr.Code, payload)
	}

	rr, payload = doJSON(t, handler, http.MethodPost, base+"/review", studentToken, `{"rating":5,"text":"Clear explanations"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("review = %d %v", rr.Code, payload)
	}
	tutor, _ := payload["tutor"].(map[string]any)
	if tutor["averageRating"] != float64(5) {
		t.Fatalf("tutor = %v", tutor)
	}
	rr, payload = doJSON(t, handler, http.MethodPost, base+"/review", studentToken, `{"rating":4,"text":"Again"}`)
	if rr.Code != http.StatusConflict || payload["code"] != "ALREADY_REVIEWED" {
		t.Fatalf("second review = %d %v", rr.Code, payload)
	}
}

func TestSessionEventStream(t *testing.T) {
	f := newFixture(t, Deps{})
	server := httptest.NewServer(NewHTTPServer(f.svc, "*", logger.Nop()).Handler())
	defer server.Close()
	ctx := context.Background()
	session := f.openSession(t, "Algebra")

	if _, err := f.svc.SendMessage(ctx, f.tutor, session.ID, SendMessageInput{Text: "Welcome"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	req, _ := http.NewRequestWithContext(streamCtx, http.MethodGet,
		server.URL+"/api/sessions/"+session.ID+"/events?topics=messages&access_token="+f.token(t, f.student), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("stream = %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	events := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data: ") {
				events <- strings.TrimPrefix(line, "data: ")
			}
		}
		close(events)
	}()
	next := func() map[string]any {
		t.Helper()
		select {
		case raw, ok := <-events:
			if !ok {
				t.Fatalf("stream ended")
			}
			var event map[string]any
			if err := json.Unmarshal([]byte(raw), &event); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			return event
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for event")
		}
		return nil
	}

	snapshot := next()
	if snapshot["type"] != "snapshot" {
		t.Fatalf("first event = %v", snapshot)
	}
	messages, _ := f.store.ListMessages(ctx, session.ID, 0)
	if !messages[0].Seen {
		t.Fatalf("delivered tutor message should be seen by the student")
	}

	if _, err := f.svc.SendMessage(ctx, f.student, session.ID, SendMessageInput{Text: "Thanks"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	event := next()
	for event["type"] == "message.seen" {
		event = next()
	}
	data, _ := event["data"].(map[string]any)
	if event["type"] != "message.created" || data["text"] != "Thanks" || data["seq"] != float64(2) {
		t.Fatalf("live event = %v", event)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for f.svc.Broker().Hub().Subscribers("sessions/"+session.ID+"/messages") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stream client was not released")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
