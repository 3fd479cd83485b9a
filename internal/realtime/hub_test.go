package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"peertutor/api/internal/logger"
)

func recv(t *testing.T, client *Client) Event {
	t.Helper()
	select {
	case event, ok := <-client.Outbound:
		if !ok {
			t.Fatal("outbound closed")
		}
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestHubBroadcastKeepsOrderPerChannel(t *testing.T) {
	hub := NewHub(logger.Nop())
	client := hub.NewClient("acc_1")
	hub.AddChannel(client, SessionTopicChannel("s1", TopicMessages))
	other := hub.NewClient("acc_2")
	hub.AddChannel(other, SessionTopicChannel("s2", TopicMessages))

	for i := 0; i < 5; i++ {
		hub.Broadcast(NewEvent("sessions/s1/messages", TypeMessageCreated, i))
	}
	for i := 0; i < 5; i++ {
		if got := recv(t, client); got.Data != i {
			t.Fatalf("event %d data = %v", i, got.Data)
		}
	}
	select {
	case event := <-other.Outbound:
		t.Fatalf("unrelated client got %+v", event)
	default:
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(logger.Nop())
	client := hub.NewClient("acc_1")
	hub.AddChannel(client, "sessions/s1")
	for i := 0; i < outboundBuffer+10; i++ {
		hub.Broadcast(NewEvent("sessions/s1", TypeSessionUpdated, i))
	}
	if len(client.Outbound) != outboundBuffer {
		t.Fatalf("buffered %d events", len(client.Outbound))
	}
}

func TestSubscribeReleasesOnCancel(t *testing.T) {
	hub := NewHub(logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	client := hub.Subscribe(ctx, "acc_1", "sessions/s1", "sessions/s1/notes")
	if hub.Subscribers("sessions/s1") != 1 || hub.Subscribers("sessions/s1/notes") != 1 {
		t.Fatal("expected registrations")
	}
	cancel()

	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatal("client not closed after cancel")
	}
	if hub.Subscribers("sessions/s1") != 0 {
		t.Fatal("subscription leaked")
	}
	hub.Broadcast(NewEvent("sessions/s1", TypeSessionUpdated, nil))
	if _, ok := <-client.Outbound; ok {
		t.Fatal("event delivered after cancel")
	}
	hub.AddChannel(client, "sessions/s1")
	if hub.Subscribers("sessions/s1") != 0 {
		t.Fatal("closed client re-registered")
	}
	hub.CloseClient(client)
}

func TestServeHTTPWritesInitialThenLive(t *testing.T) {
	hub := NewHub(logger.Nop())
	client := hub.NewClient("acc_1")
	hub.AddChannel(client, "sessions/s1/notes")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		initial := []Event{NewEvent("sessions/s1/notes", TypeSnapshot, map[string]string{"content": "v1"})}
		hub.ServeHTTP(w, r, client, initial, nil)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	first := readFrame(t, reader)
	if first.Type != TypeSnapshot {
		t.Fatalf("first frame = %+v", first)
	}

	hub.Broadcast(NewEvent("sessions/s1/notes", TypeNotesUpdated, map[string]string{"content": "v2"}))
	second := readFrame(t, reader)
	if second.Type != TypeNotesUpdated {
		t.Fatalf("second frame = %+v", second)
	}
	hub.CloseClient(client)
}

func readFrame(t *testing.T, reader *bufio.Reader) Event {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &event); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return event
	}
}

func TestParseTopics(t *testing.T) {
	if got := ParseTopics(""); len(got) != len(Topics) {
		t.Fatalf("empty = %v", got)
	}
	got := ParseTopics("summary, Messages,bogus")
	if len(got) != 2 || got[0] != TopicMessages || got[1] != TopicSummary {
		t.Fatalf("ParseTopics = %v", got)
	}
	if SessionTopicChannel("s1", TopicSession) != "sessions/s1" {
		t.Fatal("session topic should map to the session channel")
	}
}
