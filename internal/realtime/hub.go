package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"peertutor/api/internal/logger"
)

const outboundBuffer = 32

type Client struct {
	ID        string
	AccountID string
	Channels  map[string]bool
	Outbound  chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// Done is closed once the client has been removed from the hub.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

type Hub struct {
	mu            sync.RWMutex
	logger        *logger.Logger
	subscriptions map[string]map[*Client]bool
	heartbeat     time.Duration
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		logger:        log.With("component", "RealtimeHub"),
		subscriptions: make(map[string]map[*Client]bool),
		heartbeat:     15 * time.Second,
	}
}

func (hub *Hub) NewClient(accountID string) *Client {
	return &Client{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Channels:  make(map[string]bool),
		Outbound:  make(chan Event, outboundBuffer),
		done:      make(chan struct{}),
	}
}

// Subscribe registers a client on channels and closes it when ctx ends.
func (hub *Hub) Subscribe(ctx context.Context, accountID string, channels ...string) *Client {
	client := hub.NewClient(accountID)
	for _, channel := range channels {
		hub.AddChannel(client, channel)
	}
	go func() {
		select {
		case <-ctx.Done():
			hub.CloseClient(client)
		case <-client.done:
		}
	}()
	return client
}

func (hub *Hub) AddChannel(client *Client, channel string) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()

	select {
	case <-client.done:
		return
	default:
	}

	client.Channels[channel] = true
	clients, ok := hub.subscriptions[channel]
	if !ok {
		clients = make(map[*Client]bool)
		hub.subscriptions[channel] = clients
	}
	clients[client] = true
	hub.logger.Debug("realtime client subscribed", "clientID", client.ID, "channel", channel)
}

func (hub *Hub) RemoveChannel(client *Client, channel string) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()

	delete(client.Channels, channel)
	if clients, ok := hub.subscriptions[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(hub.subscriptions, channel)
		}
	}
}

func (hub *Hub) RemoveClient(client *Client) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	for channel := range client.Channels {
		if clients, ok := hub.subscriptions[channel]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(hub.subscriptions, channel)
			}
		}
	}
	client.Channels = make(map[string]bool)
}

// Broadcast delivers to every client on the event's channel without blocking.
// A client whose buffer is full misses the event.
func (hub *Hub) Broadcast(event Event) {
	if event.Channel == "" {
		return
	}
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for client := range hub.subscriptions[event.Channel] {
		select {
		case client.Outbound <- event:
		default:
			hub.logger.Warn("dropping realtime event; outbound buffer full", "clientID", client.ID, "channel", event.Channel, "type", event.Type)
		}
	}
}

// Subscribers reports how many clients listen on channel.
func (hub *Hub) Subscribers(channel string) int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.subscriptions[channel])
}

func (hub *Hub) CloseClient(client *Client) {
	client.closeOnce.Do(func() {
		close(client.done)
		hub.RemoveClient(client)
		close(client.Outbound)
	})
}

// Handler turns a hub event into the frames written to the stream. Returning
// no events skips the frame.
type Handler func(ctx context.Context, event Event) ([]Event, error)

// Passthrough writes every event unchanged.
func Passthrough(_ context.Context, event Event) ([]Event, error) {
	return []Event{event}, nil
}

// ServeHTTP streams the initial events and then the client's outbound queue
// until the request ends or the client is closed. The caller has registered the
// client's channels before computing initial.
func (hub *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, client *Client, initial []Event, handle Handler) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	if handle == nil {
		handle = Passthrough
	}
	ctx := r.Context()
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for _, event := range initial {
		hub.writeEvent(w, client, event)
	}
	flusher.Flush()

	heartbeat := time.NewTicker(hub.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			hub.logger.Debug("realtime client context done", "clientID", client.ID, "err", ctx.Err())
			return
		case <-client.done:
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case event, ok := <-client.Outbound:
			if !ok {
				return
			}
			frames, err := handle(ctx, event)
			if err != nil {
				hub.logger.Warn("realtime handler failed", "clientID", client.ID, "type", event.Type, "error", err)
				hub.writeEvent(w, client, NewEvent(event.Channel, "error", map[string]string{"error": "stream degraded"}))
				flusher.Flush()
				continue
			}
			for _, frame := range frames {
				hub.writeEvent(w, client, frame)
			}
			flusher.Flush()
		}
	}
}

func (hub *Hub) writeEvent(w http.ResponseWriter, client *Client, event Event) {
	raw, err := json.Marshal(event)
	if err != nil {
		hub.logger.Warn("failed to marshal realtime event", "clientID", client.ID, "error", err)
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, raw)
}
