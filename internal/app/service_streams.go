package app

import (
	"context"

	"peertutor/api/internal/realtime"
	"peertutor/api/internal/store"
)

// Stream is an open realtime subscription: the client registered on the hub,
// the snapshot frames to send first, and the per-event handler.
type Stream struct {
	Client  *realtime.Client
	Initial []realtime.Event
	Handle  realtime.Handler
}

// SubscribeSession opens a stream over the chosen topics of one session. The
// client is registered before the snapshot is read, so nothing committed in
// between is missed.
func (s *Service) SubscribeSession(ctx context.Context, principal Principal, sessionID string, topics []string) (Stream, error) {
	session, err := s.loadSession(ctx, principal, sessionID)
	if err != nil {
		return Stream{}, err
	}
	if len(topics) == 0 {
		topics = realtime.Topics
	}
	channels := make([]string, 0, len(topics))
	for _, topic := range topics {
		channels = append(channels, realtime.SessionTopicChannel(session.ID, topic))
	}
	hub := s.broker.Hub()
	client := hub.Subscribe(ctx, principal.ID, channels...)

	feed := &chatFeed{service: s, sessionID: session.ID, viewerID: principal.ID, active: session.Status == store.SessionActive}
	initial := make([]realtime.Event, 0, len(topics))
	for _, topic := range topics {
		event, err := s.snapshot(ctx, session, topic, feed)
		if err != nil {
			hub.CloseClient(client)
			return Stream{}, err
		}
		initial = append(initial, event)
	}
	return Stream{Client: client, Initial: initial, Handle: feed.handle}, nil
}

func (s *Service) snapshot(ctx context.Context, session store.Session, topic string, feed *chatFeed) (realtime.Event, error) {
	channel := realtime.SessionTopicChannel(session.ID, topic)
	switch topic {
	case realtime.TopicMessages:
		messages, err := feed.catchUp(ctx)
		if err != nil {
			return realtime.Event{}, err
		}
		return realtime.NewEvent(channel, realtime.TypeSnapshot, messages), nil
	case realtime.TopicNotes:
		note, err := s.currentNote(ctx, session.ID)
		if err != nil {
			return realtime.Event{}, err
		}
		return realtime.NewEvent(channel, realtime.TypeSnapshot, note), nil
	case realtime.TopicGoals:
		goals, err := s.store.ListGoals(ctx, session.ID)
		if err != nil {
			return realtime.Event{}, err
		}
		return realtime.NewEvent(channel, realtime.TypeSnapshot, goals), nil
	case realtime.TopicSummary:
		item, err := s.currentSummary(ctx, session.ID)
		if err != nil {
			return realtime.Event{}, err
		}
		return realtime.NewEvent(channel, realtime.TypeSnapshot, item), nil
	default:
		return realtime.NewEvent(channel, realtime.TypeSnapshot, session), nil
	}
}

// chatFeed turns message.created cues into an ordered, gap-free message
// sequence for one subscriber. Its methods run on the stream's goroutine.
type chatFeed struct {
	service   *Service
	sessionID string
	viewerID  string
	active    bool
	lastSeq   int64
}

// catchUp reads every message after the last delivered one and marks the other
// participant's messages as seen while the session is active.
func (f *chatFeed) catchUp(ctx context.Context) ([]store.Message, error) {
	messages, err := f.service.store.ListMessages(ctx, f.sessionID, f.lastSeq)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return messages, nil
	}
	f.lastSeq = messages[len(messages)-1].Seq

	if f.active {
		unseen := false
		for _, message := range messages {
			if message.SenderID != f.viewerID && !message.Seen {
				unseen = true
				break
			}
		}
		if unseen {
			if _, err := f.service.markSeen(ctx, f.viewerID, f.sessionID, f.lastSeq); err != nil {
				f.service.log.Warn("mark seen on delivery failed", "sessionId", f.sessionID, "error", err)
			}
		}
	}
	return messages, nil
}

func (f *chatFeed) handle(ctx context.Context, event realtime.Event) ([]realtime.Event, error) {
	switch event.Type {
	case realtime.TypeSessionClosed:
		f.active = false
	case realtime.TypeMessageCreated:
		messages, err := f.catchUp(ctx)
		if err != nil {
			return nil, err
		}
		frames := make([]realtime.Event, 0, len(messages))
		for _, message := range messages {
			frames = append(frames, realtime.NewEvent(event.Channel, realtime.TypeMessageCreated, message))
		}
		return frames, nil
	}
	return []realtime.Event{event}, nil
}

// SubscribeRequests opens a stream of the principal's requests and sessions
// for dashboards.
func (s *Service) SubscribeRequests(ctx context.Context, principal Principal) (Stream, error) {
	channel := realtime.RequestsChannel(principal.ID)
	hub := s.broker.Hub()
	client := hub.Subscribe(ctx, principal.ID, channel)

	requests, err := s.store.ListRequests(ctx, principal.ID)
	if err != nil {
		hub.CloseClient(client)
		return Stream{}, err
	}
	sessions, err := s.store.ListSessions(ctx, principal.ID, "")
	if err != nil {
		hub.CloseClient(client)
		return Stream{}, err
	}
	initial := []realtime.Event{realtime.NewEvent(channel, realtime.TypeSnapshot, map[string]any{
		"requests": requests,
		"sessions": sessions,
	})}
	return Stream{Client: client, Initial: initial, Handle: realtime.Passthrough}, nil
}
