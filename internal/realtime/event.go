// Package realtime fans committed changes out to live subscribers over SSE,
// optionally relayed between API instances through Redis pub/sub.
package realtime

import (
	"strings"
	"time"
)

const (
	TypeSnapshot = "snapshot"

	TypeRequestCreated = "request.created"
	TypeRequestUpdated = "request.updated"
	TypeRequestDeleted = "request.deleted"

	TypeSessionCreated = "session.created"
	TypeSessionUpdated = "session.updated"
	TypeSessionClosed  = "session.closed"

	TypeMessageCreated = "message.created"
	TypeMessageSeen    = "message.seen"

	TypeNotesUpdated   = "notes.updated"
	TypeGoalCreated    = "goal.created"
	TypeGoalUpdated    = "goal.updated"
	TypeSummaryUpdated = "summary.updated"
)

const (
	TopicSession  = "session"
	TopicMessages = "messages"
	TopicNotes    = "notes"
	TopicGoals    = "goals"
	TopicSummary  = "summary"
)

// Topics lists the per-session subscription topics in stream order.
var Topics = []string{TopicSession, TopicMessages, TopicNotes, TopicGoals, TopicSummary}

// Event is one change notification on a channel.
type Event struct {
	Channel string    `json:"channel"`
	Type    string    `json:"type"`
	Data    any       `json:"data,omitempty"`
	At      time.Time `json:"at"`
}

func NewEvent(channel, eventType string, data any) Event {
	return Event{Channel: channel, Type: eventType, Data: data, At: time.Now().UTC()}
}

func SessionChannel(sessionID string) string {
	return "sessions/" + sessionID
}

// SessionTopicChannel returns the channel for one artifact of a session. The
// "session" topic maps onto the session document channel itself.
func SessionTopicChannel(sessionID, topic string) string {
	if topic == TopicSession || topic == "" {
		return SessionChannel(sessionID)
	}
	return SessionChannel(sessionID) + "/" + topic
}

func RequestsChannel(accountID string) string {
	return "requests/" + accountID
}

// ParseTopics splits a comma separated topic list, keeping known topics in
// canonical order. An empty list selects every topic.
func ParseTopics(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return append([]string(nil), Topics...)
	}
	wanted := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		wanted[strings.ToLower(strings.TrimSpace(part))] = true
	}
	out := make([]string, 0, len(Topics))
	for _, topic := range Topics {
		if wanted[topic] {
			out = append(out, topic)
		}
	}
	return out
}
