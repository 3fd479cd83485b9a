// Package summary generates session summaries through an ordered provider chain.
package summary

import (
	"context"
	"errors"
	"strings"

	"peertutor/api/internal/store"
)

var (
	// ErrNotConfigured means the provider has no credentials; the chain moves on.
	ErrNotConfigured = errors.New("summary provider not configured")
	ErrEmptyOutput   = errors.New("summary provider returned no usable text")
)

type Result struct {
	Content  string `json:"content"`
	Provider string `json:"provider"`
}

type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (Result, error)
}

// Input is everything the prompt is assembled from.
type Input struct {
	Subject  string
	Messages []store.Message
	Notes    string
}

// Transcript renders messages in order as "role: text" lines, skipping empty ones.
func Transcript(messages []store.Message) string {
	lines := make([]string, 0, len(messages))
	for _, message := range messages {
		text := strings.TrimSpace(message.Text)
		if text == "" {
			continue
		}
		role := strings.TrimSpace(message.SenderRole)
		if role == "" {
			role = "user"
		}
		lines = append(lines, role+": "+text)
	}
	return strings.Join(lines, "\n")
}

func BuildPrompt(in Input) string {
	chat := Transcript(in.Messages)
	if chat == "" {
		chat = "No conversation provided."
	}
	notes := in.Notes
	if strings.TrimSpace(notes) == "" {
		notes = "No notes provided."
	}
	var b strings.Builder
	b.WriteString("You are summarizing a tutoring session.\n\n")
	b.WriteString("Subject: " + in.Subject + "\n\n")
	b.WriteString("Conversation:\n" + chat + "\n\n")
	b.WriteString("Tutor Notes:\n" + notes + "\n\n")
	b.WriteString("Provide:\n- A clear summary\n- Topics covered\n- Action items")
	return b.String()
}
