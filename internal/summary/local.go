package summary

import (
	"context"
	"strconv"
	"strings"

	"peertutor/api/internal/store"
)

const localExcerptLines = 8

// Local builds a templated summary from the prompt itself. It fails only when
// the context is already done.
type Local struct{}

func NewLocal() Local { return Local{} }

func (Local) Name() string { return store.ProviderLocal }

func (Local) Generate(ctx context.Context, prompt string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	subject := section(prompt, "Subject: ", "\n")
	if subject == "" {
		subject = "General"
	}
	conversation := strings.TrimSpace(section(prompt, "Conversation:\n", "\n\nTutor Notes:"))
	notes := strings.TrimSpace(section(prompt, "Tutor Notes:\n", "\n\nProvide:"))

	lines := nonEmptyLines(conversation)
	var b strings.Builder
	b.WriteString("Summary\n")
	b.WriteString("Tutoring session on " + subject + ".")
	if len(lines) > 0 && conversation != "No conversation provided." {
		b.WriteString(" The conversation had " + strconv.Itoa(len(lines)) + " messages.\n\n")
		b.WriteString("Topics covered\n")
		excerpt := lines
		if len(excerpt) > localExcerptLines {
			excerpt = excerpt[:localExcerptLines]
		}
		for _, line := range excerpt {
			b.WriteString("- " + line + "\n")
		}
	} else {
		b.WriteString(" No conversation was recorded.\n\nTopics covered\n- " + subject + "\n")
	}
	b.WriteString("\nAction items\n")
	if notes != "" && notes != "No notes provided." {
		for _, line := range nonEmptyLines(notes) {
			b.WriteString("- " + line + "\n")
		}
	} else {
		b.WriteString("- Review the session material\n")
	}
	return Result{Content: strings.TrimSpace(b.String()), Provider: store.ProviderLocal}, nil
}

func section(s, start, end string) string {
	i := strings.Index(s, start)
	if i < 0 {
		return ""
	}
	rest := s[i+len(start):]
	if j := strings.Index(rest, end); j >= 0 {
		return rest[:j]
	}
	return rest
}

func nonEmptyLines(s string) []string {
	out := make([]string, 0)
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
