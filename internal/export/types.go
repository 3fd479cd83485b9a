// Package export renders a session report as PDF or DOCX.
package export

import (
	"errors"
	"time"
)

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

func ParseFormat(value string) (Format, bool) {
	switch Format(value) {
	case "", FormatPDF:
		return FormatPDF, true
	case FormatDOCX:
		return FormatDOCX, true
	default:
		return "", false
	}
}

// Report is everything a session report shows.
type Report struct {
	SessionID   string
	Subject     string
	Status      string
	StudentName string
	TutorName   string
	CreatedAt   time.Time
	ClosedAt    *time.Time
	Messages    []Message
	Notes       string
	Goals       []Goal
	Summary     string
	Provider    string
	Rating      *int
	ReviewText  string
}

type Message struct {
	Seq    int64
	Sender string
	Text   string
	At     time.Time
}

type Goal struct {
	Text      string
	Completed bool
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
