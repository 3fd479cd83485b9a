package export

import (
	"context"
	"fmt"
	"html/template"
)

type renderFunc func(ctx context.Context, html, title string) (*Result, error)

// Service renders reports; converters are swappable for tests.
type Service struct {
	pdf  renderFunc
	docx renderFunc
}

func NewService() *Service {
	return &Service{pdf: exportPDF, docx: exportDOCX}
}

// Export renders the report to HTML and converts it to the requested format.
func (s *Service) Export(ctx context.Context, report Report, format Format) (*Result, error) {
	data := TemplateData{
		Title:       report.Subject,
		Status:      report.Status,
		StudentName: report.StudentName,
		TutorName:   report.TutorName,
		CreatedAt:   report.CreatedAt,
		ClosedAt:    report.ClosedAt,
		NotesHTML:   template.HTML(NotesToHTML(report.Notes)),
		Summary:     report.Summary,
		Provider:    report.Provider,
		Rating:      report.Rating,
		ReviewText:  report.ReviewText,
	}
	for _, message := range report.Messages {
		data.Messages = append(data.Messages, TemplateMessage{Sender: message.Sender, Text: message.Text, At: message.At})
	}
	for _, goal := range report.Goals {
		data.Goals = append(data.Goals, TemplateGoal{Text: goal.Text, Completed: goal.Completed})
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	title := report.Subject + " " + report.CreatedAt.Format("2006-01-02")
	switch format {
	case FormatPDF:
		return s.pdf(ctx, html, title)
	case FormatDOCX:
		return s.docx(ctx, html, title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
