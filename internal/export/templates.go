package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate = template.Must(template.New("report.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.UTC().Format(layout)
	},
	"deref": func(t *time.Time) time.Time {
		if t == nil {
			return time.Time{}
		}
		return *t
	},
	"derefInt": func(v *int) int {
		if v == nil {
			return 0
		}
		return *v
	},
	"stars": func(n int) string {
		if n < 0 {
			n = 0
		}
		if n > 5 {
			n = 5
		}
		return strings.Repeat("★", n) + strings.Repeat("☆", 5-n)
	},
}).ParseFS(templateFS, "templates/report.html"))

// TemplateData holds data for report template rendering
type TemplateData struct {
	Title       string
	Status      string
	StudentName string
	TutorName   string
	CreatedAt   time.Time
	ClosedAt    *time.Time
	Messages    []TemplateMessage
	NotesHTML   template.HTML
	Goals       []TemplateGoal
	Summary     string
	Provider    string
	Rating      *int
	ReviewText  string
}

type TemplateMessage struct {
	Sender string
	Text   string
	At     time.Time
}

type TemplateGoal struct {
	Text      string
	Completed bool
}

// RenderReportHTML renders the report template with provided data
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
