// Package email sends request lifecycle notifications via SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart message with a plain text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-peertutor"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// RequestData feeds the request notification templates.
type RequestData struct {
	RecipientName string
	StudentName   string
	TutorName     string
	Subject       string
	Message       string
}

// SendNewRequest tells a tutor a student asked for a session.
func (s *Service) SendNewRequest(to string, data RequestData) error {
	return s.sendTemplate(to, fmt.Sprintf("New tutoring request: %s", data.Subject),
		fmt.Sprintf("%s asked you for a session on %s.", data.StudentName, data.Subject),
		newRequestTemplate, data)
}

// SendRequestAccepted tells the student their session is ready.
func (s *Service) SendRequestAccepted(to string, data RequestData) error {
	return s.sendTemplate(to, fmt.Sprintf("%s accepted your request", data.TutorName),
		fmt.Sprintf("%s accepted your %s request. Your session is open.", data.TutorName, data.Subject),
		acceptedTemplate, data)
}

// SendRequestRejected tells the student the tutor declined.
func (s *Service) SendRequestRejected(to string, data RequestData) error {
	return s.sendTemplate(to, fmt.Sprintf("%s declined your request", data.TutorName),
		fmt.Sprintf("%s declined your %s request.", data.TutorName, data.Subject),
		rejectedTemplate, data)
}

func (s *Service) sendTemplate(to, subject, text string, tmpl *template.Template, data RequestData) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("render %s template: %w", tmpl.Name(), err)
	}
	return s.SendHTMLEmail([]string{to}, subject, text, buf.String())
}

const layoutStart = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .quote { background: #f5f5f5; padding: 12px; border-left: 3px solid #0066cc; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header"><h1>PeerTutor</h1></div>
    <p>Hi {{.RecipientName}},</p>
`

const layoutEnd = `
    <div class="footer"><p>You are receiving this because you have a PeerTutor account.</p></div>
</body>
</html>`

var (
	newRequestTemplate = template.Must(template.New("new-request").Parse(layoutStart + `
    <p><strong>{{.StudentName}}</strong> asked you for a session on <strong>{{.Subject}}</strong>.</p>
    {{if .Message}}<div class="quote">{{.Message}}</div>{{end}}
    <p>Open PeerTutor to accept or decline.</p>` + layoutEnd))

	acceptedTemplate = template.Must(template.New("request-accepted").Parse(layoutStart + `
    <p><strong>{{.TutorName}}</strong> accepted your request for <strong>{{.Subject}}</strong>. Your session is open.</p>` + layoutEnd))

	rejectedTemplate = template.Must(template.New("request-rejected").Parse(layoutStart + `
    <p><strong>{{.TutorName}}</strong> declined your request for <strong>{{.Subject}}</strong>. You can ask another tutor.</p>` + layoutEnd))
)
