// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration
type Config struct {
	Host      string
	Port      string
	Username  string
	Password  string
	From      string
	FromName  string
	EnableTLS bool
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

// NewService creates a new email service
func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		body,
	))

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg)
}

// SendHTMLEmail sends an HTML email
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	// Simple multipart message
	boundary := "boundary-vestira"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	// Plain text part (fallback)
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	// HTML part
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type VerificationData struct {
	AppName         string
	UserName        string
	VerificationURL string
}

type PasswordResetData struct {
	AppName  string
	UserName string
	ResetURL string
}

// BranchEventData holds data for branch workflow notifications.
type BranchEventData struct {
	AppName        string
	RecipientName  string
	ActorName      string
	DDQName        string
	ParentQuestion string
	BranchQuestion string
	Detail         string
}

// SendVerificationEmail sends an email verification email
func (s *Service) SendVerificationEmail(to, userName, verificationURL string) error {
	data := VerificationData{
		AppName:         "Vestira",
		UserName:        userName,
		VerificationURL: verificationURL,
	}

	subject := "Verify your Vestira account"
	html, err := renderTemplate(verificationEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render verification template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendPasswordResetEmail sends a password reset email
func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	data := PasswordResetData{
		AppName:  "Vestira",
		UserName: userName,
		ResetURL: resetURL,
	}

	subject := "Reset your Vestira password"
	html, err := renderTemplate(passwordResetEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render password reset template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendBranchCreatedEmail notifies a manager that an allocator asked a
// follow-up question.
func (s *Service) SendBranchCreatedEmail(to, recipientName, actorName, ddqName, parentQuestion, branchQuestion string) error {
	data := BranchEventData{
		AppName:        "Vestira",
		RecipientName:  recipientName,
		ActorName:      actorName,
		DDQName:        ddqName,
		ParentQuestion: parentQuestion,
		BranchQuestion: branchQuestion,
	}

	subject := fmt.Sprintf("New follow-up question on %s", ddqName)
	html, err := renderTemplate(branchCreatedEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render branch created template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendBranchAnsweredEmail notifies the author that their follow-up question
// received an answer.
func (s *Service) SendBranchAnsweredEmail(to, recipientName, actorName, ddqName, branchQuestion, answer string) error {
	data := BranchEventData{
		AppName:        "Vestira",
		RecipientName:  recipientName,
		ActorName:      actorName,
		DDQName:        ddqName,
		BranchQuestion: branchQuestion,
		Detail:         answer,
	}

	subject := fmt.Sprintf("Your follow-up on %s was answered", ddqName)
	html, err := renderTemplate(branchAnsweredEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render branch answered template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendClarificationEmail notifies the answering manager that a response was
// flagged as needing clarification.
func (s *Service) SendClarificationEmail(to, recipientName, actorName, ddqName, branchQuestion, note string) error {
	data := BranchEventData{
		AppName:        "Vestira",
		RecipientName:  recipientName,
		ActorName:      actorName,
		DDQName:        ddqName,
		BranchQuestion: branchQuestion,
		Detail:         note,
	}

	subject := fmt.Sprintf("Clarification requested on %s", ddqName)
	html, err := renderTemplate(clarificationEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render clarification template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const verificationEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Verify your {{.AppName}} account</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #1a3e5c; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #1a3e5c; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #1a3e5c; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Welcome, {{.UserName}}!</h2>

    <p>Thank you for signing up. Please verify your email address to activate your account.</p>

    <p>
        <a href="{{.VerificationURL}}" class="button">Verify Email Address</a>
    </p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.VerificationURL}}</p>

    <p>This verification link will expire in 24 hours.</p>

    <div class="footer">
        <p>If you didn't create an account with {{.AppName}}, you can safely ignore this email.</p>
    </div>
</body>
</html>`

const passwordResetEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Reset your {{.AppName}} password</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #1a3e5c; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #1a3e5c; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #1a3e5c; }
        .warning { background: #fff3cd; padding: 12px; border-radius: 4px; margin: 20px 0; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Password Reset Request</h2>

    <p>Hi {{.UserName}},</p>

    <p>We received a request to reset your password. Click the button below to create a new password:</p>

    <p>
        <a href="{{.ResetURL}}" class="button">Reset Password</a>
    </p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.ResetURL}}</p>

    <div class="warning">
        <strong>Important:</strong> This reset link will expire in 1 hour.
    </div>

    <div class="footer">
        <p>If you didn't request a password reset, you can safely ignore this email. Your password will remain unchanged.</p>
    </div>
</body>
</html>`

const branchCreatedEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>New follow-up question</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #1a3e5c; padding-bottom: 10px; margin-bottom: 20px; }
        .question { background: #f5f7fa; padding: 12px; border-left: 3px solid #1a3e5c; margin: 16px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>New follow-up question</h2>

    <p>Hi {{.RecipientName}},</p>

    <p>{{.ActorName}} asked a follow-up question on <strong>{{.DDQName}}</strong>.</p>

    <p>Original question:</p>
    <div class="question">{{.ParentQuestion}}</div>

    <p>Follow-up:</p>
    <div class="question">{{.BranchQuestion}}</div>

    <p>Sign in to {{.AppName}} to respond.</p>

    <div class="footer">
        <p>You received this because you are the responding manager on this DDQ.</p>
    </div>
</body>
</html>`

const branchAnsweredEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Follow-up answered</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #1a3e5c; padding-bottom: 10px; margin-bottom: 20px; }
        .question { background: #f5f7fa; padding: 12px; border-left: 3px solid #1a3e5c; margin: 16px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Your follow-up was answered</h2>

    <p>Hi {{.RecipientName}},</p>

    <p>{{.ActorName}} answered your follow-up on <strong>{{.DDQName}}</strong>.</p>

    <p>Your question:</p>
    <div class="question">{{.BranchQuestion}}</div>

    <p>Answer:</p>
    <div class="question">{{.Detail}}</div>

    <div class="footer">
        <p>Sign in to {{.AppName}} to review or request clarification.</p>
    </div>
</body>
</html>`

const clarificationEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Clarification requested</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #1a3e5c; padding-bottom: 10px; margin-bottom: 20px; }
        .question { background: #fff3cd; padding: 12px; border-left: 3px solid #c99700; margin: 16px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Clarification requested</h2>

    <p>Hi {{.RecipientName}},</p>

    <p>{{.ActorName}} flagged your response on <strong>{{.DDQName}}</strong> as needing clarification.</p>

    <p>Question:</p>
    <div class="question">{{.BranchQuestion}}</div>

    {{if .Detail}}<p>Note:</p>
    <div class="question">{{.Detail}}</div>{{end}}

    <p>Your previous answer is kept on record. Please update it when you can.</p>

    <div class="footer">
        <p>You received this because you answered this follow-up.</p>
    </div>
</body>
</html>`
