package services

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/huangang/agendatrack/pkg/logger"
	"gorm.io/gorm"
)

// Invitation is the content of an invitation email.
type Invitation struct {
	To            string
	RecipientName string
	AgendaTitle   string
	AgendaType    string
	ProjectName   string
	Schedule      string
	Duty          string
	Leader        bool
	Link          string
}

// InvitationMailer sends invitation emails.
type InvitationMailer interface {
	SendInvitation(ctx context.Context, inv *Invitation) error
}

// EmailService sends mail through the SMTP server configured in the
// "email" system config group.
type EmailService struct {
	configs *SystemConfigService
}

func NewEmailService(db *gorm.DB) *EmailService {
	return &EmailService{configs: NewSystemConfigService(db)}
}

// SendInvitation is a no-op when email is disabled or the recipient has no address.
func (s *EmailService) SendInvitation(ctx context.Context, inv *Invitation) error {
	cfg := s.configs.GetEmailConfig()
	if !cfg.Enabled || cfg.Host == "" || inv.To == "" {
		return nil
	}

	subject := fmt.Sprintf("[Agenda] You're invited: %s", inv.AgendaTitle)
	if inv.AgendaType == "meeting" {
		subject = fmt.Sprintf("[Agenda] Meeting invite: %s", inv.AgendaTitle)
	}

	msg, err := buildMultipartMessage(cfg, inv.To, subject, renderInvitationText(inv), renderInvitationHTML(inv))
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- s.send(cfg, []string{inv.To}, msg) }()
	select {
	case err := <-done:
		if err != nil {
			return err
		}
		logger.Info().Str("to", inv.To).Msg("[Email] invitation sent")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func dutyText(inv *Invitation) string {
	if strings.TrimSpace(inv.Duty) != "" {
		return inv.Duty
	}
	if inv.Leader {
		return "You are leading this agenda. Coordinate the team and keep the schedule on track."
	}
	return "No specific duty was assigned. Check the agenda details for what is expected."
}

func renderInvitationText(inv *Invitation) string {
	var sb strings.Builder
	name := inv.RecipientName
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&sb, "Hi %s,\n\n", name)
	if inv.Leader {
		fmt.Fprintf(&sb, "You have been appointed team leader for \"%s\".\n", inv.AgendaTitle)
	} else {
		fmt.Fprintf(&sb, "You have been invited to \"%s\".\n", inv.AgendaTitle)
	}
	if inv.ProjectName != "" {
		fmt.Fprintf(&sb, "Project: %s\n", inv.ProjectName)
	}
	if inv.Schedule != "" {
		fmt.Fprintf(&sb, "Schedule: %s\n", inv.Schedule)
	}
	fmt.Fprintf(&sb, "\nYour duty:\n%s\n", dutyText(inv))
	if inv.Link != "" {
		fmt.Fprintf(&sb, "\nRespond to the invitation: %s\n", inv.Link)
	}
	return sb.String()
}

func renderInvitationHTML(inv *Invitation) string {
	var sb strings.Builder
	esc := html.EscapeString

	sb.WriteString("<html><body style=\"font-family: Arial, sans-serif;\">")
	if inv.Leader {
		sb.WriteString(fmt.Sprintf("<h2>You're leading: %s</h2>", esc(inv.AgendaTitle)))
	} else {
		sb.WriteString(fmt.Sprintf("<h2>You're invited: %s</h2>", esc(inv.AgendaTitle)))
	}
	sb.WriteString("<table style=\"border-collapse: collapse; margin-bottom: 20px;\">")

	rows := []struct{ label, value string }{
		{"Type", inv.AgendaType},
		{"Project", inv.ProjectName},
		{"Schedule", inv.Schedule},
	}
	for _, r := range rows {
		if r.value == "" {
			continue
		}
		sb.WriteString(fmt.Sprintf("<tr><td style=\"padding: 8px; border: 1px solid #ddd; font-weight: bold;\">%s</td><td style=\"padding: 8px; border: 1px solid #ddd;\">%s</td></tr>", r.label, esc(r.value)))
	}
	sb.WriteString("</table>")

	sb.WriteString("<h3>Your duty</h3>")
	sb.WriteString(fmt.Sprintf("<div style=\"background: #f9f9f9; padding: 16px; border-radius: 4px; white-space: pre-wrap;\">%s</div>", esc(dutyText(inv))))

	if inv.Link != "" {
		sb.WriteString(fmt.Sprintf("<p><a href=\"%s\">Accept or decline</a></p>", esc(inv.Link)))
	}
	sb.WriteString("</body></html>")
	return sb.String()
}

// buildMultipartMessage renders a multipart/alternative message with a
// plain text part followed by the HTML part.
func buildMultipartMessage(cfg *EmailConfig, to, subject, text, htmlBody string) ([]byte, error) {
	var body strings.Builder
	mw := multipart.NewWriter(&body)

	for _, part := range []struct{ ctype, content string }{
		{"text/plain; charset=UTF-8", text},
		{"text/html; charset=UTF-8", htmlBody},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {part.ctype}})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(part.content)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var msg strings.Builder
	headers := []struct{ k, v string }{
		{"From", senderAddress(cfg)},
		{"To", to},
		{"Subject", subject},
		{"Date", time.Now().Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "multipart/alternative; boundary=" + mw.Boundary()},
	}
	for _, h := range headers {
		msg.WriteString(fmt.Sprintf("%s: %s\r\n", h.k, h.v))
	}
	msg.WriteString("\r\n")
	msg.WriteString(body.String())
	return []byte(msg.String()), nil
}

func senderAddress(cfg *EmailConfig) string {
	if cfg.From != "" {
		return cfg.From
	}
	return cfg.Username
}

func (s *EmailService) send(cfg *EmailConfig, to []string, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	from := senderAddress(cfg)

	var auth smtp.Auth
	if cfg.Username != "" && cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	if !cfg.UseTLS {
		return smtp.SendMail(addr, auth, from, to, msg)
	}

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: cfg.Host})
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		return err
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
