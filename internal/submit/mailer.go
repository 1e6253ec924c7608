package submit

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"mahgate/internal/logging"
)

type Message struct {
	Subject  string
	HTMLBody string
	ReplyTo  string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPMailer delivers the notification mail over plain SMTP with optional
// auth. net/smtp is deliberate: the message is a single fire-and-forget
// notification, nothing that needs a mail library.
type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	addr := fmt.Sprintf("%s:%d", m.Host, m.Port)

	var auth smtp.Auth
	if m.Username != "" {
		auth = smtp.PlainAuth("", m.Username, m.Password, m.Host)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: MahWAY <%s>\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	if msg.ReplyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\r\n", msg.ReplyTo)
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTMLBody)

	if err := smtp.SendMail(addr, auth, m.From, []string{m.To}, []byte(b.String())); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// LogMailer stands in for SMTP in development and tests.
type LogMailer struct {
	Logger logging.Logger
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.Logger.Info("mail suppressed", "subject", msg.Subject, "replyTo", msg.ReplyTo, "bytes", len(msg.HTMLBody))
	return nil
}
