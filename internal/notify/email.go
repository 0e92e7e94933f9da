package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"gopkg.in/gomail.v2"

	"crmsync/internal/models"
)

// MailSender is satisfied by *gomail.Dialer.
type MailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailAlerter struct {
	Sender MailSender
	From   string
	To     []string
}

func NewEmailAlerter(host string, port int, user, password, from string, to []string) *EmailAlerter {
	return &EmailAlerter{
		Sender: gomail.NewDialer(host, port, user, password),
		From:   from,
		To:     to,
	}
}

func (a *EmailAlerter) DeadLetter(_ context.Context, e *models.OutboxEntry) error {
	if len(a.To) == 0 {
		return nil
	}
	m := gomail.NewMessage()
	m.SetHeader("From", a.From)
	m.SetHeader("To", a.To...)
	m.SetHeader("Subject", Subject(e))

	m.SetBody("text/plain", FormatDeadLetter(e))
	m.AddAlternative("text/html", htmlBody(e))

	if err := a.Sender.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send dead letter email: %w", err)
	}
	return nil
}

func htmlBody(e *models.OutboxEntry) string {
	lines := strings.Split(FormatDeadLetter(e), "\n")
	for i, l := range lines {
		lines[i] = html.EscapeString(l)
	}
	return "<h3>" + lines[0] + "</h3><p>" + strings.Join(lines[1:], "<br>") + "</p>"
}
