package notification

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

// EmailNotifier sends verification tokens over SMTP.
type EmailNotifier struct {
	from string
	send func(...*gomail.Message) error
}

// NewEmailNotifier dials the SMTP relay for every message.
func NewEmailNotifier(host string, port int, user, password, from string) *EmailNotifier {
	dialer := gomail.NewDialer(host, port, user, password)
	return &EmailNotifier{from: from, send: dialer.DialAndSend}
}

// Send implements Notifier. gomail has no context support, so the dial runs in its own
// goroutine and the caller stops waiting once ctx is done.
func (n *EmailNotifier) Send(ctx context.Context, message Message) error {
	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", message.Destination)
	subject := message.Subject
	if subject == "" {
		subject = "Verify your email"
	}
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", message.Body)

	done := make(chan error, 1)
	go func() { done <- n.send(m) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send verification email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send verification email: %w", ctx.Err())
	}
}
