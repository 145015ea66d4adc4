package notifier

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// DialFunc opens the connection to the SMTP relay.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// EmailChannel sends plain-text mail through an SMTP relay without auth.
type EmailChannel struct {
	server     string
	sender     string
	recipients []string
	dial       DialFunc
}

// NewEmailChannel creates an SMTP channel. A server without a port gets :25.
func NewEmailChannel(server, sender string, recipients []string) (*EmailChannel, error) {
	if server == "" {
		return nil, errors.New("email server is required")
	}
	if sender == "" {
		return nil, errors.New("email sender is required")
	}
	if len(recipients) == 0 {
		return nil, errors.New("at least one email recipient is required")
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "25")
	}
	return &EmailChannel{
		server:     server,
		sender:     sender,
		recipients: append([]string(nil), recipients...),
		dial:       (&net.Dialer{}).DialContext,
	}, nil
}

// WithDialer replaces the connection dialer.
func (e *EmailChannel) WithDialer(fn DialFunc) *EmailChannel {
	if fn != nil {
		e.dial = fn
	}
	return e
}

// Name returns "email".
func (e *EmailChannel) Name() string { return "email" }

// Send delivers msg to every recipient in one SMTP transaction. The whole
// exchange is bounded by ctx.
func (e *EmailChannel) Send(ctx context.Context, msg Message) error {
	if err := e.send(ctx, e.compose(msg)); err != nil {
		return fmt.Errorf("send email via %s: %w", e.server, err)
	}
	return nil
}

func (e *EmailChannel) send(ctx context.Context, raw []byte) error {
	conn, err := e.dial(ctx, "tcp", e.server)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}
	// unblock any pending read or write on cancellation
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	host, _, _ := net.SplitHostPort(e.server)
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if err := c.Mail(e.sender); err != nil {
		return err
	}
	for _, rcpt := range e.recipients {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (e *EmailChannel) compose(msg Message) []byte {
	var b strings.Builder
	b.WriteString("Subject: " + headerValue(msg.Subject) + "\r\n")
	b.WriteString("From: " + headerValue(e.sender) + "\r\n")
	b.WriteString("To: " + headerValue(strings.Join(e.recipients, "; ")) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

var headerReplacer = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// headerValue folds line breaks so a value can never start a new header.
func headerValue(s string) string {
	return headerReplacer.Replace(s)
}
