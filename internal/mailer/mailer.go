// Package mailer delivers notification email over SMTP, with a log-only
// fallback when no SMTP account is configured.
package mailer

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
)

// Client sends mail through a single SMTP account. With Skip set it logs the
// message instead and hands back a log:// preview reference, which keeps dev
// environments working without credentials.
type Client struct {
	Host string
	Port int
	User string
	Pass string
	From string
	Skip bool
}

// New creates a mail client. Skip mode engages automatically when host or
// credentials are missing.
func New(host string, port int, user, pass, from string) *Client {
	return &Client{
		Host: host,
		Port: port,
		User: user,
		Pass: pass,
		From: from,
		Skip: host == "" || user == "" || pass == "",
	}
}

// Send delivers one message and returns a preview reference. The html body is
// preferred when present; text is the plain fallback.
func (c *Client) Send(ctx context.Context, to, subject, text, html string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if to == "" {
		return "", fmt.Errorf("recipient required")
	}

	if c.Skip {
		ref := "log://" + uuid.NewString()
		log.Printf("mail (not delivered, smtp unconfigured) to=%s subject=%q ref=%s", to, subject, ref)
		return ref, nil
	}

	body, contentType := text, "text/plain; charset=utf-8"
	if html != "" {
		body, contentType = html, "text/html; charset=utf-8"
	}
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", c.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\nContent-Type: %s\r\n\r\n", contentType)
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", c.Host, c.Port)
	auth := smtp.PlainAuth("", c.User, c.Pass, c.Host)
	if err := smtp.SendMail(addr, auth, c.From, []string{to}, []byte(msg.String())); err != nil {
		return "", fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return "", nil
}
