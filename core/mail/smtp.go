package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	coreerrors "github.com/davidahmann/xarf/core/errors"
)

type Sender interface {
	Send(ctx context.Context, from string, to []string, raw []byte) error
}

// SMTPSender delivers over plain SMTP, upgrading with STARTTLS when offered.
// PLAIN auth is used only when both credentials are set.
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string // #nosec G117 -- caller supplied credential.
	Timeout  time.Duration
}

func (s SMTPSender) Send(ctx context.Context, from string, to []string, raw []byte) error {
	if err := s.send(ctx, from, to, raw); err != nil {
		return coreerrors.Wrap(err, coreerrors.CategorySendFailure, "smtp_send_failed", "check mail server settings", false)
	}
	return nil
}

func (s SMTPSender) send(ctx context.Context, from string, to []string, raw []byte) error {
	host := strings.TrimSpace(s.Host)
	if host == "" {
		return fmt.Errorf("mail server host is required")
	}
	port := s.Port
	if port == 0 {
		port = 25
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("connect mail server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer func() {
		_ = client.Close()
	}()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.Username != "" && s.Password != "" {
		if err := client.Auth(smtp.PlainAuth("", s.Username, s.Password, host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, recipient := range to {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", recipient, err)
		}
	}
	data, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := data.Write(raw); err != nil {
		_ = data.Close()
		return fmt.Errorf("smtp write message: %w", err)
	}
	if err := data.Close(); err != nil {
		return fmt.Errorf("smtp finish message: %w", err)
	}
	return client.Quit()
}
