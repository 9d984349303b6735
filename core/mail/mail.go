package mail

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	netmail "net/mail"
	"net/textproto"
	"strings"
	"time"
)

// Message is one X-ARF mail: greeting, machine readable part and optional
// evidence, each a text/plain part.
type Message struct {
	From            string
	To              []string
	Subject         string
	Greeting        string
	MachineReadable []byte
	Evidence        []byte
	Date            time.Time
	// Boundary is generated when empty.
	Boundary string
}

func Compose(message Message) ([]byte, error) {
	from, err := netmail.ParseAddress(message.From)
	if err != nil {
		return nil, fmt.Errorf("parse sender %q: %w", message.From, err)
	}
	if len(message.To) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	recipients := make([]string, 0, len(message.To))
	for _, recipient := range message.To {
		address, err := netmail.ParseAddress(recipient)
		if err != nil {
			return nil, fmt.Errorf("parse recipient %q: %w", recipient, err)
		}
		recipients = append(recipients, address.String())
	}
	if len(bytes.TrimSpace(message.MachineReadable)) == 0 {
		return nil, fmt.Errorf("machine readable part is required")
	}
	date := message.Date
	if date.IsZero() {
		date = time.Now()
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if message.Boundary != "" {
		if err := writer.SetBoundary(message.Boundary); err != nil {
			return nil, fmt.Errorf("set boundary: %w", err)
		}
	}
	parts := [][]byte{[]byte(message.Greeting), message.MachineReadable}
	if len(message.Evidence) > 0 {
		parts = append(parts, message.Evidence)
	}
	for _, part := range parts {
		if err := writeTextPart(writer, part); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	var out bytes.Buffer
	headers := [][2]string{
		{"From", from.String()},
		{"To", strings.Join(recipients, ", ")},
		{"Subject", mime.QEncoding.Encode("utf-8", message.Subject)},
		{"Date", date.Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", mime.FormatMediaType("multipart/mixed", map[string]string{"boundary": writer.Boundary()})},
		{"X-XARF", "PLAIN"},
		{"Auto-Submitted", "auto-generated"},
	}
	for _, header := range headers {
		fmt.Fprintf(&out, "%s: %s\r\n", header[0], header[1])
	}
	out.WriteString("\r\n")
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func writeTextPart(writer *multipart.Writer, content []byte) error {
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", `text/plain; charset="utf-8"`)
	header.Set("Content-Transfer-Encoding", "quoted-printable")
	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create mail part: %w", err)
	}
	encoder := quotedprintable.NewWriter(part)
	if _, err := encoder.Write(content); err != nil {
		return fmt.Errorf("encode mail part: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("encode mail part: %w", err)
	}
	return nil
}
