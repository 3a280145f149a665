// Package outbound composes and delivers mail over SMTP.
package outbound

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
)

// Config describes the SMTP relay.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// UseTLS dials with implicit TLS (port 465 style); otherwise net/smtp
	// upgrades with STARTTLS when the server offers it.
	UseTLS bool
}

// Message is an outgoing mail composed by this package.
type Message struct {
	To          []string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Attachment is a file attached to an outgoing Message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Transport delivers an already serialised message.
type Transport func(from string, to []string, msg []byte) error

// Sender delivers mail through the configured relay.
type Sender struct {
	cfg       Config
	transport Transport
	now       func() time.Time
	logger    *log.Logger
}

// Option customizes a Sender.
type Option func(*Sender)

// WithTransport replaces SMTP delivery, mainly for tests.
func WithTransport(t Transport) Option {
	return func(s *Sender) {
		if t != nil {
			s.transport = t
		}
	}
}

// WithClock overrides the Date header clock.
func WithClock(now func() time.Time) Option {
	return func(s *Sender) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used for delivery diagnostics.
func WithLogger(logger *log.Logger) Option {
	return func(s *Sender) {
		s.logger = logger
	}
}

// NewSender returns a Sender for cfg.
func NewSender(cfg Config, opts ...Option) *Sender {
	s := &Sender{cfg: cfg, now: time.Now}
	s.transport = s.smtpTransport
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// SendRaw relays raw unmodified to the given recipients.
func (s *Sender) SendRaw(to []string, raw []byte) error {
	if len(to) == 0 {
		return errors.New("outbound: no recipients")
	}
	if err := s.transport(s.cfg.From, to, raw); err != nil {
		return fmt.Errorf("outbound: relay to %s: %w", strings.Join(to, ", "), err)
	}
	s.logf("relayed %d bytes to %s", len(raw), strings.Join(to, ", "))
	return nil
}

// Send composes msg and delivers it.
func (s *Sender) Send(msg *Message) error {
	if msg == nil || len(msg.To) == 0 {
		return errors.New("outbound: no recipients")
	}
	raw, err := Compose(s.cfg.From, msg, s.now())
	if err != nil {
		return err
	}
	if err := s.transport(s.cfg.From, msg.To, raw); err != nil {
		return fmt.Errorf("outbound: send %q: %w", msg.Subject, err)
	}
	s.logf("sent %q to %s", msg.Subject, strings.Join(msg.To, ", "))
	return nil
}

// Compose serialises msg as a MIME message. Text and HTML bodies become a
// multipart/alternative part; attachments are base64 encoded.
func Compose(from string, msg *Message, date time.Time) ([]byte, error) {
	var h gomail.Header
	h.SetDate(date)
	h.SetSubject(msg.Subject)
	h.SetAddressList("From", []*gomail.Address{{Address: from}})
	to := make([]*gomail.Address, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, &gomail.Address{Address: addr})
	}
	h.SetAddressList("To", to)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("outbound: message id: %w", err)
	}

	var buf bytes.Buffer
	if len(msg.Attachments) == 0 && (msg.Text == "" || msg.HTML == "") {
		mediaType, body := "text/plain", msg.Text
		if msg.HTML != "" {
			mediaType, body = "text/html", msg.HTML
		}
		h.SetContentType(mediaType, map[string]string{"charset": "utf-8"})
		w, err := gomail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, fmt.Errorf("outbound: create writer: %w", err)
		}
		if _, err := io.WriteString(w, body); err != nil {
			return nil, fmt.Errorf("outbound: write body: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("outbound: close body: %w", err)
		}
		return buf.Bytes(), nil
	}

	mw, err := gomail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("outbound: create writer: %w", err)
	}
	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("outbound: create inline: %w", err)
	}
	for _, alt := range []struct{ mediaType, body string }{{"text/plain", msg.Text}, {"text/html", msg.HTML}} {
		if alt.body == "" {
			continue
		}
		var ih gomail.InlineHeader
		ih.SetContentType(alt.mediaType, map[string]string{"charset": "utf-8"})
		pw, err := tw.CreatePart(ih)
		if err != nil {
			return nil, fmt.Errorf("outbound: create %s part: %w", alt.mediaType, err)
		}
		if _, err := io.WriteString(pw, alt.body); err != nil {
			return nil, fmt.Errorf("outbound: write %s part: %w", alt.mediaType, err)
		}
		if err := pw.Close(); err != nil {
			return nil, fmt.Errorf("outbound: close %s part: %w", alt.mediaType, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("outbound: close inline: %w", err)
	}

	for _, att := range msg.Attachments {
		ct := att.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		var ah gomail.AttachmentHeader
		ah.SetContentType(ct, nil)
		ah.SetFilename(att.Filename)
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("outbound: create attachment %s: %w", att.Filename, err)
		}
		if _, err := aw.Write(att.Content); err != nil {
			return nil, fmt.Errorf("outbound: write attachment %s: %w", att.Filename, err)
		}
		if err := aw.Close(); err != nil {
			return nil, fmt.Errorf("outbound: close attachment %s: %w", att.Filename, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("outbound: close message: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Sender) smtpTransport(from string, to []string, msg []byte) error {
	port := s.cfg.Port
	if port == 0 {
		if s.cfg.UseTLS {
			port = 465
		} else {
			port = 587
		}
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(port))

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	if !s.cfg.UseTLS {
		return smtp.SendMail(addr, auth, from, to, msg)
	}

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: s.cfg.Host})
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, recipient := range to {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("failed to add recipient %s: %w", recipient, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start data transfer: %w", err)
	}
	if _, err := writer.Write(msg); err != nil {
		return fmt.Errorf("failed to write email data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close data transfer: %w", err)
	}
	return client.Quit()
}

func (s *Sender) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
