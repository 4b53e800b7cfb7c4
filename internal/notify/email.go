// ABOUTME: Outbound mail using go-mail: SMTP dial-per-send, or .eml files when a debug directory is set.
// ABOUTME: One message per recipient user; subject is stripped of CR/LF before use.
package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"

	"github.com/keystone-hpc/keystone/internal/config"
)

// Email is a rendered multipart message ready for delivery.
type Email struct {
	To      []string
	Subject string
	HTML    string
	Text    string
}

// Mailer delivers rendered messages.
type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// NewMailer returns a FileMailer when cfg.DebugDir is set, otherwise an SMTPMailer.
func NewMailer(cfg config.EmailConfig) Mailer {
	if cfg.DebugDir != "" {
		return &FileMailer{Dir: cfg.DebugDir, FromName: cfg.FromName, From: cfg.FromAddress}
	}
	return &SMTPMailer{cfg: cfg}
}

// SMTPMailer sends through the configured SMTP relay.
// Uses DialAndSend (dial-per-send); sweep traffic is a burst once a day.
type SMTPMailer struct {
	cfg config.EmailConfig
}

// Send delivers e over SMTP.
func (s *SMTPMailer) Send(ctx context.Context, e Email) error {
	m, err := buildMessage(s.cfg.FromName, s.cfg.FromAddress, e)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(s.cfg.SMTPPort),
	}
	if s.cfg.SMTPUsername != "" {
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthPlain))
		opts = append(opts, mail.WithUsername(s.cfg.SMTPUsername))
		opts = append(opts, mail.WithPassword(s.cfg.SMTPPassword))
	}
	if s.cfg.SMTPTLS {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSOpportunistic))
	}

	c, err := mail.NewClient(s.cfg.SMTPHost, opts...)
	if err != nil {
		return fmt.Errorf("email send: create client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("email send: %w", err)
	}
	return nil
}

// FileMailer writes each message as an .eml file into Dir.
type FileMailer struct {
	Dir      string
	FromName string
	From     string
}

// Send writes e to <Dir>/<timestamp>-<uuid>.eml.
func (f *FileMailer) Send(_ context.Context, e Email) error {
	if err := os.MkdirAll(f.Dir, 0o750); err != nil {
		return fmt.Errorf("email write: create dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s.eml", time.Now().UTC().Format("20060102T150405"), uuid.New())
	return WriteEML(filepath.Join(f.Dir, name), f.FromName, f.From, e)
}

// WriteEML renders e as an RFC 5322 message and writes it to path.
func WriteEML(path, fromName, from string, e Email) error {
	m, err := buildMessage(fromName, from, e)
	if err != nil {
		return err
	}
	m.SetDate()
	m.SetMessageID()
	if err := m.WriteToFile(path); err != nil {
		return fmt.Errorf("email write %s: %w", path, err)
	}
	return nil
}

func buildMessage(fromName, from string, e Email) (*mail.Msg, error) {
	if len(e.To) == 0 {
		return nil, errors.New("email send: no recipients")
	}

	m := mail.NewMsg()
	if err := m.FromFormat(fromName, from); err != nil {
		return nil, fmt.Errorf("email send: set from: %w", err)
	}
	if err := m.To(e.To...); err != nil {
		return nil, fmt.Errorf("email send: set to: %w", err)
	}
	m.Subject(sanitizeSubject(e.Subject))
	m.SetBodyString(mail.TypeTextPlain, e.Text)
	m.AddAlternativeString(mail.TypeTextHTML, e.HTML)
	return m, nil
}

// sanitizeSubject strips CR/LF to prevent email header injection.
func sanitizeSubject(s string) string {
	s = strings.TrimSpace(s)
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}
