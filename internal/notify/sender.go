// Package notify mails cycle reports over SMTP.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strconv"
	"time"

	"github.com/jordan-wright/email"

	"moneyboxes/internal/log"
)

// ErrNotConfigured is returned by SendTestEmail when SMTP is disabled.
var ErrNotConfigured = errors.New("smtp not configured")

// SMTPConfig holds the outgoing mail settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether mail can be sent at all.
func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

func (c SMTPConfig) addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

type sendFunc func(e *email.Email, addr string, auth smtp.Auth) error

// Sender delivers report mails. A Sender built from a disabled config
// accepts every report and drops it.
type Sender struct {
	cfg    SMTPConfig
	logger *log.Logger
	send   sendFunc
	now    func() time.Time
}

func NewSender(cfg SMTPConfig, logger *log.Logger) *Sender {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Sender{
		cfg:    cfg,
		logger: logger.WithComponent(log.ComponentNotify),
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
		now: time.Now,
	}
}

// Enabled reports whether the sender actually delivers mail.
func (s *Sender) Enabled() bool {
	return s.cfg.Enabled()
}

// SendCycleReport renders r and mails it to the given address.
func (s *Sender) SendCycleReport(ctx context.Context, to string, r Report) error {
	if !s.Enabled() {
		s.logger.DebugContext(ctx, "SMTP not configured, skipping cycle report", log.FieldRecipient, to)
		return nil
	}
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = s.now()
	}

	plain, html, err := RenderCycleReport(r)
	if err != nil {
		return err
	}

	e := email.NewEmail()
	e.Subject = Subject(r.GeneratedAt)
	e.Text = []byte(plain)
	e.HTML = []byte(html)
	return s.deliver(ctx, e, to)
}

// SendTestEmail checks the SMTP settings with a short plain message.
func (s *Sender) SendTestEmail(ctx context.Context, to string) error {
	if !s.Enabled() {
		return ErrNotConfigured
	}
	e := email.NewEmail()
	e.Subject = fmt.Sprintf("Test Email from moneyboxes (%s)", s.now().UTC().Format("2006-01-02 15:04:05"))
	e.Text = []byte("This is a test email.\nYour SMTP outgoing data are correct, congratulations! :)")
	return s.deliver(ctx, e, to)
}

func (s *Sender) deliver(ctx context.Context, e *email.Email, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.From = s.cfg.From
	e.To = []string{to}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	start := time.Now()
	if err := s.send(e, s.cfg.addr(), auth); err != nil {
		s.logger.LogError(ctx, "Failed to send email", err, log.OpSendMail,
			log.LogFields{log.FieldRecipient: to})
		return fmt.Errorf("send email: %w", err)
	}

	s.logger.InfoContext(ctx, "Email sent",
		log.FieldRecipient, to,
		"subject", e.Subject,
		log.FieldDuration, time.Since(start).Milliseconds())
	return nil
}
