// Package email delivers forwarded messages over SMTP using go-mail.
package email

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/kart-io/smsforward/pkg/executor"
	"github.com/kart-io/smsforward/pkg/logger"
	"github.com/kart-io/smsforward/pkg/model"
)

// Sender implements executor.EmailSender. A new SMTP session is opened per
// message so destination changes take effect immediately.
type Sender struct {
	timeout time.Duration
	limiter *RateLimiter
	logger  logger.Logger
}

var _ executor.EmailSender = (*Sender)(nil)

// Option configures a Sender.
type Option func(*Sender)

// WithTimeout sets the go-mail client timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Sender) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRateLimit caps submissions to rate per window.
func WithRateLimit(rate, burst int, window time.Duration) Option {
	return func(s *Sender) {
		if rate > 0 {
			s.limiter = NewRateLimiter(rate, burst, window)
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Sender) { s.logger = logger.OrDiscard(l) }
}

// NewSender creates a go-mail backed Sender.
func NewSender(opts ...Option) *Sender {
	s := &Sender{timeout: 30 * time.Second, logger: logger.Discard}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send delivers subject/body to dest.ReceiverEmail.
func (s *Sender) Send(ctx context.Context, dest model.Destination, subject, body string) error {
	if dest.SMTPHost == "" {
		return executor.NewSendError(model.FailureEmailConfig, "smtp host is not configured", nil)
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait for send slot: %w", err)
		}
	}

	m, err := buildMessage(dest, subject, body)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(dest.SMTPHost, clientOptions(dest, s.timeout)...)
	if err != nil {
		s.logger.Error("Failed to create mail client", "host", dest.SMTPHost, "port", dest.SMTPPort, "error", err)
		return executor.NewSendError(model.FailureEmailConfig, "create mail client", err)
	}

	s.logger.Debug("Sending email", "host", dest.SMTPHost, "port", dest.SMTPPort, "to", dest.ReceiverEmail)
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return toSendError("send email", err)
	}
	return nil
}

// Check dials and authenticates against dest without sending.
func (s *Sender) Check(ctx context.Context, dest model.Destination) error {
	if dest.SMTPHost == "" {
		return executor.NewSendError(model.FailureEmailConfig, "smtp host is not configured", nil)
	}
	client, err := mail.NewClient(dest.SMTPHost, clientOptions(dest, s.timeout)...)
	if err != nil {
		return executor.NewSendError(model.FailureEmailConfig, "create mail client", err)
	}
	if err := client.DialWithContext(ctx); err != nil {
		return toSendError("connect to SMTP server", err)
	}
	_ = client.Close()
	return nil
}

func buildMessage(dest model.Destination, subject, body string) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(dest.SenderEmail); err != nil {
		return nil, executor.NewSendError(model.FailureEmailConfig, "set From address", err)
	}
	if err := m.To(dest.ReceiverEmail); err != nil {
		return nil, executor.NewSendError(model.FailureEmailConfig, "set To address", err)
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, body)
	return m, nil
}

func clientOptions(dest model.Destination, timeout time.Duration) []mail.Option {
	opts := []mail.Option{
		mail.WithTimeout(timeout),
	}

	switch {
	case dest.EnableSSL:
		opts = append(opts, mail.WithSSL())
	case dest.EnableTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if dest.SMTPPort > 0 {
		opts = append(opts, mail.WithPort(dest.SMTPPort))
	}

	if dest.SenderPassword != "" {
		opts = append(opts,
			mail.WithSMTPAuth(authMechanism(dest.Provider)),
			mail.WithUsername(dest.SenderEmail),
			mail.WithPassword(dest.SenderPassword),
		)
	}
	return opts
}

// authMechanism picks the SMTP AUTH method. Office 365 rejects PLAIN on
// submission ports.
func authMechanism(provider string) mail.SMTPAuthType {
	switch strings.ToLower(provider) {
	case "outlook", "office365", "hotmail":
		return mail.SMTPAuthLogin
	}
	return mail.SMTPAuthPlain
}
