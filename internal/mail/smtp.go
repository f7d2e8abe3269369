package mail

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"

	"github.com/prn-tf/quill/internal/config"
)

// dialer is the part of gomail.Dialer used by SMTPSender.
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender delivers messages through an SMTP relay.
type SMTPSender struct {
	dialer   dialer
	from     string
	fromName string
	logger   zerolog.Logger
}

// NewSMTPSender creates a sender for the configured relay.
func NewSMTPSender(cfg config.MailConfig, logger zerolog.Logger) *SMTPSender {
	return &SMTPSender{
		dialer:   gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:     cfg.From,
		fromName: cfg.FromName,
		logger:   logger.With().Str("component", "smtp").Logger(),
	}
}

// Send implements Sender.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(s.from, s.fromName))
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)

	if err := s.dialer.DialAndSend(m); err != nil {
		s.logger.Error().
			Err(err).
			Str("kind", string(msg.Kind)).
			Str("to", msg.To).
			Msg("failed to send email")
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	s.logger.Debug().
		Str("kind", string(msg.Kind)).
		Str("to", msg.To).
		Msg("email sent")

	return nil
}

// LogSender writes messages to the logger instead of delivering them.
// Used in development when no relay is configured.
type LogSender struct {
	logger zerolog.Logger
}

// NewLogSender creates a logging sender.
func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "mail").Logger()}
}

// Send implements Sender.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Info().
		Str("kind", string(msg.Kind)).
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Str("body", msg.HTML).
		Msg("email (log driver)")
	return nil
}

// NewSender returns the sender selected by cfg.Driver.
func NewSender(cfg config.MailConfig, logger zerolog.Logger) Sender {
	if cfg.Driver == "smtp" {
		return NewSMTPSender(cfg, logger)
	}
	return NewLogSender(logger)
}

var (
	_ Sender = (*SMTPSender)(nil)
	_ Sender = (*LogSender)(nil)
)
