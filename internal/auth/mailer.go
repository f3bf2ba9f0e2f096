package auth

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/gomail.v2"
)

// Mailer delivers one-time codes.
type Mailer interface {
	SendOTP(ctx context.Context, to, code string) error
}

// SMTPMailer sends codes over SMTP.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(host string, port int, username, password, from string) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func (m *SMTPMailer) SendOTP(ctx context.Context, to, code string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", "Your numtrack login code")
	msg.SetBody("text/plain", fmt.Sprintf("Your login code is %s.\n\nIf you did not request it, ignore this email.\n", code))

	if err := m.dialer.DialAndSend(msg); err != nil {
		slog.ErrorContext(ctx, "Failed to send OTP email", "component", "auth", "error", err)
		return fmt.Errorf("send otp email: %w", err)
	}
	slog.InfoContext(ctx, "OTP email sent", "component", "auth")
	return nil
}

// LogMailer logs codes instead of sending them. Development only.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) SendOTP(ctx context.Context, to, code string) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "SMTP not configured, logging OTP code", "component", "auth", "to", to, "otp", code)
	return nil
}
