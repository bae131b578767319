package sender

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SMTPConfig points at the outbound mail relay.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	From     string `yaml:"from"`
	Password string `yaml:"password"`
}

// SMTP sends email over a STARTTLS relay.
type SMTP struct {
	cfg    SMTPConfig
	logger *zap.Logger
}

func NewSMTP(cfg SMTPConfig, logger *zap.Logger) *SMTP {
	return &SMTP{cfg: cfg, logger: logger}
}

func (s *SMTP) SendEmail(ctx context.Context, msg EmailMessage) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	client, err := smtp.Dial(s.cfg.Host + ":" + s.cfg.Port)
	if err != nil {
		return Result{}, fmt.Errorf("failed to dial smtp relay: %w", err)
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
		return Result{}, fmt.Errorf("failed to start tls: %w", err)
	}
	auth := smtp.PlainAuth("", s.cfg.From, s.cfg.Password, s.cfg.Host)
	if err := client.Auth(auth); err != nil {
		return Result{}, fmt.Errorf("failed to authenticate: %w", err)
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return Result{}, fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return Result{}, fmt.Errorf("failed to set recipient: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return Result{}, fmt.Errorf("failed to open data writer: %w", err)
	}

	messageID := uuid.NewString()
	var b strings.Builder
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", messageID, s.cfg.Host)
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.WriteString(msg.HTML)

	if _, err := w.Write([]byte(b.String())); err != nil {
		w.Close()
		return Result{}, fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return Result{}, fmt.Errorf("failed to finish message: %w", err)
	}
	if err := client.Quit(); err != nil {
		s.logger.Warn("SMTP quit failed after successful send", zap.Error(err))
	}

	return Result{ProviderID: messageID}, nil
}
