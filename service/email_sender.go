package services

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"strings"
)

// Sender delivers one HTML email.
type Sender interface {
	Send(ctx context.Context, to []string, subject, htmlBody string) error
}

// SMTPConfig holds SMTP relay settings.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// SMTPSender delivers through an SMTP relay with PLAIN auth.
type SMTPSender struct {
	cfg      SMTPConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg, sendMail: smtp.SendMail}
}

// NewSender returns an SMTPSender when configured, otherwise a LogSender.
func NewSender(cfg SMTPConfig) Sender {
	if cfg.Host == "" || cfg.From == "" {
		log.Println("[NewSender] SMTP not configured, emails are logged instead of delivered")
		return LogSender{}
	}
	return NewSMTPSender(cfg)
}

func (s *SMTPSender) Send(ctx context.Context, to []string, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}
	message := buildMessage(s.cfg.From, to, subject, htmlBody)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := s.sendMail(s.cfg.Host+":"+s.cfg.Port, auth, s.cfg.From, to, message); err != nil {
		log.Printf("[SMTPSender.Send] Error sending %q to %v: %v", subject, to, err)
		return fmt.Errorf("smtp send failed: %w", err)
	}
	log.Printf("[SMTPSender.Send] Email %q sent successfully to %v", subject, to)
	return nil
}

func buildMessage(from string, to []string, subject, htmlBody string) []byte {
	return []byte("Subject: " + headerValue(subject) + "\r\n" +
		"From: " + from + "\r\n" +
		"To: " + strings.Join(to, ", ") + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
		htmlBody)
}

// headerValue keeps a header on one line.
func headerValue(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

// LogSender only logs. It is used when no SMTP relay is configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, to []string, subject, _ string) error {
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}
	log.Printf("[LogSender.Send] Would send %q to %v", subject, to)
	return nil
}
