// Package mail sends outbound email over SMTP. The outbox worker is the only
// production caller; everything else enqueues instead of sending directly.
package mail

import (
	"crypto/tls"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/patrckmello/zg-planner/internal/config"
)

// Message is one outbound email. Attachments reference files on disk and are
// skipped, not failed, when they exceed the configured size cap.
type Message struct {
	To          []string
	Subject     string
	HTMLBody    string
	TextBody    string
	Attachments []string
}

// Sender delivers a message to a single recipient group.
type Sender interface {
	Send(msg Message) error
}

// SMTPSender sends through a configured SMTP relay using STARTTLS.
type SMTPSender struct {
	dialer      *gomail.Dialer
	senderName  string
	senderEmail string
	maxAttach   int64
	log         *zap.Logger
}

func NewSMTPSender(cfg *config.Config, logger *zap.Logger) *SMTPSender {
	d := gomail.NewDialer(cfg.MailHost, cfg.MailPort, cfg.MailUsername, cfg.MailPassword)
	if cfg.MailUseTLS {
		d.TLSConfig = &tls.Config{ServerName: cfg.MailHost}
	}
	return &SMTPSender{
		dialer:      d,
		senderName:  cfg.MailSenderName,
		senderEmail: cfg.MailSenderEmail,
		maxAttach:   int64(cfg.MailMaxAttachmentMB) * 1024 * 1024,
		log:         logger.Named("mail"),
	}
}

func (s *SMTPSender) Send(msg Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("message has no recipients")
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.senderEmail, s.senderName)
	m.SetHeader("To", msg.To...)
	m.SetHeader("Subject", msg.Subject)

	if msg.TextBody != "" {
		m.SetBody("text/plain", msg.TextBody)
		if msg.HTMLBody != "" {
			m.AddAlternative("text/html", msg.HTMLBody)
		}
	} else {
		m.SetBody("text/html", msg.HTMLBody)
	}

	for _, path := range msg.Attachments {
		info, err := os.Stat(path)
		if err != nil {
			s.log.Warn("attachment_unreadable", zap.String("path", path), zap.Error(err))
			continue
		}
		if s.maxAttach > 0 && info.Size() > s.maxAttach {
			s.log.Warn("attachment_too_large",
				zap.String("path", path),
				zap.Int64("size_bytes", info.Size()))
			continue
		}
		m.Attach(path)
	}

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
