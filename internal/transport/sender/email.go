package sender

import (
	"context"
	"fmt"

	"eventdelivery/internal/entity"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/logger"
	"gopkg.in/gomail.v2"
)

// EmailSender delivers notifications over SMTP.
type EmailSender struct {
	dialer *gomail.Dialer
	from   string
	log    logger.Logger
}

func NewEmailSender(smtpHost string, smtpPort int, username, password, from string, log logger.Logger) *EmailSender {
	dialer := gomail.NewDialer(smtpHost, smtpPort, username, password)

	log.LogAttrs(context.Background(), logger.InfoLevel, "email sender initialized",
		logger.String("smtp_host", smtpHost),
		logger.Int("smtp_port", smtpPort),
		logger.String("from", from),
	)

	return &EmailSender{
		dialer: dialer,
		from:   from,
		log:    log,
	}
}

func (s *EmailSender) Send(ctx context.Context, contact string, n entity.NotificationPayload) entity.ChannelResult {
	email := gomail.NewMessage()
	email.SetHeader("From", s.from)
	email.SetHeader("To", contact)
	email.SetHeader("Subject", subjectFor(n))
	body := n.Message
	if n.ActionURL != "" {
		body = fmt.Sprintf("%s\n\n<a href=%q>View details</a>", body, n.ActionURL)
	}
	email.SetBody("text/html", body)

	s.log.LogAttrs(ctx, logger.DebugLevel, "sending email",
		logger.String("to", contact),
		logger.String("type", n.Type),
	)

	if err := s.dialer.DialAndSend(email); err != nil {
		return failureResult(fmt.Errorf("failed to send email: %w", err))
	}

	s.log.LogAttrs(ctx, logger.InfoLevel, "email sent",
		logger.String("to", contact),
		logger.String("type", n.Type),
	)

	return successResult(uuid.NewString(), 0)
}

func subjectFor(n entity.NotificationPayload) string {
	switch n.Priority {
	case entity.PriorityUrgent:
		return fmt.Sprintf("[URGENT] %s", n.Type)
	case entity.PriorityCritical:
		return fmt.Sprintf("[CRITICAL] %s", n.Type)
	default:
		return n.Type
	}
}
