package alert

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/corelinkhq/platform-core/internal/model"
	"github.com/corelinkhq/platform-core/pkg/logger"
)

type Config struct {
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
	To       []string
}

// Mailer notifies operators when an outbox event is parked as FAILED.
// Mail delivery is best effort; failures are logged, never retried, and
// never affect the relay.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
	to     []string
	logger *logger.Logger
}

func NewMailer(cfg Config, logger *logger.Logger) *Mailer {
	return &Mailer{
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.Username, cfg.Password),
		from:   cfg.From,
		to:     cfg.To,
		logger: logger,
	}
}

func (m *Mailer) EventFailed(ctx context.Context, event *model.OutboxEvent) {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", m.to...)
	msg.SetHeader("Subject", fmt.Sprintf("[outbox] event %s failed after %d attempts", event.ID, event.RetryCount+1))

	errText := ""
	if event.ErrorMessage != nil {
		errText = *event.ErrorMessage
	}
	msg.SetBody("text/plain", fmt.Sprintf(
		"Outbox event exhausted its retries and requires manual intervention.\n\n"+
			"Event ID: %s\nAggregate: %s/%s\nEvent type: %s\nCreated at: %s\nLast error: %s\n",
		event.ID, event.AggregateType, event.AggregateID, event.EventType,
		event.CreatedAt.Format("2006-01-02 15:04:05 MST"), errText,
	))

	if err := m.dialer.DialAndSend(msg); err != nil {
		m.logger.Error(err, "failed to send failure alert",
			"event_id", event.ID.String())
	}
}

// Nop is the alerter used when mail alerts are disabled.
type Nop struct{}

func (Nop) EventFailed(context.Context, *model.OutboxEvent) {}
