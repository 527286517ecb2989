// Package notify delivers human-facing run messages.
package notify

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	appcontext "github.com/fartrucking/far-warehousing/pkg/context"
	"github.com/fartrucking/far-warehousing/pkg/events"
	"github.com/fartrucking/far-warehousing/pkg/metrics"
)

// Notifier delivers a message. Delivery failures are logged, never returned.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// Multi fans a message out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, message string) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, message)
		}
	}
}

// Log writes messages to the service log.
type Log struct {
	Logger ectologger.Logger
}

func (l Log) Notify(ctx context.Context, message string) {
	l.Logger.WithContext(ctx).WithField("channel", "log").Info(message)
	metrics.RecordNotification("log", "sent")
}

// Events publishes messages as notification events.
type Events struct {
	publisher events.Publisher
	subject   string
	logger    ectologger.Logger
}

func NewEvents(publisher events.Publisher, subject string, logger ectologger.Logger) *Events {
	return &Events{publisher: publisher, subject: subject, logger: logger}
}

func (e *Events) Notify(ctx context.Context, message string) {
	err := e.publisher.Publish(ctx, events.Event{
		Type:      events.TypeNotification,
		RunID:     appcontext.GetRunID(ctx),
		Subject:   e.subject,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		metrics.RecordNotification("kafka", "error")
		e.logger.WithContext(ctx).WithError(err).Error("Failed to publish notification")
		return
	}
	metrics.RecordNotification("kafka", "sent")
}
