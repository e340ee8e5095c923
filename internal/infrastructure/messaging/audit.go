package messaging

import (
	"github.com/complyhub/guidance-core/internal/domain/shared"
	"github.com/complyhub/guidance-core/pkg/logger"
)

// AuditHandler logs every event at info level.
func AuditHandler(log *logger.Logger) shared.EventHandler {
	log = log.With(logger.Component("audit"))
	return func(event shared.Event) error {
		log.Info("domain event",
			logger.String("event_type", string(event.EventType())),
			logger.UserID(event.AggregateID()),
			logger.Time("occurred_at", event.OccurredAt()),
			logger.Any("payload", event.Payload()),
		)
		return nil
	}
}
