package events

import (
	"context"
	"fmt"

	"github.com/trezcool/jotutor/core"
	"github.com/trezcool/jotutor/core/payment"
)

// LogPublisher only logs events. Used when no broker is configured.
type LogPublisher struct {
	logger core.Logger
}

var _ payment.EventPublisher = (*LogPublisher)(nil)

func NewLogPublisher(logger core.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, events ...payment.Event) error {
	for _, evt := range events {
		p.logger.Info(fmt.Sprintf("event %s", evt.Type), map[string]interface{}{
			"payment_id": evt.PaymentID,
			"order_id":   evt.OrderID,
			"user_id":    evt.UserID,
			"course_id":  evt.CourseID,
			"status":     evt.Status,
		})
	}
	return nil
}

func (p *LogPublisher) Close() error { return nil }
