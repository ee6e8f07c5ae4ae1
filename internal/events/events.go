// Package events publishes order lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Type вид события жизненного цикла заказа
type Type string

const (
	OrderCreated       Type = "order.created"
	OrderPaid          Type = "order.paid"
	OrderPaymentFailed Type = "order.payment_failed"
	OrderDelivered     Type = "order.delivered"
	OrderDeleted       Type = "order.deleted"
)

// Event envelope. OrderID is also the message key, so events of one order stay
// in one partition.
type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	OrderID    string         `json:"orderId"`
	UserID     string         `json:"userId,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Data       map[string]any `json:"data,omitempty"`
}

// New builds an event with a fresh id.
func New(t Type, orderID, userID string, data map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		OrderID:    orderID,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// Publisher отправляет события; ошибки публикации не отменяют бизнес-операцию
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// LogPublisher пишет события только в лог, когда брокеры не настроены
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	p.log.Info().Str("event_type", string(e.Type)).Str("order_id", e.OrderID).RawJSON("event", body).Msg("event published")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
