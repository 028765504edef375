// Package events publishes order lifecycle events to Kafka and consumes
// them again in the notifier, with retry and a dead-letter topic.
package events

import (
	"context"
	"time"

	"github.com/casca-store/storefront/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	TopicOrderCreated       = "orders.created"
	TopicOrderPaid          = "orders.paid"
	TopicOrderCancelled     = "orders.cancelled"
	TopicOrderStatusChanged = "orders.status_changed"
	TopicNotificationsDLQ   = "orders.notifications.dlq"
)

type EventType string

const (
	OrderCreated       EventType = "order_created"
	OrderPaid          EventType = "order_paid"
	OrderCancelled     EventType = "order_cancelled"
	OrderStatusChanged EventType = "order_status_changed"
)

func (t EventType) Topic() string {
	switch t {
	case OrderCreated:
		return TopicOrderCreated
	case OrderPaid:
		return TopicOrderPaid
	case OrderCancelled:
		return TopicOrderCancelled
	default:
		return TopicOrderStatusChanged
	}
}

type OrderEvent struct {
	Type            EventType          `json:"type"`
	OrderID         string             `json:"order_id"`
	UserID          string             `json:"user_id"`
	ConfigurationID string             `json:"configuration_id"`
	Amount          models.Amount      `json:"amount"`
	Status          models.OrderStatus `json:"status"`
	PreviousStatus  models.OrderStatus `json:"previous_status,omitempty"`
	IsPaid          bool               `json:"is_paid"`
	Reason          string             `json:"reason,omitempty"`
	CustomerEmail   string             `json:"customer_email,omitempty"`
	EventTime       time.Time          `json:"event_time"`
}

// NewOrderEvent snapshots order into an event of type t.
func NewOrderEvent(t EventType, order *models.Order) OrderEvent {
	e := OrderEvent{
		Type:            t,
		OrderID:         order.ID,
		UserID:          order.UserID,
		ConfigurationID: order.ConfigurationID,
		Amount:          order.Amount,
		Status:          order.Status,
		IsPaid:          order.IsPaid,
	}
	if order.CancelReason != nil {
		e.Reason = *order.CancelReason
	}
	if order.User != nil {
		e.CustomerEmail = order.User.Email
	}
	return e
}

type Publisher interface {
	Publish(ctx context.Context, event OrderEvent) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, event OrderEvent) error { return nil }

// FanOut delivers each event to every publisher. Failures are logged and
// never returned: order writes have already committed when events go out.
type FanOut struct {
	publishers []Publisher
	logger     *logrus.Logger
}

func NewFanOut(logger *logrus.Logger, publishers ...Publisher) *FanOut {
	return &FanOut{publishers: publishers, logger: logger}
}

func (f *FanOut) Publish(ctx context.Context, event OrderEvent) error {
	if event.EventTime.IsZero() {
		event.EventTime = time.Now()
	}
	for _, p := range f.publishers {
		if err := p.Publish(ctx, event); err != nil {
			f.logger.WithError(err).WithFields(logrus.Fields{
				"event_type": event.Type,
				"order_id":   event.OrderID,
			}).Error("Failed to publish order event")
		}
	}
	return nil
}
