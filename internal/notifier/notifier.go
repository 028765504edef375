// Package notifier turns order lifecycle events into customer emails.
package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/casca-store/storefront/internal/events"
	"github.com/casca-store/storefront/internal/mail"
	"github.com/casca-store/storefront/internal/store"
	"github.com/casca-store/storefront/pkg/models"
	"github.com/sirupsen/logrus"
)

var ErrNoRecipient = errors.New("no email address for order owner")

// Topics are the order topics the notifier subscribes to.
var Topics = []string{events.TopicOrderCancelled, events.TopicOrderStatusChanged}

type UserLookup interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

type Notifier struct {
	mailer *mail.Mailer
	users  UserLookup
	logger *logrus.Logger
}

// New returns a notifier. users may be nil, in which case events without
// a customer email are dead-lettered.
func New(mailer *mail.Mailer, users UserLookup, logger *logrus.Logger) *Notifier {
	return &Notifier{mailer: mailer, users: users, logger: logger}
}

// HandleOrderEvent implements events.Handler. Failures the mail provider
// rejects outright are permanent; everything else is retried.
func (n *Notifier) HandleOrderEvent(ctx context.Context, event events.OrderEvent) error {
	var send func(to string) error
	switch event.Type {
	case events.OrderCancelled:
		send = func(to string) error {
			return n.mailer.OrderCancelled(ctx, to, mail.OrderCancelled{OrderID: event.OrderID, Reason: event.Reason})
		}
	case events.OrderStatusChanged:
		send = func(to string) error {
			return n.mailer.StatusChanged(ctx, to, mail.StatusChanged{
				OrderID:        event.OrderID,
				Status:         event.Status,
				PreviousStatus: event.PreviousStatus,
			})
		}
	default:
		n.logger.WithField("event_type", event.Type).Debug("Ignoring order event")
		return nil
	}

	to, err := n.recipient(ctx, event)
	if err != nil {
		return err
	}
	if err := send(to); err != nil {
		if errors.Is(err, mail.ErrRejected) {
			return events.Permanent(err)
		}
		return err
	}

	n.logger.WithFields(logrus.Fields{
		"order_id":   event.OrderID,
		"event_type": event.Type,
	}).Info("Customer notified")
	return nil
}

func (n *Notifier) recipient(ctx context.Context, event events.OrderEvent) (string, error) {
	if event.CustomerEmail != "" {
		return event.CustomerEmail, nil
	}
	if n.users == nil || event.UserID == "" {
		return "", events.Permanent(ErrNoRecipient)
	}
	user, err := n.users.GetUser(ctx, event.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", events.Permanent(ErrNoRecipient)
		}
		return "", fmt.Errorf("failed to look up order owner: %w", err)
	}
	if user.Email == "" {
		return "", events.Permanent(ErrNoRecipient)
	}
	return user.Email, nil
}
