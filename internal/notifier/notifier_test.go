package notifier

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/casca-store/storefront/internal/events"
	"github.com/casca-store/storefront/internal/mail"
	"github.com/casca-store/storefront/internal/store"
	"github.com/casca-store/storefront/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	sent []mail.Message
	err  error
}

func (s *recordingSender) Send(ctx context.Context, msg mail.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func newNotifier(sender mail.Sender, users UserLookup) *Notifier {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return New(mail.NewMailer(sender, logger), users, logger)
}

func TestNotifier_StatusChanged(t *testing.T) {
	sender := &recordingSender{}
	n := newNotifier(sender, nil)

	err := n.HandleOrderEvent(context.Background(), events.OrderEvent{
		Type:           events.OrderStatusChanged,
		OrderID:        "order-1",
		Status:         models.OrderStatusShipped,
		PreviousStatus: models.OrderStatusProcessing,
		CustomerEmail:  "asha@example.com",
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, []string{"asha@example.com"}, sender.sent[0].To)
	assert.Equal(t, "Your Casca order is shipped", sender.sent[0].Subject)
}

func TestNotifier_CancelledLooksUpOwner(t *testing.T) {
	s := store.NewMemoryStore()
	_, err := s.UpsertUser(context.Background(), &models.User{ID: "user-1", Email: "owner@example.com"}, time.Now())
	require.NoError(t, err)

	sender := &recordingSender{}
	n := newNotifier(sender, s)
	require.NoError(t, n.HandleOrderEvent(context.Background(), events.OrderEvent{
		Type:    events.OrderCancelled,
		OrderID: "order-1",
		UserID:  "user-1",
		Reason:  "changed my mind",
	}))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, []string{"owner@example.com"}, sender.sent[0].To)
	assert.Contains(t, sender.sent[0].HTML, "changed my mind")
}

func TestNotifier_Errors(t *testing.T) {
	ctx := context.Background()

	err := newNotifier(&recordingSender{}, store.NewMemoryStore()).HandleOrderEvent(ctx, events.OrderEvent{
		Type: events.OrderCancelled, OrderID: "o", UserID: "ghost",
	})
	assert.ErrorIs(t, err, ErrNoRecipient)
	assert.True(t, events.IsPermanent(err))

	rejected := &recordingSender{err: fmt.Errorf("resend: %w", mail.ErrRejected)}
	err = newNotifier(rejected, nil).HandleOrderEvent(ctx, events.OrderEvent{
		Type: events.OrderCancelled, OrderID: "o", CustomerEmail: "a@example.com",
	})
	assert.True(t, events.IsPermanent(err))

	flaky := &recordingSender{err: errors.New("connection reset")}
	err = newNotifier(flaky, nil).HandleOrderEvent(ctx, events.OrderEvent{
		Type: events.OrderStatusChanged, OrderID: "o", Status: models.OrderStatusDelivered, CustomerEmail: "a@example.com",
	})
	require.Error(t, err)
	assert.False(t, events.IsPermanent(err))
}

func TestNotifier_IgnoresOtherEvents(t *testing.T) {
	sender := &recordingSender{}
	require.NoError(t, newNotifier(sender, nil).HandleOrderEvent(context.Background(), events.OrderEvent{
		Type: events.OrderPaid, OrderID: "o", CustomerEmail: "a@example.com",
	}))
	assert.Empty(t, sender.sent)
}
