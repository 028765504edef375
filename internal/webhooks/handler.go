// Package webhooks receives payment provider callbacks and marks the
// checked-out orders paid.
package webhooks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/casca-store/storefront/internal/events"
	"github.com/casca-store/storefront/internal/httpx"
	"github.com/casca-store/storefront/internal/mail"
	"github.com/casca-store/storefront/internal/orders"
	"github.com/casca-store/storefront/internal/payments"
	"github.com/casca-store/storefront/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v79"
)

const maxBodyBytes = 65536

var errInvalidMetadata = errors.New("Invalid request metadata")

type Handler struct {
	verifier  *payments.WebhookVerifier
	store     store.Store
	mailer    *mail.Mailer
	publisher events.Publisher
	logger    *logrus.Logger
	now       func() time.Time
}

func NewHandler(verifier *payments.WebhookVerifier, s store.Store, mailer *mail.Mailer, publisher events.Publisher, logger *logrus.Logger) *Handler {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Handler{
		verifier:  verifier,
		store:     s,
		mailer:    mailer,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleWebhook handles POST /api/webhooks.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.WithError(err).Error("Failed to read webhook body")
		respondFailure(w)
		return
	}

	event, err := h.verifier.Verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.WithError(err).Warn("Rejected webhook with invalid signature")
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	}

	logger := h.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
	})
	if string(event.Type) != payments.EventCheckoutSessionCompleted {
		logger.Debug("Ignoring webhook event")
		respondSuccess(w, event)
		return
	}

	if err := h.completeCheckout(r.Context(), event); err != nil {
		if errors.Is(err, errInvalidMetadata) {
			logger.WithError(err).Warn("Checkout event without user or order metadata")
			httpx.RespondWithJSON(w, http.StatusBadRequest, map[string]interface{}{
				"message": err.Error(),
				"ok":      false,
			})
			return
		}
		logger.WithError(err).Error("Failed to complete checkout")
		respondFailure(w)
		return
	}
	respondSuccess(w, event)
}

func (h *Handler) completeCheckout(ctx context.Context, event stripe.Event) error {
	checkout, err := payments.ParseCompletedCheckout(event)
	if err != nil {
		return err
	}

	userID := checkout.Metadata["userId"]
	raw := checkout.Metadata["orderIds"]
	if raw == "" {
		raw = checkout.Metadata["orderId"]
	}
	orderIDs := orders.SplitOrderIDs(raw)
	if userID == "" || len(orderIDs) == 0 {
		return errInvalidMetadata
	}

	details := store.PaymentDetails{Shipping: checkout.Shipping, Billing: checkout.Billing}
	var newlyPaid []string
	err = h.store.InTx(ctx, func(q store.Queries) error {
		newlyPaid = nil
		for _, id := range orderIDs {
			changed, err := q.MarkOrderPaid(ctx, id, userID, details, h.now().UTC())
			if err != nil {
				return fmt.Errorf("failed to mark order %s paid: %w", id, err)
			}
			if changed {
				newlyPaid = append(newlyPaid, id)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"session_id":  checkout.SessionID,
		"user_id":     userID,
		"order_ids":   raw,
		"newly_paid":  len(newlyPaid),
		"redelivered": len(newlyPaid) == 0,
	}).Info("Checkout completed")

	for _, id := range newlyPaid {
		order, err := h.store.GetOrder(ctx, id)
		if err != nil {
			h.logger.WithError(err).WithField("order_id", id).Error("Failed to load paid order for event")
			continue
		}
		event := events.NewOrderEvent(events.OrderPaid, order)
		if event.CustomerEmail == "" {
			event.CustomerEmail = checkout.CustomerEmail
		}
		if err := h.publisher.Publish(ctx, event); err != nil {
			h.logger.WithError(err).WithField("order_id", id).Error("Failed to publish order event")
		}
	}

	if len(newlyPaid) > 0 {
		h.sendConfirmation(ctx, checkout, orderIDs[0])
	}
	return nil
}

// sendConfirmation emails the customer about the first order of the
// batch. Failures are logged only.
func (h *Handler) sendConfirmation(ctx context.Context, checkout *payments.CompletedCheckout, orderID string) {
	logger := h.logger.WithField("order_id", orderID)
	if checkout.CustomerEmail == "" {
		logger.Warn("Missing customer email, skipping order confirmation")
		return
	}

	order, err := h.store.GetOrder(ctx, orderID)
	if err != nil {
		logger.WithError(err).Error("Failed to load order for confirmation email")
		return
	}

	err = h.mailer.OrderReceived(ctx, checkout.CustomerEmail, mail.OrderReceived{
		OrderID:   order.ID,
		OrderDate: order.CreatedAt,
		Shipping:  checkout.Shipping,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to send order confirmation email")
	}
}

func respondSuccess(w http.ResponseWriter, event stripe.Event) {
	httpx.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"result": event,
		"ok":     true,
	})
}

func respondFailure(w http.ResponseWriter) {
	httpx.RespondWithJSON(w, http.StatusInternalServerError, map[string]interface{}{
		"message": "Something went wrong",
		"ok":      false,
	})
}
