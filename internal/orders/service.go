// Package orders turns carts into orders and manages their lifecycle after
// checkout: cancellation, status updates and the thank-you page lookup.
package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/casca-store/storefront/internal/configuration"
	"github.com/casca-store/storefront/internal/events"
	"github.com/casca-store/storefront/internal/pricing"
	"github.com/casca-store/storefront/internal/store"
	"github.com/casca-store/storefront/pkg/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrOrderNotFound         = errors.New("order not found")
	ErrCannotCancel          = errors.New("cannot cancel this order")
	ErrConfigurationNotFound = errors.New("configuration not found")
	ErrOpenOrderExists       = errors.New("another open order exists for this configuration")
)

type Service struct {
	store     store.Store
	resolver  *configuration.Resolver
	publisher events.Publisher
	logger    *logrus.Logger
	now       func() time.Time

	userLocks sync.Map // user id -> *sync.Mutex
}

func NewService(s store.Store, resolver *configuration.Resolver, publisher events.Publisher, logger *logrus.Logger) *Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Service{
		store:     s,
		resolver:  resolver,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) lockUser(userID string) func() {
	v, _ := s.userLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Materialize creates, or reuses, one open order per distinct
// configuration in items. Either every line is materialized or nothing is
// written.
func (s *Service) Materialize(ctx context.Context, userID string, items []models.CartItem) ([]models.OrderWithPricing, error) {
	defer s.lockUser(userID)()

	var (
		result  []models.OrderWithPricing
		created []models.Order
	)
	err := s.store.InTx(ctx, func(q store.Queries) error {
		result, created = nil, nil
		seen := make(map[string]bool, len(items))

		for _, item := range items {
			cfg, err := s.resolver.ForCartItem(ctx, q, item)
			if errors.Is(err, configuration.ErrNotFound) {
				return ErrConfigurationNotFound
			}
			if err != nil {
				return err
			}
			if seen[cfg.ID] {
				continue
			}
			seen[cfg.ID] = true

			price := pricing.PriceFor(*cfg)
			now := s.now().UTC()
			candidate := &models.Order{
				ID:              uuid.New().String(),
				UserID:          userID,
				ConfigurationID: cfg.ID,
				Amount:          price,
				Status:          models.OrderStatusPending,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			order, isNew, err := q.CreateOrderIfAbsent(ctx, candidate)
			if err != nil {
				return fmt.Errorf("failed to materialize order for configuration %s: %w", cfg.ID, err)
			}
			if isNew {
				created = append(created, *order)
			}

			// A reused order keeps its own amount; the price reflects the
			// configuration as it is now.
			result = append(result, models.OrderWithPricing{
				Order:         *order,
				Configuration: *cfg,
				Price:         price,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range created {
		s.publish(ctx, events.NewOrderEvent(events.OrderCreated, &created[i]))
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":     userID,
		"items_count": len(items),
		"orders":      len(result),
		"created":     len(created),
	}).Info("Cart materialized")
	return result, nil
}

// Cancel moves a non-terminal order of userID to CANCELLED. Orders of other
// users are reported as not found.
func (s *Service) Cancel(ctx context.Context, orderID, userID, reason string) (*models.Order, error) {
	var (
		cancelled *models.Order
		previous  models.OrderStatus
	)
	err := s.store.InTx(ctx, func(q store.Queries) error {
		current, err := q.GetOrderForUser(ctx, orderID, userID)
		if err != nil {
			return mapNotFound(err)
		}
		if current.Status.IsTerminal() {
			return ErrCannotCancel
		}
		previous = current.Status

		order, changed, err := q.CancelOrder(ctx, orderID, userID, reason, s.now().UTC())
		if err != nil {
			return mapNotFound(err)
		}
		if !changed {
			return ErrCannotCancel
		}
		cancelled = order
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrCannotCancel) {
			s.logger.WithFields(logrus.Fields{
				"order_id": orderID,
				"user_id":  userID,
			}).Warn("Rejected cancellation of terminal order")
		}
		return nil, err
	}

	event := events.NewOrderEvent(events.OrderCancelled, cancelled)
	event.PreviousStatus = previous
	s.publish(ctx, event)

	s.logger.WithFields(logrus.Fields{
		"order_id":        orderID,
		"user_id":         userID,
		"previous_status": previous,
	}).Info("Order cancelled")
	return cancelled, nil
}

// SetStatus writes any of the five statuses, including transitions out of
// DELIVERED or CANCELLED; those are logged.
func (s *Service) SetStatus(ctx context.Context, orderID, userID string, status models.OrderStatus) (*models.Order, error) {
	var (
		updated  *models.Order
		previous models.OrderStatus
	)
	err := s.store.InTx(ctx, func(q store.Queries) error {
		current, err := q.GetOrderForUser(ctx, orderID, userID)
		if err != nil {
			return mapNotFound(err)
		}
		previous = current.Status

		updated, err = q.SetOrderStatus(ctx, orderID, userID, status, s.now().UTC())
		if errors.Is(err, store.ErrOpenOrderExists) {
			return ErrOpenOrderExists
		}
		return mapNotFound(err)
	})
	if err != nil {
		return nil, err
	}

	fields := logrus.Fields{
		"order_id":        orderID,
		"user_id":         userID,
		"previous_status": previous,
		"status":          status,
	}
	if previous.IsTerminal() && previous != status {
		s.logger.WithFields(fields).Warn("Order moved out of a terminal status")
	} else {
		s.logger.WithFields(fields).Info("Order status updated")
	}

	if previous != status {
		event := events.NewOrderEvent(events.OrderStatusChanged, updated)
		event.PreviousStatus = previous
		s.publish(ctx, event)
	}
	return updated, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]models.Order, error) {
	orders, err := s.store.ListOrdersForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, nil
}

func (s *Service) Get(ctx context.Context, orderID, userID string) (*models.Order, error) {
	order, err := s.store.GetOrderForUser(ctx, orderID, userID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return order, nil
}

// PaymentStatus looks up the first of orderIDs for the thank-you page. It
// returns nil while the order is still unpaid.
func (s *Service) PaymentStatus(ctx context.Context, orderIDs []string, userID string) (*models.Order, error) {
	if len(orderIDs) == 0 {
		return nil, ErrOrderNotFound
	}
	order, err := s.Get(ctx, orderIDs[0], userID)
	if err != nil {
		return nil, err
	}
	if !order.IsPaid {
		return nil, nil
	}
	return order, nil
}

func (s *Service) publish(ctx context.Context, event events.OrderEvent) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"order_id":   event.OrderID,
			"event_type": event.Type,
		}).Error("Failed to publish order event")
	}
}

func mapNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrOrderNotFound
	}
	return err
}
