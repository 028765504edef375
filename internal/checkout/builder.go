// Package checkout opens hosted payment sessions for a user's cart.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/casca-store/storefront/internal/auth"
	"github.com/casca-store/storefront/internal/orders"
	"github.com/casca-store/storefront/internal/payments"
	"github.com/casca-store/storefront/internal/pricing"
	"github.com/casca-store/storefront/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	ProductName = "Custom iPhone Case"
	TaxLineName = "GST (18%)"
)

var (
	ErrNotLoggedIn = errors.New("You need to be logged in")
	ErrCartEmpty   = errors.New("Cart is empty")
	ErrNoOrders    = errors.New("no orders to check out")
)

var (
	paymentMethodTypes = []string{"card"}
	shippingCountries  = []string{"US", "IN"}
)

type Options struct {
	ServerURL       string
	Currency        string
	TaxRoundingUnit int64
}

type Builder struct {
	gateway payments.Gateway
	opts    Options
	logger  *logrus.Logger
}

func NewBuilder(gateway payments.Gateway, opts Options, logger *logrus.Logger) *Builder {
	opts.ServerURL = strings.TrimRight(opts.ServerURL, "/")
	if opts.Currency == "" {
		opts.Currency = "inr"
	}
	return &Builder{gateway: gateway, opts: opts, logger: logger}
}

// Request assembles the session for lines: one line per order at its
// price, then a single tax line computed on the subtotal.
func (b *Builder) Request(userID, email string, lines []models.OrderWithPricing) payments.SessionRequest {
	ids := make([]string, 0, len(lines))
	prices := make([]models.Amount, 0, len(lines))
	items := make([]payments.LineItem, 0, len(lines)+1)

	for _, line := range lines {
		ids = append(ids, line.Order.ID)
		prices = append(prices, line.Price)

		image := line.Configuration.ImageURL
		if line.Configuration.CroppedImageURL != nil && *line.Configuration.CroppedImageURL != "" {
			image = *line.Configuration.CroppedImageURL
		}
		items = append(items, payments.LineItem{
			Name:       ProductName,
			ImageURL:   absoluteURL(b.opts.ServerURL, image),
			UnitAmount: line.Price,
			Quantity:   1,
		})
	}

	totals := pricing.Compute(prices, b.opts.TaxRoundingUnit)
	if totals.Tax > 0 {
		items = append(items, payments.LineItem{
			Name:       TaxLineName,
			UnitAmount: totals.Tax,
			Quantity:   1,
		})
	}

	orderIDs := strings.Join(ids, ",")
	return payments.SessionRequest{
		Currency:  b.opts.Currency,
		LineItems: items,
		Metadata: map[string]string{
			"userId":   userID,
			"orderIds": orderIDs,
		},
		SuccessURL:         b.opts.ServerURL + "/thank-you?orderId=" + orderIDs,
		CancelURL:          b.opts.ServerURL + "/cart",
		PaymentMethodTypes: paymentMethodTypes,
		AllowedCountries:   shippingCountries,
		CustomerEmail:      email,
	}
}

func (b *Builder) Build(ctx context.Context, userID, email string, lines []models.OrderWithPricing) (*payments.Session, error) {
	if len(lines) == 0 {
		return nil, ErrNoOrders
	}
	req := b.Request(userID, email, lines)
	sess, err := b.gateway.CreateCheckoutSession(ctx, req)
	if err != nil {
		return nil, err
	}

	b.logger.WithFields(logrus.Fields{
		"user_id":    userID,
		"order_ids":  req.Metadata["orderIds"],
		"session_id": sess.ID,
		"total":      int64(req.Total()),
	}).Info("Checkout session opened")
	return sess, nil
}

// absoluteURL resolves site-relative image paths; the payment page only
// accepts absolute image URLs.
func absoluteURL(base, ref string) string {
	if ref == "" || strings.Contains(ref, "://") || base == "" {
		return ref
	}
	return base + "/" + strings.TrimLeft(ref, "/")
}

type Service struct {
	orders  *orders.Service
	builder *Builder
	logger  *logrus.Logger
}

func NewService(orderService *orders.Service, builder *Builder, logger *logrus.Logger) *Service {
	return &Service{orders: orderService, builder: builder, logger: logger}
}

// CreateCartCheckoutSession materializes the cart into orders and opens a
// payment session for them.
func (s *Service) CreateCartCheckoutSession(ctx context.Context, user *auth.User, items []models.CartItem) (*payments.Session, error) {
	if user == nil || user.ID == "" {
		return nil, ErrNotLoggedIn
	}
	if len(items) == 0 {
		return nil, ErrCartEmpty
	}

	lines, err := s.orders.Materialize(ctx, user.ID, items)
	if err != nil {
		return nil, err
	}
	sess, err := s.builder.Build(ctx, user.ID, user.Email, lines)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkout: %w", err)
	}
	return sess, nil
}
