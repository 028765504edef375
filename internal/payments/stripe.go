// Package payments wraps the Stripe APIs the storefront uses: hosted
// checkout sessions and webhook signature verification.
package payments

import (
	"context"
	"fmt"

	"github.com/casca-store/storefront/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

type LineItem struct {
	Name       string
	ImageURL   string
	UnitAmount models.Amount
	Quantity   int64
}

type SessionRequest struct {
	Currency           string
	LineItems          []LineItem
	Metadata           map[string]string
	SuccessURL         string
	CancelURL          string
	PaymentMethodTypes []string
	AllowedCountries   []string
	CustomerEmail      string
}

// Total is the sum of every line, in minor units.
func (r SessionRequest) Total() models.Amount {
	var total models.Amount
	for _, li := range r.LineItems {
		total += li.UnitAmount * models.Amount(li.Quantity)
	}
	return total
}

type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error)
}

type StripeGateway struct {
	api    *client.API
	logger *logrus.Logger
}

func NewStripeGateway(secretKey string, logger *logrus.Logger) *StripeGateway {
	return &StripeGateway{api: client.New(secretKey, nil), logger: logger}
}

// NewStripeGatewayWithBackend routes every API call through backend.
func NewStripeGatewayWithBackend(secretKey string, backend stripe.Backend, logger *logrus.Logger) *StripeGateway {
	return &StripeGateway{
		api: client.New(secretKey, &stripe.Backends{
			API:     backend,
			Connect: backend,
			Uploads: backend,
		}),
		logger: logger,
	}
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
		PaymentMethodTypes: stripe.StringSlice(req.PaymentMethodTypes),
	}
	params.Context = ctx

	if len(req.AllowedCountries) > 0 {
		params.ShippingAddressCollection = &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice(req.AllowedCountries),
		}
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	for _, li := range req.LineItems {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(li.Name),
		}
		if li.ImageURL != "" {
			product.Images = stripe.StringSlice([]string{li.ImageURL})
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(li.Quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(req.Currency),
				UnitAmount:  stripe.Int64(int64(li.UnitAmount)),
				ProductData: product,
			},
		})
	}

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	g.logger.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"line_items": len(req.LineItems),
		"amount":     int64(req.Total()),
		"currency":   req.Currency,
	}).Info("Checkout session created")
	return &Session{ID: sess.ID, URL: sess.URL}, nil
}
