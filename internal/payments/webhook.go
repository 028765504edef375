package payments

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/casca-store/storefront/pkg/models"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const EventCheckoutSessionCompleted = "checkout.session.completed"

var ErrInvalidSignature = errors.New("invalid signature")

type WebhookVerifier struct {
	secret string
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret}
}

// Verify checks the Stripe-Signature header against payload and returns the
// decoded event. Events created under a different API version are accepted.
func (v *WebhookVerifier) Verify(payload []byte, header string) (stripe.Event, error) {
	if header == "" {
		return stripe.Event{}, ErrInvalidSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, header, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}

// CompletedCheckout is the part of a checkout.session.completed payload the
// storefront acts on.
type CompletedCheckout struct {
	SessionID     string
	Metadata      map[string]string
	CustomerEmail string
	CustomerName  string
	Phone         string
	Shipping      models.Address
	Billing       models.Address
}

type sessionAddress struct {
	City       string `json:"city"`
	Country    string `json:"country"`
	PostalCode string `json:"postal_code"`
	State      string `json:"state"`
}

type sessionShipping struct {
	Name    string          `json:"name"`
	Address *sessionAddress `json:"address"`
}

type sessionPayload struct {
	ID              string            `json:"id"`
	Metadata        map[string]string `json:"metadata"`
	CustomerDetails *struct {
		Email   string          `json:"email"`
		Name    string          `json:"name"`
		Phone   string          `json:"phone"`
		Address *sessionAddress `json:"address"`
	} `json:"customer_details"`
	ShippingDetails      *sessionShipping `json:"shipping_details"`
	CollectedInformation *struct {
		ShippingDetails *sessionShipping `json:"shipping_details"`
	} `json:"collected_information"`
}

// ParseCompletedCheckout decodes the session object of a completed
// checkout event. Missing address parts become empty strings.
func ParseCompletedCheckout(event stripe.Event) (*CompletedCheckout, error) {
	if event.Data == nil {
		return nil, errors.New("event has no data")
	}
	var payload sessionPayload
	if err := json.Unmarshal(event.Data.Raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode checkout session: %w", err)
	}

	out := &CompletedCheckout{
		SessionID: payload.ID,
		Metadata:  payload.Metadata,
	}
	var billing *sessionAddress
	if cd := payload.CustomerDetails; cd != nil {
		out.CustomerEmail = cd.Email
		out.CustomerName = cd.Name
		out.Phone = cd.Phone
		billing = cd.Address
	}

	shippingDetails := payload.ShippingDetails
	if shippingDetails == nil && payload.CollectedInformation != nil {
		shippingDetails = payload.CollectedInformation.ShippingDetails
	}
	var shipping *sessionAddress
	if shippingDetails != nil {
		shipping = shippingDetails.Address
	}

	out.Shipping = toAddress(out.CustomerName, out.Phone, shipping)
	out.Billing = toAddress(out.CustomerName, out.Phone, billing)
	return out, nil
}

func toAddress(name, phone string, a *sessionAddress) models.Address {
	addr := models.Address{Name: name}
	if phone != "" {
		addr.PhoneNumber = &phone
	}
	if a != nil {
		addr.City = a.City
		addr.Country = a.Country
		addr.PostalCode = a.PostalCode
		addr.State = a.State
	}
	return addr
}
