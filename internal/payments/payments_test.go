package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestStripeGateway_CreateCheckoutSession(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`))
	}))
	defer srv.Close()

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	gw := NewStripeGatewayWithBackend("sk_test_123", backend, quietLogger())

	sess, err := gw.CreateCheckoutSession(context.Background(), SessionRequest{
		Currency: "inr",
		LineItems: []LineItem{
			{Name: "Custom iPhone Case", ImageURL: "https://img.example/a.png", UnitAmount: 29900, Quantity: 1},
			{Name: "GST (18%)", UnitAmount: 5382, Quantity: 1},
		},
		Metadata:           map[string]string{"userId": "user-1", "orderIds": "o1"},
		SuccessURL:         "https://shop.example/thank-you?orderId=o1",
		CancelURL:          "https://shop.example/cart",
		PaymentMethodTypes: []string{"card"},
		AllowedCountries:   []string{"US", "IN"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", sess.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", sess.URL)

	assert.Equal(t, "payment", form.Get("mode"))
	assert.Equal(t, "29900", form.Get("line_items[0][price_data][unit_amount]"))
	assert.Equal(t, "inr", form.Get("line_items[0][price_data][currency]"))
	assert.Equal(t, "https://img.example/a.png", form.Get("line_items[0][price_data][product_data][images][0]"))
	assert.Equal(t, "5382", form.Get("line_items[1][price_data][unit_amount]"))
	assert.Equal(t, "user-1", form.Get("metadata[userId]"))
	assert.Equal(t, "o1", form.Get("metadata[orderIds]"))
	assert.Equal(t, "IN", form.Get("shipping_address_collection[allowed_countries][1]"))
}

func TestStripeGateway_CreateCheckoutSessionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad amount"}}`))
	}))
	defer srv.Close()

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	gw := NewStripeGatewayWithBackend("sk_test_123", backend, quietLogger())

	_, err := gw.CreateCheckoutSession(context.Background(), SessionRequest{Currency: "inr"})
	assert.Error(t, err)
}

func TestSessionRequest_Total(t *testing.T) {
	req := SessionRequest{LineItems: []LineItem{
		{UnitAmount: 29900, Quantity: 1},
		{UnitAmount: 29900, Quantity: 1},
		{UnitAmount: 10800, Quantity: 1},
	}}
	assert.Equal(t, int64(70600), int64(req.Total()))
}

const completedEvent = `{
  "id": "evt_1",
  "object": "event",
  "api_version": "2020-08-27",
  "type": "checkout.session.completed",
  "data": {
    "object": {
      "id": "cs_test_1",
      "object": "checkout.session",
      "metadata": {"userId": "user-1", "orderIds": "o1,o2"},
      "customer_details": {
        "email": "asha@example.com",
        "name": "Asha Rao",
        "phone": "+911234567890",
        "address": {"city": "Pune", "country": "IN", "postal_code": "411001", "state": "MH"}
      },
      "shipping_details": {
        "name": "Asha Rao",
        "address": {"city": "Mumbai", "country": "IN", "postal_code": null, "state": "MH"}
      }
    }
  }
}`

func TestWebhookVerifier_Verify(t *testing.T) {
	v := NewWebhookVerifier("whsec_test")
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(completedEvent),
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})

	event, err := v.Verify(signed.Payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, EventCheckoutSessionCompleted, string(event.Type))

	_, err = v.Verify(signed.Payload, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = NewWebhookVerifier("whsec_other").Verify(signed.Payload, signed.Header)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = v.Verify([]byte(`{"tampered":true}`), signed.Header)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestParseCompletedCheckout(t *testing.T) {
	v := NewWebhookVerifier("whsec_test")
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(completedEvent),
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})
	event, err := v.Verify(signed.Payload, signed.Header)
	require.NoError(t, err)

	checkout, err := ParseCompletedCheckout(event)
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", checkout.SessionID)
	assert.Equal(t, "o1,o2", checkout.Metadata["orderIds"])
	assert.Equal(t, "asha@example.com", checkout.CustomerEmail)

	assert.Equal(t, "Asha Rao", checkout.Shipping.Name)
	assert.Equal(t, "Mumbai", checkout.Shipping.City)
	assert.Equal(t, "", checkout.Shipping.PostalCode)
	require.NotNil(t, checkout.Shipping.PhoneNumber)
	assert.Equal(t, "+911234567890", *checkout.Shipping.PhoneNumber)

	assert.Equal(t, "Pune", checkout.Billing.City)
	assert.Equal(t, "411001", checkout.Billing.PostalCode)
}

func TestParseCompletedCheckout_MissingDetails(t *testing.T) {
	event := stripe.Event{Data: &stripe.EventData{Raw: []byte(`{"id":"cs_2","metadata":{"userId":"u"}}`)}}
	checkout, err := ParseCompletedCheckout(event)
	require.NoError(t, err)
	assert.Equal(t, "", checkout.CustomerEmail)
	assert.Equal(t, "", checkout.Shipping.City)
	assert.Equal(t, "", checkout.Billing.Country)
	assert.Nil(t, checkout.Billing.PhoneNumber)
}
