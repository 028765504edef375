package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/casca-store/storefront/internal/events"
	"github.com/casca-store/storefront/internal/mail"
	"github.com/casca-store/storefront/internal/payments"
	"github.com/casca-store/storefront/internal/store"
	"github.com/casca-store/storefront/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"
)

const secret = "whsec_test"

type captureSender struct {
	err      error
	messages []mail.Message
}

func (c *captureSender) Send(ctx context.Context, msg mail.Message) error {
	c.messages = append(c.messages, msg)
	return c.err
}

type recordingPublisher struct {
	events []events.OrderEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, e events.OrderEvent) error {
	p.events = append(p.events, e)
	return nil
}

type fixture struct {
	store     *store.MemoryStore
	sender    *captureSender
	publisher *recordingPublisher
	handler   *Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateConfiguration(ctx, &models.Configuration{ID: "cfg-1", ImageURL: "/a.png", Width: 512, Height: 512}))
	require.NoError(t, s.CreateConfiguration(ctx, &models.Configuration{ID: "cfg-2", ImageURL: "/b.png", Width: 512, Height: 512}))
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for _, o := range []models.Order{
		{ID: "o1", UserID: "user-1", ConfigurationID: "cfg-1", Amount: 29900, Status: models.OrderStatusPending, CreatedAt: now, UpdatedAt: now},
		{ID: "o2", UserID: "user-1", ConfigurationID: "cfg-2", Amount: 29900, Status: models.OrderStatusPending, CreatedAt: now, UpdatedAt: now},
		{ID: "o3", UserID: "user-2", ConfigurationID: "cfg-1", Amount: 29900, Status: models.OrderStatusPending, CreatedAt: now, UpdatedAt: now},
	} {
		o := o
		_, created, err := s.CreateOrderIfAbsent(ctx, &o)
		require.NoError(t, err)
		require.True(t, created)
	}

	sender := &captureSender{}
	pub := &recordingPublisher{}
	h := NewHandler(payments.NewWebhookVerifier(secret), s, mail.NewMailer(sender, logger), pub, logger)
	return &fixture{store: s, sender: sender, publisher: pub, handler: h}
}

func checkoutEvent(metadata map[string]string, email string) []byte {
	session := map[string]interface{}{
		"id":       "cs_test_1",
		"object":   "checkout.session",
		"metadata": metadata,
		"customer_details": map[string]interface{}{
			"email":   email,
			"name":    "Asha Rao",
			"address": map[string]interface{}{"city": "Pune", "country": "IN", "postal_code": "411001", "state": "MH"},
		},
		"shipping_details": map[string]interface{}{
			"name":    "Asha Rao",
			"address": map[string]interface{}{"city": "Mumbai", "country": "IN"},
		},
	}
	body, _ := json.Marshal(map[string]interface{}{
		"id":     "evt_1",
		"object": "event",
		"type":   "checkout.session.completed",
		"data":   map[string]interface{}{"object": session},
	})
	return body
}

func (f *fixture) post(t *testing.T, payload []byte, signed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks", bytes.NewReader(payload))
	if signed {
		sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   payload,
			Secret:    secret,
			Timestamp: time.Now(),
		})
		req.Header.Set("Stripe-Signature", sp.Header)
	}
	rec := httptest.NewRecorder()
	f.handler.HandleWebhook(rec, req)
	return rec
}

func (f *fixture) order(t *testing.T, id string) *models.Order {
	t.Helper()
	o, err := f.store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o
}

func TestHandleWebhook_RejectsMissingSignature(t *testing.T) {
	f := newFixture(t)
	rec := f.post(t, checkoutEvent(map[string]string{"userId": "user-1", "orderIds": "o1"}, "asha@example.com"), false)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid signature\n", rec.Body.String())
	assert.False(t, f.order(t, "o1").IsPaid)
}

func TestHandleWebhook_RejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks", bytes.NewReader(checkoutEvent(map[string]string{"userId": "user-1", "orderIds": "o1"}, "")))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	f.handler.HandleWebhook(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, f.order(t, "o1").IsPaid)
	assert.Equal(t, 0, f.store.AddressCount())
}

func TestHandleWebhook_MarksBatchPaid(t *testing.T) {
	f := newFixture(t)
	rec := f.post(t, checkoutEvent(map[string]string{"userId": "user-1", "orderIds": "o1,o2"}, "asha@example.com"), true)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
	assert.NotNil(t, body["result"])

	for _, id := range []string{"o1", "o2"} {
		o := f.order(t, id)
		assert.True(t, o.IsPaid)
		require.NotNil(t, o.ShippingAddress)
		assert.Equal(t, "Mumbai", o.ShippingAddress.City)
		assert.Equal(t, "", o.ShippingAddress.PostalCode)
		require.NotNil(t, o.BillingAddress)
		assert.Equal(t, "Pune", o.BillingAddress.City)
	}
	assert.Equal(t, 4, f.store.AddressCount())

	require.Len(t, f.sender.messages, 1)
	assert.Equal(t, []string{"asha@example.com"}, f.sender.messages[0].To)
	assert.Contains(t, f.sender.messages[0].HTML, "o1")

	require.Len(t, f.publisher.events, 2)
	assert.Equal(t, events.OrderPaid, f.publisher.events[0].Type)
	assert.True(t, f.publisher.events[0].IsPaid)
}

func TestHandleWebhook_RedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	payload := checkoutEvent(map[string]string{"userId": "user-1", "orderId": "o1"}, "asha@example.com")

	require.Equal(t, http.StatusOK, f.post(t, payload, true).Code)
	require.Equal(t, http.StatusOK, f.post(t, payload, true).Code)

	assert.True(t, f.order(t, "o1").IsPaid)
	assert.Equal(t, 2, f.store.AddressCount())
	assert.Len(t, f.sender.messages, 1)
	assert.Len(t, f.publisher.events, 1)
}

func TestHandleWebhook_ForeignOrderAbortsBatch(t *testing.T) {
	f := newFixture(t)
	rec := f.post(t, checkoutEvent(map[string]string{"userId": "user-1", "orderIds": "o1,o3"}, "asha@example.com"), true)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"message":"Something went wrong","ok":false}`, rec.Body.String())
	assert.False(t, f.order(t, "o1").IsPaid)
	assert.False(t, f.order(t, "o3").IsPaid)
	assert.Equal(t, 0, f.store.AddressCount())
	assert.Empty(t, f.sender.messages)
}

func TestHandleWebhook_UnknownOrderAbortsBatch(t *testing.T) {
	f := newFixture(t)
	rec := f.post(t, checkoutEvent(map[string]string{"userId": "user-1", "orderIds": "o1,missing"}, ""), true)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, f.order(t, "o1").IsPaid)
}

func TestHandleWebhook_MissingMetadata(t *testing.T) {
	f := newFixture(t)
	for _, metadata := range []map[string]string{
		{"orderIds": "o1"},
		{"userId": "user-1"},
		nil,
	} {
		rec := f.post(t, checkoutEvent(metadata, "asha@example.com"), true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
	assert.False(t, f.order(t, "o1").IsPaid)
}

func TestHandleWebhook_MailFailureStillSucceeds(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("smtp down")

	rec := f.post(t, checkoutEvent(map[string]string{"userId": "user-1", "orderIds": "o1"}, "asha@example.com"), true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.order(t, "o1").IsPaid)
}

func TestHandleWebhook_MissingEmailSkipsConfirmation(t *testing.T) {
	f := newFixture(t)
	rec := f.post(t, checkoutEvent(map[string]string{"userId": "user-1", "orderIds": "o1"}, ""), true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.order(t, "o1").IsPaid)
	assert.Empty(t, f.sender.messages)
}

func TestHandleWebhook_IgnoresOtherEvents(t *testing.T) {
	f := newFixture(t)
	payload := []byte(`{"id":"evt_2","object":"event","type":"payment_intent.created","data":{"object":{}}}`)
	rec := f.post(t, payload, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.order(t, "o1").IsPaid)
}
