package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/casca-store/storefront/internal/auth"
	"github.com/casca-store/storefront/internal/configuration"
	"github.com/casca-store/storefront/internal/events"
	"github.com/casca-store/storefront/internal/orders"
	"github.com/casca-store/storefront/internal/payments"
	"github.com/casca-store/storefront/internal/store"
	"github.com/casca-store/storefront/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	requests []payments.SessionRequest
	err      error
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, req payments.SessionRequest) (*payments.Session, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.requests = append(g.requests, req)
	return &payments.Session{ID: "cs_test", URL: "https://checkout.stripe.test/cs_test"}, nil
}

type staticCart []models.CartItem

func (c staticCart) Items(r *http.Request) ([]models.CartItem, error) { return c, nil }

type fixture struct {
	store   *store.MemoryStore
	gateway *fakeGateway
	service *Service
	logger  *logrus.Logger
}

func newFixture(t *testing.T, taxUnit int64) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	s := store.NewMemoryStore()
	for _, id := range []string{"cfg-1", "cfg-2"} {
		require.NoError(t, s.CreateConfiguration(context.Background(), &models.Configuration{
			ID:        id,
			ImageURL:  "/uploads/" + id + ".png",
			Width:     512,
			Height:    512,
			CreatedAt: time.Now(),
		}))
	}

	gw := &fakeGateway{}
	orderService := orders.NewService(s, configuration.NewResolver(s, logger), events.NoopPublisher{}, logger)
	builder := NewBuilder(gw, Options{ServerURL: "https://casca.test/", Currency: "inr", TaxRoundingUnit: taxUnit}, logger)
	return &fixture{store: s, gateway: gw, service: NewService(orderService, builder, logger), logger: logger}
}

var asha = &auth.User{ID: "user-1", Email: "asha@example.com"}

func TestBuilder_RequestSingleItemTax(t *testing.T) {
	b := NewBuilder(&fakeGateway{}, Options{ServerURL: "https://casca.test"}, logrus.New())
	req := b.Request("user-1", "", []models.OrderWithPricing{{
		Order:         models.Order{ID: "o1"},
		Configuration: models.Configuration{ImageURL: "https://cdn.test/a.png"},
		Price:         29900,
	}})

	require.Len(t, req.LineItems, 2)
	assert.Equal(t, models.Amount(29900), req.LineItems[0].UnitAmount)
	assert.Equal(t, "https://cdn.test/a.png", req.LineItems[0].ImageURL)
	assert.Equal(t, TaxLineName, req.LineItems[1].Name)
	assert.Equal(t, models.Amount(5382), req.LineItems[1].UnitAmount)
	assert.Equal(t, models.Amount(35282), req.Total())
	assert.Equal(t, "inr", req.Currency)
}

func TestService_TwoItemScenario(t *testing.T) {
	f := newFixture(t, 100)

	sess, err := f.service.CreateCartCheckoutSession(context.Background(), asha, []models.CartItem{
		{ConfigID: "cfg-1"},
		{ConfigID: "cfg-2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.test/cs_test", sess.URL)

	require.Len(t, f.gateway.requests, 1)
	req := f.gateway.requests[0]
	require.Len(t, req.LineItems, 3)
	assert.Equal(t, models.Amount(10800), req.LineItems[2].UnitAmount)
	assert.Equal(t, models.Amount(70600), req.Total())

	ordersForUser, err := f.store.ListOrdersForUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, ordersForUser, 2)

	ids := strings.Split(req.Metadata["orderIds"], ",")
	assert.ElementsMatch(t, []string{ordersForUser[0].ID, ordersForUser[1].ID}, ids)
	assert.Equal(t, "user-1", req.Metadata["userId"])
	assert.Equal(t, "https://casca.test/thank-you?orderId="+req.Metadata["orderIds"], req.SuccessURL)
	assert.Equal(t, "https://casca.test/cart", req.CancelURL)
	assert.Equal(t, "https://casca.test/uploads/cfg-1.png", req.LineItems[0].ImageURL)
	assert.Equal(t, []string{"card"}, req.PaymentMethodTypes)
	assert.Equal(t, []string{"US", "IN"}, req.AllowedCountries)
	assert.Equal(t, "asha@example.com", req.CustomerEmail)
}

func TestService_Errors(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	_, err := f.service.CreateCartCheckoutSession(ctx, nil, []models.CartItem{{ConfigID: "cfg-1"}})
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	_, err = f.service.CreateCartCheckoutSession(ctx, asha, nil)
	assert.ErrorIs(t, err, ErrCartEmpty)

	_, err = f.service.CreateCartCheckoutSession(ctx, asha, []models.CartItem{{ConfigID: "missing"}})
	assert.ErrorIs(t, err, orders.ErrConfigurationNotFound)

	f.gateway.err = errors.New("stripe down")
	_, err = f.service.CreateCartCheckoutSession(ctx, asha, []models.CartItem{{ConfigID: "cfg-1"}})
	assert.Error(t, err)
	assert.Empty(t, f.gateway.requests)
}

func TestService_RetryReusesOrders(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	items := []models.CartItem{{ConfigID: "cfg-1"}}

	_, err := f.service.CreateCartCheckoutSession(ctx, asha, items)
	require.NoError(t, err)
	_, err = f.service.CreateCartCheckoutSession(ctx, asha, items)
	require.NoError(t, err)

	require.Len(t, f.gateway.requests, 2)
	assert.Equal(t, f.gateway.requests[0].Metadata["orderIds"], f.gateway.requests[1].Metadata["orderIds"])
}

func TestHandler_CreateCheckout(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		user       *auth.User
		cart       staticCart
		wantStatus int
	}{
		{"anonymous", `{"cartItems":[{"configId":"cfg-1"}]}`, nil, nil, http.StatusUnauthorized},
		{"empty cart", `{"cartItems":[]}`, asha, staticCart{{ConfigID: "cfg-1"}}, http.StatusBadRequest},
		{"unknown configuration", `{"cartItems":[{"configId":"nope"}]}`, asha, nil, http.StatusNotFound},
		{"malformed body", `{"cartItems":`, asha, nil, http.StatusBadRequest},
		{"explicit items", `{"cartItems":[{"configId":"cfg-1","imageUrl":"/uploads/cfg-1.png"}]}`, asha, nil, http.StatusOK},
		{"session cart fallback", ``, asha, staticCart{{ConfigID: "cfg-2"}}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 1)
			h := NewHandler(f.service, tt.cart, f.logger)

			req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(tt.body))
			if tt.user != nil {
				req = req.WithContext(auth.WithUser(req.Context(), tt.user))
			}
			rec := httptest.NewRecorder()
			h.CreateCheckout(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus == http.StatusOK {
				var body map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, "https://checkout.stripe.test/cs_test", body["url"])
			}
		})
	}
}
