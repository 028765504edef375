package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/casca-store/storefront/internal/auth"
	"github.com/casca-store/storefront/internal/cart"
	"github.com/casca-store/storefront/internal/checkout"
	"github.com/casca-store/storefront/internal/circuitbreaker"
	"github.com/casca-store/storefront/internal/configuration"
	"github.com/casca-store/storefront/internal/dashboard"
	"github.com/casca-store/storefront/internal/events"
	"github.com/casca-store/storefront/internal/feedback"
	"github.com/casca-store/storefront/internal/imagegen"
	"github.com/casca-store/storefront/internal/mail"
	"github.com/casca-store/storefront/internal/orders"
	"github.com/casca-store/storefront/internal/payments"
	"github.com/casca-store/storefront/internal/reviews"
	"github.com/casca-store/storefront/internal/store"
	"github.com/casca-store/storefront/internal/users"
	"github.com/casca-store/storefront/internal/webhooks"
	"github.com/casca-store/storefront/internal/websocket"
	"github.com/casca-store/storefront/internal/wishlist"
	gorillaws "github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testOrigin     = "http://localhost:3000"
	testAdminEmail = "admin@casca.test"
)

type stubGateway struct{}

func (stubGateway) CreateCheckoutSession(ctx context.Context, req payments.SessionRequest) (*payments.Session, error) {
	return &payments.Session{ID: "cs_test", URL: "https://checkout.test/cs_test"}, nil
}

type testEnv struct {
	handler       http.Handler
	authenticator *auth.Authenticator
	hub           *websocket.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	s := store.NewMemoryStore()
	authenticator := auth.NewAuthenticator([]byte("test-secret"), testAdminEmail, logger)
	hub := websocket.NewHub(logger)
	bus := cart.NewBus()
	sessions := cart.NewSessionStore([]byte("0123456789abcdef0123456789abcdef"), false)
	mailer := mail.NewMailer(mail.NewNoopSender(logger), logger)
	resolver := configuration.NewResolver(s, logger)
	orderService := orders.NewService(s, resolver, events.NoopPublisher{}, logger)
	builder := checkout.NewBuilder(stubGateway{}, checkout.Options{ServerURL: testOrigin}, logger)
	breakers := circuitbreaker.NewManager(logger)
	generator := imagegen.NewGenerator("http://127.0.0.1:0/prompt/", breakers.GetOrCreate("imagegen", imagegen.BreakerConfig()), logger)

	h := Handlers{
		Auth:          authenticator,
		Configuration: configuration.NewHandler(resolver, logger),
		Orders:        orders.NewHandler(orderService, logger),
		Checkout:      checkout.NewHandler(checkout.NewService(orderService, builder, logger), sessions, logger),
		Webhooks:      webhooks.NewHandler(payments.NewWebhookVerifier("whsec_test"), s, mailer, events.NoopPublisher{}, logger),
		Cart:          cart.NewHandler(sessions, resolver, bus, logger),
		Images:        imagegen.NewHandler(generator, imagegen.NewIPLimiter(1, 1), logger),
		Dashboard:     dashboard.NewHandler(s, s, dashboard.NewAnalyzer(logger), breakers, hub, logger),
		Reviews:       reviews.NewHandler(s, logger),
		Feedback:      feedback.NewHandler(s, logger),
		Wishlist:      wishlist.NewHandler(s, logger),
		Users:         users.NewHandler(s, mailer, logger),
		Hub:           hub,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	stop := BridgeCart(bus, hub)
	t.Cleanup(func() {
		stop()
		cancel()
	})

	return &testEnv{
		handler:       NewRouter(h, testOrigin, logger),
		authenticator: authenticator,
		hub:           hub,
	}
}

func (e *testEnv) token(t *testing.T, id, email string) string {
	t.Helper()
	token, err := e.authenticator.Issue(auth.User{ID: id, Email: email}, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(method, target, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Routes(t *testing.T) {
	env := newTestEnv(t)
	userToken := env.token(t, "user-1", "user@example.com")
	adminToken := env.token(t, "admin-1", testAdminEmail)

	tests := []struct {
		name     string
		method   string
		target   string
		body     string
		token    string
		status   int
		contains string
	}{
		{"health", http.MethodGet, "/health", "", "", http.StatusOK, "healthy"},
		{"orders need auth", http.MethodGet, "/api/orders", "", "", http.StatusUnauthorized, "Unauthorized"},
		{"orders list", http.MethodGet, "/api/orders", "", userToken, http.StatusOK, "[]"},
		{"payment status is not an order id", http.MethodGet, "/api/orders/payment-status?orderId=missing", "", userToken, http.StatusNotFound, "This order does not exist."},
		{"unknown order", http.MethodGet, "/api/orders/missing", "", userToken, http.StatusNotFound, "Order not found"},
		{"checkout needs login", http.MethodPost, "/api/checkout", `{"cartItems":[{"configId":"x"}]}`, "", http.StatusUnauthorized, "You need to be logged in"},
		{"checkout empty cart", http.MethodPost, "/api/checkout", `{"cartItems":[]}`, userToken, http.StatusBadRequest, "Cart is empty"},
		{"webhook without signature", http.MethodPost, "/api/webhooks", `{}`, "", http.StatusBadRequest, "Invalid signature"},
		{"dashboard hidden from customers", http.MethodGet, "/api/admin/dashboard", "", userToken, http.StatusNotFound, "Not found"},
		{"dashboard for admin", http.MethodGet, "/api/admin/dashboard", "", adminToken, http.StatusOK, "monthly_revenue"},
		{"admin health", http.MethodGet, "/api/admin/health", "", adminToken, http.StatusOK, "circuit_breakers"},
		{"reviews public", http.MethodGet, "/api/reviews", "", "", http.StatusOK, `"count":0`},
		{"review needs auth", http.MethodPost, "/api/reviews", `{}`, "", http.StatusUnauthorized, "Unauthorized"},
		{"profile needs auth", http.MethodGet, "/api/profile", "", "", http.StatusUnauthorized, "Unauthorized"},
		{"wishlist", http.MethodGet, "/api/wishlist", "", userToken, http.StatusOK, "wishlist"},
		{"create config", http.MethodPost, "/api/gallery/create-config", `{"imageUrl":"/gallery/a.png"}`, "", http.StatusOK, "configId"},
		{"cart index must be numeric", http.MethodDelete, "/api/cart/abc", "", "", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(tt.method, tt.target, tt.body, tt.token)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.contains != "" {
				assert.Contains(t, rec.Body.String(), tt.contains)
			}
		})
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/checkout", nil)
	req.Header.Set("Origin", testOrigin)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, testOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_CartUpdatesReachWebsocket(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	token := env.token(t, "user-1", "user@example.com")

	_, resp, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return env.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	rec := env.do(http.MethodPost, "/api/cart", `{"imageUrl":"/gallery/koi.png"}`, token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg websocket.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "cart_updated", msg.Type)
	assert.Equal(t, "cart", msg.Source)
}
