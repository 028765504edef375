// Package server wires every HTTP handler of the storefront API onto one
// router.
package server

import (
	"net/http"

	"github.com/casca-store/storefront/internal/auth"
	"github.com/casca-store/storefront/internal/cart"
	"github.com/casca-store/storefront/internal/checkout"
	"github.com/casca-store/storefront/internal/configuration"
	"github.com/casca-store/storefront/internal/dashboard"
	"github.com/casca-store/storefront/internal/feedback"
	"github.com/casca-store/storefront/internal/httpx"
	"github.com/casca-store/storefront/internal/imagegen"
	"github.com/casca-store/storefront/internal/orders"
	"github.com/casca-store/storefront/internal/reviews"
	"github.com/casca-store/storefront/internal/users"
	"github.com/casca-store/storefront/internal/webhooks"
	"github.com/casca-store/storefront/internal/websocket"
	"github.com/casca-store/storefront/internal/wishlist"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Handlers struct {
	Auth          *auth.Authenticator
	Configuration *configuration.Handler
	Orders        *orders.Handler
	Checkout      *checkout.Handler
	Webhooks      *webhooks.Handler
	Cart          *cart.Handler
	Images        *imagegen.Handler
	Dashboard     *dashboard.Handler
	Reviews       *reviews.Handler
	Feedback      *feedback.Handler
	Wishlist      *wishlist.Handler
	Users         *users.Handler
	Hub           *websocket.Hub
}

// NewRouter returns the complete API. allowedOrigin is the storefront
// origin granted CORS access.
func NewRouter(h Handlers, allowedOrigin string, logger *logrus.Logger) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()

	// Webhook deliveries carry no bearer token; the signature is the
	// authentication.
	api.HandleFunc("/webhooks", h.Webhooks.HandleWebhook).Methods(http.MethodPost)

	api.HandleFunc("/gallery/create-config", h.Configuration.CreateConfig).Methods(http.MethodPost)
	api.HandleFunc("/image", h.Images.GenerateImage).Methods(http.MethodPost)
	api.HandleFunc("/checkout", h.Checkout.CreateCheckout).Methods(http.MethodPost)

	api.HandleFunc("/cart", h.Cart.GetCart).Methods(http.MethodGet)
	api.HandleFunc("/cart", h.Cart.AddItem).Methods(http.MethodPost)
	api.HandleFunc("/cart", h.Cart.ClearCart).Methods(http.MethodDelete)
	api.HandleFunc("/cart/{index:[0-9]+}", h.Cart.RemoveItem).Methods(http.MethodDelete)

	api.HandleFunc("/orders", h.Orders.ListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders/payment-status", h.Orders.PaymentStatus).Methods(http.MethodGet)
	api.HandleFunc("/orders/{orderId}", h.Orders.GetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{orderId}", h.Orders.UpdateStatus).Methods(http.MethodPatch)
	api.HandleFunc("/orders/{orderId}/cancel", h.Orders.CancelOrder).Methods(http.MethodPost)

	api.HandleFunc("/reviews", h.Reviews.ListReviews).Methods(http.MethodGet)
	api.HandleFunc("/reviews", auth.Require(h.Reviews.CreateReview)).Methods(http.MethodPost)
	api.HandleFunc("/feedback", h.Feedback.SubmitFeedback).Methods(http.MethodPost)

	api.HandleFunc("/wishlist", auth.Require(h.Wishlist.ListWishlist)).Methods(http.MethodGet)
	api.HandleFunc("/wishlist", auth.Require(h.Wishlist.AddItem)).Methods(http.MethodPost)
	api.HandleFunc("/wishlist", auth.Require(h.Wishlist.DeleteItem)).Methods(http.MethodDelete)

	api.HandleFunc("/auth/callback", auth.Require(h.Users.AuthCallback)).Methods(http.MethodPost)
	api.HandleFunc("/profile", auth.Require(h.Users.GetProfile)).Methods(http.MethodGet)
	api.HandleFunc("/profile", auth.Require(h.Users.UpdateProfile)).Methods(http.MethodPatch)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/dashboard", h.Auth.RequireAdmin(h.Dashboard.GetDashboard)).Methods(http.MethodGet)
	admin.HandleFunc("/orders/export.xlsx", h.Auth.RequireAdmin(h.Dashboard.ExportOrders)).Methods(http.MethodGet)
	admin.HandleFunc("/health", h.Auth.RequireAdmin(h.Dashboard.Health)).Methods(http.MethodGet)

	router.HandleFunc("/ws", auth.Require(func(w http.ResponseWriter, r *http.Request) {
		user, _ := auth.FromContext(r.Context())
		h.Hub.ServeWS(w, r, user.ID, h.Auth.IsAdmin(user))
	})).Methods(http.MethodGet)

	router.Use(h.Auth.Middleware)

	return corsMiddleware(allowedOrigin)(loggingMiddleware(logger)(router))
}

// BridgeCart pushes every cart change of a signed-in user to that user's
// open websocket connections. The returned function stops the bridge.
func BridgeCart(bus *cart.Bus, hub *websocket.Hub) func() {
	return bus.Subscribe(func(e cart.Event) {
		if e.UserID == "" {
			return
		}
		hub.SendToUser(e.UserID, "cart_updated", e, "cart")
	})
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	httpx.RespondWithJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "storefront",
	})
}
