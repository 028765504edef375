package checkout

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/casca-store/storefront/internal/auth"
	"github.com/casca-store/storefront/internal/httpx"
	"github.com/casca-store/storefront/internal/orders"
	"github.com/casca-store/storefront/pkg/models"
	"github.com/sirupsen/logrus"
)

// CartSource yields the cart saved with the browser session.
type CartSource interface {
	Items(r *http.Request) ([]models.CartItem, error)
}

type Handler struct {
	service *Service
	carts   CartSource
	logger  *logrus.Logger
}

func NewHandler(service *Service, carts CartSource, logger *logrus.Logger) *Handler {
	return &Handler{service: service, carts: carts, logger: logger}
}

type checkoutRequest struct {
	CartItems *[]models.CartItem `json:"cartItems"`
}

// CreateCheckout handles POST /api/checkout. Without cartItems in the body
// the session cart is checked out.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpx.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	var items []models.CartItem
	if req.CartItems != nil {
		items = *req.CartItems
	} else if h.carts != nil {
		stored, err := h.carts.Items(r)
		if err != nil {
			h.logger.WithError(err).Warn("Failed to read session cart")
		}
		items = stored
	}

	user, _ := auth.FromContext(r.Context())
	sess, err := h.service.CreateCartCheckoutSession(r.Context(), user, items)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotLoggedIn):
			httpx.RespondWithError(w, http.StatusUnauthorized, err.Error())
		case errors.Is(err, ErrCartEmpty):
			httpx.RespondWithError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, orders.ErrConfigurationNotFound):
			httpx.RespondWithError(w, http.StatusNotFound, "Configuration not found")
		default:
			h.logger.WithError(err).Error("Failed to create checkout session")
			httpx.RespondWithError(w, http.StatusInternalServerError, "Failed to create checkout session")
		}
		return
	}

	httpx.RespondWithJSON(w, http.StatusOK, map[string]string{"url": sess.URL})
}
