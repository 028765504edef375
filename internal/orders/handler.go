package orders

import (
	"errors"
	"net/http"
	"strings"

	"github.com/casca-store/storefront/internal/auth"
	"github.com/casca-store/storefront/internal/httpx"
	"github.com/casca-store/storefront/pkg/models"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	service *Service
	logger  *logrus.Logger
}

func NewHandler(service *Service, logger *logrus.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type cancelRequest struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason" validate:"required"`
}

type statusRequest struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status" validate:"required"`
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	orders, err := h.service.List(r.Context(), user.ID)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", user.ID).Error("Failed to list orders")
		httpx.RespondWithError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, orders)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	order, err := h.service.Get(r.Context(), mux.Vars(r)["orderId"], user.ID)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to load order")
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, order)
}

// UpdateStatus handles PATCH /api/orders/{orderId}.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	orderID, ok := pathOrderID(r, req.OrderID)
	if !ok {
		httpx.RespondWithError(w, http.StatusBadRequest, "orderId does not match the request path")
		return
	}
	status, err := models.ParseOrderStatus(req.Status)
	if err != nil {
		httpx.RespondWithError(w, http.StatusBadRequest, "status must be one of PENDING, PROCESSING, SHIPPED, DELIVERED, CANCELLED")
		return
	}

	order, err := h.service.SetStatus(r.Context(), orderID, user.ID, status)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to update order")
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, order)
}

// CancelOrder handles POST /api/orders/{orderId}/cancel.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	orderID, ok := pathOrderID(r, req.OrderID)
	if !ok {
		httpx.RespondWithError(w, http.StatusBadRequest, "orderId does not match the request path")
		return
	}

	order, err := h.service.Cancel(r.Context(), orderID, user.ID, strings.TrimSpace(req.Reason))
	if err != nil {
		h.respondWithServiceError(w, err, "Could not cancel order")
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"order": order})
}

// PaymentStatus handles GET /api/orders/payment-status?orderId=a,b. The
// body is the first order once paid, or false while payment is pending.
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.RespondWithError(w, http.StatusUnauthorized, "You need to be logged in to view this page.")
		return
	}

	ids := SplitOrderIDs(r.URL.Query().Get("orderId"))
	if len(ids) == 0 {
		httpx.RespondWithError(w, http.StatusBadRequest, "orderId is required")
		return
	}

	order, err := h.service.PaymentStatus(r.Context(), ids, user.ID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			httpx.RespondWithError(w, http.StatusNotFound, "This order does not exist.")
			return
		}
		h.logger.WithError(err).Error("Failed to load payment status")
		httpx.RespondWithError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if order == nil {
		httpx.RespondWithJSON(w, http.StatusOK, false)
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, order)
}

func (h *Handler) respondWithServiceError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		httpx.RespondWithError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, ErrCannotCancel):
		httpx.RespondWithError(w, http.StatusBadRequest, "Cannot cancel this order")
	case errors.Is(err, ErrOpenOrderExists):
		httpx.RespondWithError(w, http.StatusConflict, "Another open order exists for this configuration")
	default:
		h.logger.WithError(err).Error(message)
		httpx.RespondWithError(w, http.StatusInternalServerError, message)
	}
}

// pathOrderID returns the order id from the route, rejecting a body id that
// names a different order.
func pathOrderID(r *http.Request, bodyID string) (string, bool) {
	id := mux.Vars(r)["orderId"]
	if bodyID != "" && bodyID != id {
		return "", false
	}
	return id, true
}

// SplitOrderIDs parses a comma-joined order id list, dropping blanks.
func SplitOrderIDs(raw string) []string {
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
