package cart

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/casca-store/storefront/internal/auth"
	"github.com/casca-store/storefront/internal/configuration"
	"github.com/casca-store/storefront/internal/httpx"
	"github.com/casca-store/storefront/pkg/models"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	sessions *SessionStore
	resolver *configuration.Resolver
	bus      *Bus
	logger   *logrus.Logger
	now      func() time.Time
}

func NewHandler(sessions *SessionStore, resolver *configuration.Resolver, bus *Bus, logger *logrus.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		resolver: resolver,
		bus:      bus,
		logger:   logger,
		now:      time.Now,
	}
}

type addRequest struct {
	ConfigID string `json:"configId" validate:"max=64"`
	ImageURL string `json:"imageUrl" validate:"required_without=ConfigID"`
}

type cartResponse struct {
	Items []models.CartItem `json:"items"`
	Count int               `json:"count"`
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	items, err := h.sessions.Items(r)
	if err != nil {
		h.logger.WithError(err).Warn("Discarding unreadable cart cookie")
	}
	items = h.withImages(r.Context(), items)
	httpx.RespondWithJSON(w, http.StatusOK, cartResponse{Items: items, Count: len(items)})
}

// withImages fills in each line's image from its configuration. Lines
// whose configuration is gone keep an empty image.
func (h *Handler) withImages(ctx context.Context, items []models.CartItem) []models.CartItem {
	for i := range items {
		if items[i].ImageURL != "" {
			continue
		}
		cfg, err := h.resolver.Get(ctx, items[i].ConfigID)
		if err != nil {
			h.logger.WithError(err).WithField("configuration_id", items[i].ConfigID).Debug("Cart line without configuration")
			continue
		}
		items[i].ImageURL = cfg.ImageURL
	}
	return items
}

// AddItem handles POST /api/cart. Lines that only name an image get a
// configuration first, the same way the gallery does.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	item := models.CartItem{
		ConfigID: strings.TrimSpace(req.ConfigID),
		ImageURL: strings.TrimSpace(req.ImageURL),
		AddedAt:  h.now().UnixMilli(),
	}
	if item.ConfigID == "" {
		cfg, err := h.resolver.Resolve(r.Context(), item.ImageURL)
		if err != nil {
			h.logger.WithError(err).Error("Failed to create configuration for cart item")
			httpx.RespondWithError(w, http.StatusInternalServerError, "Failed to create configuration")
			return
		}
		item.ConfigID = cfg.ID
	} else {
		cfg, err := h.resolver.Get(r.Context(), item.ConfigID)
		if err != nil {
			if errors.Is(err, configuration.ErrNotFound) {
				httpx.RespondWithError(w, http.StatusNotFound, "Configuration not found")
				return
			}
			h.logger.WithError(err).Error("Failed to load configuration for cart item")
			httpx.RespondWithError(w, http.StatusInternalServerError, "Failed to add item")
			return
		}
		item.ImageURL = cfg.ImageURL
	}

	h.apply(w, r, Add(item), http.StatusCreated)
}

// RemoveItem handles DELETE /api/cart/{index}.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		httpx.RespondWithError(w, http.StatusBadRequest, "index must be a number")
		return
	}
	h.apply(w, r, Remove(index), http.StatusOK)
}

// ClearCart handles DELETE /api/cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, Clear(), http.StatusOK)
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request, action Action, status int) {
	current, err := h.sessions.Items(r)
	if err != nil {
		h.logger.WithError(err).Warn("Discarding unreadable cart cookie")
	}

	next, err := Reduce(current, action)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidIndex):
			httpx.RespondWithError(w, http.StatusNotFound, err.Error())
		default:
			httpx.RespondWithError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	if err := h.sessions.Save(w, r, next); err != nil {
		if errors.Is(err, ErrCartFull) {
			h.logger.WithError(err).Warn("Cart cookie too large")
			httpx.RespondWithError(w, http.StatusBadRequest, ErrCartFull.Error())
			return
		}
		h.logger.WithError(err).Error("Failed to save cart")
		httpx.RespondWithError(w, http.StatusInternalServerError, "Failed to save cart")
		return
	}

	next = h.withImages(r.Context(), next)
	event := Event{Action: action.Type, Items: next, Count: len(next)}
	if user, ok := auth.FromContext(r.Context()); ok {
		event.UserID = user.ID
	}
	h.bus.Publish(event)

	h.logger.WithFields(logrus.Fields{
		"action":  action.Type,
		"count":   len(next),
		"user_id": event.UserID,
	}).Debug("Cart updated")
	httpx.RespondWithJSON(w, status, cartResponse{Items: next, Count: len(next)})
}
