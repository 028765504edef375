package wishlist

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/casca-store/storefront/internal/auth"
	"github.com/casca-store/storefront/internal/httpx"
	"github.com/casca-store/storefront/internal/store"
	"github.com/casca-store/storefront/pkg/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultTitle = "Untitled"

type Handler struct {
	store  store.Queries
	logger *logrus.Logger
	now    func() time.Time
}

func NewHandler(s store.Queries, logger *logrus.Logger) *Handler {
	return &Handler{store: s, logger: logger, now: time.Now}
}

// ListWishlist handles GET /api/wishlist for the signed-in user.
func (h *Handler) ListWishlist(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.FromContext(r.Context())
	items, err := h.store.ListWishlist(r.Context(), user.ID)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", user.ID).Error("Failed to fetch wishlist")
		httpx.RespondWithError(w, http.StatusInternalServerError, "Failed to fetch wishlist")
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"wishlist": items})
}

type addRequest struct {
	ConfigurationID string `json:"configurationId" validate:"required"`
	ImageURL        string `json:"imageUrl"`
	Title           string `json:"title" validate:"max=200"`
	Description     string `json:"description" validate:"max=2000"`
}

// AddItem handles POST /api/wishlist.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.FromContext(r.Context())

	var req addRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := h.store.GetConfiguration(r.Context(), req.ConfigurationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.RespondWithError(w, http.StatusNotFound, "Configuration not found")
			return
		}
		h.logger.WithError(err).Error("Failed to load configuration for wishlist")
		httpx.RespondWithError(w, http.StatusInternalServerError, "Failed to add")
		return
	}

	item := &models.WishlistItem{
		ID:              uuid.New().String(),
		ConfigurationID: cfg.ID,
		Title:           strings.TrimSpace(req.Title),
		Description:     strings.TrimSpace(req.Description),
		UserID:          user.ID,
		CreatedAt:       h.now(),
	}
	if item.Title == "" {
		item.Title = defaultTitle
	}
	imageURL := strings.TrimSpace(req.ImageURL)
	if imageURL == "" {
		imageURL = cfg.ImageURL
	}
	if imageURL != "" {
		item.ImageURL = &imageURL
	}

	if err := h.store.AddWishlistItem(r.Context(), item); err != nil {
		h.logger.WithError(err).WithField("user_id", user.ID).Error("Failed to add wishlist item")
		httpx.RespondWithError(w, http.StatusInternalServerError, "Failed to add")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"wishlist_id":      item.ID,
		"configuration_id": item.ConfigurationID,
		"user_id":          user.ID,
	}).Info("Wishlist item added")
	httpx.RespondWithJSON(w, http.StatusCreated, map[string]string{"id": item.ID})
}

type deleteRequest struct {
	ID string `json:"id" validate:"required"`
}

// DeleteItem handles DELETE /api/wishlist with a JSON body naming the
// item. Items of other users are reported as missing.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.FromContext(r.Context())

	var req deleteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := h.store.ListWishlist(r.Context(), user.ID)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", user.ID).Error("Failed to fetch wishlist")
		httpx.RespondWithError(w, http.StatusInternalServerError, "Failed to delete")
		return
	}
	owned := false
	for _, item := range items {
		if item.ID == req.ID {
			owned = true
			break
		}
	}
	if !owned {
		httpx.RespondWithError(w, http.StatusNotFound, "Wishlist item not found")
		return
	}

	if err := h.store.DeleteWishlistItem(r.Context(), req.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.WithError(err).WithField("wishlist_id", req.ID).Error("Failed to delete wishlist item")
		httpx.RespondWithError(w, http.StatusInternalServerError, "Failed to delete")
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Deleted successfully"})
}
