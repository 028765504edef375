// Package users keeps the local user record in step with the identity
// provider and serves the profile endpoints.
package users

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/casca-store/storefront/internal/auth"
	"github.com/casca-store/storefront/internal/httpx"
	"github.com/casca-store/storefront/internal/store"
	"github.com/casca-store/storefront/pkg/models"
	"github.com/sirupsen/logrus"
)

type Greeter interface {
	Welcome(ctx context.Context, to, name string) error
	WelcomeBack(ctx context.Context, to, name string) error
}

type Handler struct {
	store   store.Queries
	greeter Greeter
	logger  *logrus.Logger
	now     func() time.Time
}

func NewHandler(s store.Queries, greeter Greeter, logger *logrus.Logger) *Handler {
	return &Handler{store: s, greeter: greeter, logger: logger, now: time.Now}
}

// AuthCallback handles POST /api/auth/callback, called by the browser
// right after sign-in. New users get a welcome email, returning users a
// welcome-back one; email failures never fail the sign-in.
func (h *Handler) AuthCallback(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())
	if identity.Email == "" {
		httpx.RespondWithError(w, http.StatusBadRequest, "Invalid user data")
		return
	}

	user := &models.User{
		ID:        identity.ID,
		Email:     identity.Email,
		FirstName: identity.FirstName,
		LastName:  identity.LastName,
		Picture:   identity.Picture,
	}
	created, err := h.store.UpsertUser(r.Context(), user, h.now())
	if err != nil {
		h.logger.WithError(err).WithField("user_id", identity.ID).Error("Failed to upsert user")
		httpx.RespondWithError(w, http.StatusInternalServerError, "Failed to sync user")
		return
	}

	name := identity.FirstName
	if name == "" {
		name = identity.LastName
	}
	send := h.greeter.WelcomeBack
	if created {
		send = h.greeter.Welcome
	}
	if err := send(r.Context(), identity.Email, name); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"user_id":  identity.ID,
			"new_user": created,
		}).Warn("Failed to send sign-in email")
	}

	h.logger.WithFields(logrus.Fields{
		"user_id":  identity.ID,
		"new_user": created,
	}).Info("User signed in")
	httpx.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"isNew":   created,
	})
}

// GetProfile handles GET /api/profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())
	user, err := h.store.GetUser(r.Context(), identity.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.RespondWithError(w, http.StatusNotFound, "Profile not found")
			return
		}
		h.logger.WithError(err).WithField("user_id", identity.ID).Error("Failed to load profile")
		httpx.RespondWithError(w, http.StatusInternalServerError, "Failed to load profile")
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, user)
}

type profileRequest struct {
	FirstName string `json:"firstName" validate:"omitempty,max=100"`
	LastName  string `json:"lastName" validate:"omitempty,max=100"`
	Phone     string `json:"phone" validate:"omitempty,max=30"`
	Address   string `json:"address" validate:"omitempty,max=500"`
	Picture   string `json:"picture" validate:"omitempty,url"`
}

// UpdateProfile handles PATCH /api/profile. Omitted or empty fields keep
// their stored values.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())
	if identity.Email == "" {
		httpx.RespondWithError(w, http.StatusBadRequest, "Email is required")
		return
	}

	var req profileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	user := &models.User{
		ID:        identity.ID,
		Email:     identity.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Address:   req.Address,
		Picture:   req.Picture,
	}
	if _, err := h.store.UpsertUser(r.Context(), user, h.now()); err != nil {
		h.logger.WithError(err).WithField("user_id", identity.ID).Error("Failed to update profile")
		httpx.RespondWithError(w, http.StatusInternalServerError, "Failed to update profile")
		return
	}

	h.logger.WithField("user_id", identity.ID).Info("Profile updated")
	httpx.RespondWithJSON(w, http.StatusOK, user)
}
