package configuration

import (
	"net/http"

	"github.com/casca-store/storefront/internal/httpx"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	resolver *Resolver
	logger   *logrus.Logger
}

func NewHandler(resolver *Resolver, logger *logrus.Logger) *Handler {
	return &Handler{resolver: resolver, logger: logger}
}

type createConfigRequest struct {
	ImageURL string `json:"imageUrl" validate:"required"`
}

// CreateConfig handles POST /api/gallery/create-config.
func (h *Handler) CreateConfig(w http.ResponseWriter, r *http.Request) {
	var req createConfigRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := h.resolver.Resolve(r.Context(), req.ImageURL)
	if err != nil {
		if err == ErrImageURLRequired {
			httpx.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.WithError(err).Error("Failed to resolve gallery configuration")
		httpx.RespondWithError(w, http.StatusInternalServerError, "Failed to create configuration")
		return
	}

	httpx.RespondWithJSON(w, http.StatusOK, map[string]string{"configId": cfg.ID})
}
