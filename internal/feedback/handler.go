package feedback

import (
	"net/http"
	"strings"
	"time"

	"github.com/casca-store/storefront/internal/httpx"
	"github.com/casca-store/storefront/internal/store"
	"github.com/casca-store/storefront/pkg/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	CategoryBug     = "Bug report"
	CategoryFeature = "Feature request"
	CategoryGeneral = "General feedback"
)

type Handler struct {
	store  store.Queries
	logger *logrus.Logger
	now    func() time.Time
}

func NewHandler(s store.Queries, logger *logrus.Logger) *Handler {
	return &Handler{store: s, logger: logger, now: time.Now}
}

type submitRequest struct {
	Category    string   `json:"category" validate:"required,oneof='Bug report' 'Feature request' 'General feedback'"`
	NPS         *int     `json:"nps" validate:"omitempty,min=0,max=10"`
	Message     string   `json:"message" validate:"required,max=5000"`
	Images      []string `json:"images" validate:"max=5,dive,url"`
	Email       *string  `json:"email" validate:"omitempty,email"`
	OkToContact bool     `json:"okToContact"`
	Consent     *bool    `json:"consent" validate:"required"`
}

// SubmitFeedback handles POST /api/feedback. Anonymous submissions are
// accepted.
func (h *Handler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	images := req.Images
	if images == nil {
		images = []string{}
	}
	var email *string
	if req.Email != nil {
		if e := strings.TrimSpace(*req.Email); e != "" {
			email = &e
		}
	}

	fb := &models.Feedback{
		ID:          uuid.New().String(),
		Category:    req.Category,
		NPS:         req.NPS,
		Message:     strings.TrimSpace(req.Message),
		Images:      images,
		Email:       email,
		OkToContact: req.OkToContact && email != nil,
		Consent:     *req.Consent,
		CreatedAt:   h.now(),
	}
	if err := h.store.CreateFeedback(r.Context(), fb); err != nil {
		h.logger.WithError(err).Error("Failed to store feedback")
		httpx.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"feedback_id": fb.ID,
		"category":    fb.Category,
	}).Info("Feedback received")
	httpx.RespondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"id":      fb.ID,
	})
}
