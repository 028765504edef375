package reviews

import (
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

type Handler struct {
	store  store.Queries
	logger *logrus.Logger
	now    func() time.Time
}

func NewHandler(s store.Queries, logger *logrus.Logger) *Handler {
	return &Handler{store: s, logger: logger, now: time.Now}
}

type createRequest struct {
	UserName   string   `json:"userName" validate:"required,max=100"`
	UserRole   string   `json:"userRole" validate:"required,max=100"`
	Rating     int      `json:"rating" validate:"required,min=1,max=5"`
	ReviewText string   `json:"reviewText" validate:"required,max=2000"`
	Photos     []string `json:"photos" validate:"max=5,dive,url"`
}

// CreateReview handles POST /api/reviews.
func (h *Handler) CreateReview(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.FromContext(r.Context())

	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	photos := req.Photos
	if photos == nil {
		photos = []string{}
	}
	review := &models.Review{
		ID:         uuid.New().String(),
		UserID:     user.ID,
		UserName:   strings.TrimSpace(req.UserName),
		UserRole:   strings.TrimSpace(req.UserRole),
		Rating:     req.Rating,
		ReviewText: strings.TrimSpace(req.ReviewText),
		Photos:     photos,
		UserAvatar: user.Picture,
		CreatedAt:  h.now(),
	}
	if err := h.store.CreateReview(r.Context(), review); err != nil {
		h.logger.WithError(err).WithField("user_id", user.ID).Error("Failed to create review")
		httpx.RespondWithError(w, http.StatusInternalServerError, "Failed to submit review")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"review_id": review.ID,
		"user_id":   user.ID,
		"rating":    review.Rating,
	}).Info("Review created")
	httpx.RespondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"success":  true,
		"message":  "Review submitted successfully",
		"reviewId": review.ID,
	})
}

// ListReviews handles GET /api/reviews, newest first.
func (h *Handler) ListReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.store.ListReviews(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list reviews")
		httpx.RespondWithError(w, http.StatusInternalServerError, "Failed to fetch reviews")
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"reviews": reviews,
		"count":   len(reviews),
	})
}
