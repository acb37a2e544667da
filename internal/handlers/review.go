package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/natours/apiserver/internal/access"
	"github.com/natours/apiserver/internal/services"
	"github.com/natours/apiserver/types"
	"github.com/sirupsen/logrus"
)

// ReviewHandler provides HTTP handlers for the reviews of a tour.
type ReviewHandler struct {
	reviewService *services.ReviewService
	log           logrus.FieldLogger
}

func NewReviewHandler(reviewService *services.ReviewService, log logrus.FieldLogger) *ReviewHandler {
	return &ReviewHandler{reviewService: reviewService, log: log}
}

// ReviewsRouter registers review routes on a router mounted under
// /tours/{tourID}/reviews.
func ReviewsRouter(r chi.Router, handler *ReviewHandler, authn *Authenticator) {
	r.Get("/", handler.ListReviews)
	r.With(authn.RestrictTo(types.RoleUser)).Post("/", handler.CreateReview)
}

func (h *ReviewHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	tourID, err := parseTourID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	reviews, err := h.reviewService.ListByTour(r.Context(), tourID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{
		Status:  statusSuccess,
		Results: len(reviews),
		Total:   len(reviews),
		Data:    ReviewsData{Reviews: reviews},
	})
}

func (h *ReviewHandler) CreateReview(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		writeError(w, h.log, access.ErrMissingCredential)
		return
	}
	tourID, err := parseTourID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	var req services.ReviewInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	review, err := h.reviewService.Create(r.Context(), user, tourID, req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeData(w, http.StatusCreated, ReviewData{Review: review})
}

type ReviewsData struct {
	Reviews []types.Review `json:"reviews"`
}

type ReviewData struct {
	Review types.Review `json:"review"`
}
