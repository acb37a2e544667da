package services

import (
	"context"
	"errors"
	"strings"

	"github.com/natours/apiserver/internal/apperr"
	"github.com/natours/apiserver/internal/store"
	"github.com/natours/apiserver/types"
)

// ReviewRepository defines persistence operations for reviews.
type ReviewRepository interface {
	ListByTour(ctx context.Context, tourID int) ([]types.Review, error)
	Create(ctx context.Context, review types.Review) (types.Review, error)
}

// ReviewInput is the client-supplied part of a review.
type ReviewInput struct {
	Review string `json:"review" validate:"required"`
	Rating int    `json:"rating" validate:"required,min=1,max=5"`
}

// ReviewService encapsulates review use-cases.
type ReviewService struct {
	repo  ReviewRepository
	tours TourRepository
}

func NewReviewService(repo ReviewRepository, tours TourRepository) *ReviewService {
	return &ReviewService{repo: repo, tours: tours}
}

func (s *ReviewService) ListByTour(ctx context.Context, tourID int) ([]types.Review, error) {
	if _, err := s.tours.Get(ctx, tourID); err != nil {
		return nil, tourError(err)
	}
	return s.repo.ListByTour(ctx, tourID)
}

// Create records author's review of a tour. Each user reviews a tour once.
func (s *ReviewService) Create(ctx context.Context, author types.User, tourID int, in ReviewInput) (types.Review, error) {
	in.Review = strings.TrimSpace(in.Review)
	if err := validateInput(in); err != nil {
		return types.Review{}, err
	}

	review, err := s.repo.Create(ctx, types.Review{
		TourID: tourID,
		UserID: author.ID,
		Review: in.Review,
		Rating: in.Rating,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicate):
			return types.Review{}, apperr.BadRequest("You have already reviewed this tour")
		case errors.Is(err, store.ErrNotFound):
			return types.Review{}, errTourNotFound
		}
		return types.Review{}, err
	}
	review.UserName = author.Name
	return review, nil
}
