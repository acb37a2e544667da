package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/natours/apiserver/internal/apperr"
	"github.com/natours/apiserver/internal/storage"
	"github.com/natours/apiserver/internal/store"
	"github.com/natours/apiserver/types"
	"github.com/sirupsen/logrus"
)

// TourRepository defines persistence operations for tours.
type TourRepository interface {
	List(ctx context.Context, q store.TourQuery) ([]types.Tour, int, error)
	Get(ctx context.Context, id int) (types.Tour, error)
	Create(ctx context.Context, tour types.Tour) (types.Tour, error)
	Update(ctx context.Context, tour types.Tour) (types.Tour, error)
	SetImageCover(ctx context.Context, id int, key string) error
	Delete(ctx context.Context, id int) error
}

// ImageStore is the subset of object storage used for tour images.
type ImageStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (storage.Object, error)
	Delete(ctx context.Context, key string) error
}

var (
	errTourNotFound    = apperr.NotFound("No tour found with that ID")
	errImageNotFound   = apperr.NotFound("This tour has no cover image")
	errUploadsDisabled = apperr.BadRequest("Image uploads are not enabled on this server")
)

// TourInput is the editable part of a tour.
type TourInput struct {
	Name          string      `json:"name" validate:"required,min=5,max=40"`
	Duration      int         `json:"duration" validate:"required,gt=0"`
	MaxGroupSize  int         `json:"max_group_size" validate:"required,gt=0"`
	Difficulty    string      `json:"difficulty" validate:"required,oneof=easy medium difficult"`
	Price         float64     `json:"price" validate:"required,gt=0"`
	PriceDiscount *float64    `json:"price_discount"`
	Summary       string      `json:"summary" validate:"required"`
	Description   string      `json:"description"`
	Images        []string    `json:"images"`
	StartDates    []time.Time `json:"start_dates"`
}

// TourService encapsulates tour catalogue use-cases.
type TourService struct {
	repo   TourRepository
	images ImageStore
	log    logrus.FieldLogger
}

// NewTourService builds the service. images may be nil, which disables
// cover uploads.
func NewTourService(repo TourRepository, images ImageStore, log logrus.FieldLogger) *TourService {
	return &TourService{repo: repo, images: images, log: log}
}

func (s *TourService) List(ctx context.Context, q store.TourQuery) ([]types.Tour, int, error) {
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	return s.repo.List(ctx, q)
}

// TopCheap lists the five best rated tours, cheapest first among equals.
func (s *TourService) TopCheap(ctx context.Context) ([]types.Tour, error) {
	tours, _, err := s.repo.List(ctx, store.TourQuery{
		Sort: []store.TourSort{
			{Field: "ratings_average", Desc: true},
			{Field: "price"},
		},
		Limit: 5,
	})
	return tours, err
}

func (s *TourService) Get(ctx context.Context, id int) (types.Tour, error) {
	tour, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Tour{}, tourError(err)
	}
	return tour, nil
}

func (s *TourService) Create(ctx context.Context, in TourInput) (types.Tour, error) {
	tour, err := s.buildTour(in)
	if err != nil {
		return types.Tour{}, err
	}
	tour.RatingsAverage = types.DefaultRatingsAverage

	created, err := s.repo.Create(ctx, tour)
	if err != nil {
		return types.Tour{}, tourError(err)
	}
	s.log.WithField("tour_id", created.ID).Info("tour created")
	return created, nil
}

// Import creates tours in order and stops at the first one that fails. It
// returns how many were created before the failure.
func (s *TourService) Import(ctx context.Context, inputs []TourInput) (int, error) {
	for i, in := range inputs {
		if _, err := s.Create(ctx, in); err != nil {
			return i, fmt.Errorf("tour %d (%q): %w", i+1, in.Name, err)
		}
	}
	return len(inputs), nil
}

// Update replaces the editable fields of a tour and keeps its cover image
// and ratings.
func (s *TourService) Update(ctx context.Context, id int, in TourInput) (types.Tour, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Tour{}, tourError(err)
	}
	tour, err := s.buildTour(in)
	if err != nil {
		return types.Tour{}, err
	}
	tour.ID = current.ID
	tour.ImageCover = current.ImageCover

	updated, err := s.repo.Update(ctx, tour)
	if err != nil {
		return types.Tour{}, tourError(err)
	}
	return updated, nil
}

func (s *TourService) Delete(ctx context.Context, id int) error {
	tour, err := s.repo.Get(ctx, id)
	if err != nil {
		return tourError(err)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return tourError(err)
	}
	if tour.ImageCover != "" && s.images != nil {
		if err := s.images.Delete(ctx, tour.ImageCover); err != nil {
			s.log.WithError(err).WithField("tour_id", id).Warn("failed to delete cover image")
		}
	}
	return nil
}

// UploadCover stores a new cover image and points the tour at it. The
// previous image, if any, is removed afterwards.
func (s *TourService) UploadCover(ctx context.Context, id int, r io.Reader, size int64, contentType, ext string) (types.Tour, error) {
	if s.images == nil {
		return types.Tour{}, errUploadsDisabled
	}
	tour, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Tour{}, tourError(err)
	}

	key := fmt.Sprintf("tours/%d/cover-%s%s", id, uuid.NewString(), ext)
	if err := s.images.Put(ctx, key, r, size, contentType); err != nil {
		return types.Tour{}, apperr.Internal("failed to store image", err)
	}
	if err := s.repo.SetImageCover(ctx, id, key); err != nil {
		_ = s.images.Delete(context.WithoutCancel(ctx), key)
		return types.Tour{}, tourError(err)
	}

	if tour.ImageCover != "" {
		if err := s.images.Delete(ctx, tour.ImageCover); err != nil {
			s.log.WithError(err).WithField("tour_id", id).Warn("failed to delete previous cover image")
		}
	}
	tour.ImageCover = key
	return tour, nil
}

// OpenCover opens the tour's cover image. The caller closes the body.
func (s *TourService) OpenCover(ctx context.Context, id int) (storage.Object, error) {
	if s.images == nil {
		return storage.Object{}, errImageNotFound
	}
	tour, err := s.repo.Get(ctx, id)
	if err != nil {
		return storage.Object{}, tourError(err)
	}
	if tour.ImageCover == "" {
		return storage.Object{}, errImageNotFound
	}
	obj, err := s.images.Get(ctx, tour.ImageCover)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return storage.Object{}, errImageNotFound
		}
		return storage.Object{}, apperr.Internal("failed to load image", err)
	}
	return obj, nil
}

func (s *TourService) buildTour(in TourInput) (types.Tour, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Difficulty = strings.ToLower(strings.TrimSpace(in.Difficulty))
	if err := validateInput(in); err != nil {
		return types.Tour{}, err
	}
	if in.PriceDiscount != nil && (*in.PriceDiscount < 0 || *in.PriceDiscount >= in.Price) {
		return types.Tour{}, apperr.BadRequest(fmt.Sprintf(
			"Invalid input data. Discount price (%g) must be less than regular price", *in.PriceDiscount))
	}
	return types.Tour{
		Name:          in.Name,
		Slug:          slug.Make(in.Name),
		Duration:      in.Duration,
		MaxGroupSize:  in.MaxGroupSize,
		Difficulty:    in.Difficulty,
		Price:         in.Price,
		PriceDiscount: in.PriceDiscount,
		Summary:       strings.TrimSpace(in.Summary),
		Description:   strings.TrimSpace(in.Description),
		Images:        in.Images,
		StartDates:    in.StartDates,
	}, nil
}

func tourError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return errTourNotFound
	case errors.Is(err, store.ErrDuplicate):
		return apperr.BadRequest("A tour with that name already exists. Please use another value!")
	}
	return err
}
