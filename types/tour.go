package types

import (
	"math"
	"time"
)

// Difficulty levels accepted for a tour.
const (
	DifficultyEasy      = "easy"
	DifficultyMedium    = "medium"
	DifficultyDifficult = "difficult"
)

// DefaultRatingsAverage is the rating a tour starts with before any review.
const DefaultRatingsAverage = 4.5

// Tour represents a bookable tour in the catalogue.
type Tour struct {
	// ID is the unique identifier of the tour.
	ID int `json:"id" db:"id"`

	// Name is the unique, human-readable name of the tour.
	Name string `json:"name" db:"name"`

	// Slug is the URL-friendly form of Name.
	Slug string `json:"slug" db:"slug"`

	// Duration is the length of the tour in days.
	Duration int `json:"duration" db:"duration"`

	// MaxGroupSize is the maximum number of participants.
	MaxGroupSize int `json:"max_group_size" db:"max_group_size"`

	// Difficulty is one of easy, medium or difficult.
	Difficulty string `json:"difficulty" db:"difficulty"`

	// RatingsAverage is the mean review rating, rounded to one decimal.
	RatingsAverage float64 `json:"ratings_average" db:"ratings_average"`

	// RatingsQuantity is the number of reviews.
	RatingsQuantity int `json:"ratings_quantity" db:"ratings_quantity"`

	// Price is the regular price of the tour.
	Price float64 `json:"price" db:"price"`

	// PriceDiscount is an optional discounted price; it must be below Price.
	PriceDiscount *float64 `json:"price_discount,omitempty" db:"price_discount"`

	Summary     string `json:"summary" db:"summary"`
	Description string `json:"description" db:"description"`

	// ImageCover is the object storage key of the cover image.
	ImageCover string `json:"image_cover" db:"image_cover"`

	// Images holds object storage keys of additional images.
	Images []string `json:"images" db:"images"`

	// StartDates are the scheduled departures.
	StartDates []time.Time `json:"start_dates" db:"start_dates"`

	// CreatedAt is the timestamp at which the tour was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the tour.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RoundRating rounds a rating to one decimal place (4.666 -> 4.7).
func RoundRating(value float64) float64 {
	return math.Round(value*10) / 10
}
