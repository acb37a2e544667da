package types

import "time"

// Review is a user's rating and comment for a tour.
// A user may review a given tour only once.
type Review struct {
	ID        int64     `json:"id" db:"id"`
	TourID    int       `json:"tour_id" db:"tour_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	UserName  string    `json:"user_name,omitempty" db:"user_name"`
	Review    string    `json:"review" db:"review"`
	Rating    int       `json:"rating" db:"rating"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
