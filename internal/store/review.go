package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/natours/apiserver/types"
)

// ReviewRepository handles persistence for reviews and keeps the tour
// rating aggregates in sync.
type ReviewRepository struct {
	db *sql.DB
}

func NewReviewRepository(db *sql.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

func (r *ReviewRepository) ListByTour(ctx context.Context, tourID int) ([]types.Review, error) {
	const query = `
		SELECT r.id, r.tour_id, r.user_id, u.name, r.review, r.rating, r.created_at
		FROM reviews r
		JOIN users u ON u.id = r.user_id
		WHERE r.tour_id = $1
		ORDER BY r.created_at DESC, r.id`
	rows, err := r.db.QueryContext(ctx, query, tourID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reviews := make([]types.Review, 0)
	for rows.Next() {
		var review types.Review
		if err := rows.Scan(
			&review.ID,
			&review.TourID,
			&review.UserID,
			&review.UserName,
			&review.Review,
			&review.Rating,
			&review.CreatedAt,
		); err != nil {
			return nil, err
		}
		reviews = append(reviews, review)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reviews, nil
}

// Create inserts a review and recomputes the tour's rating average and
// quantity in the same transaction. A second review of the same tour by the
// same user yields ErrDuplicate; an unknown tour yields ErrNotFound.
func (r *ReviewRepository) Create(ctx context.Context, review types.Review) (types.Review, error) {
	review.CreatedAt = time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Review{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const insertQuery = `
		INSERT INTO reviews (tour_id, user_id, review, rating, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	if err := tx.QueryRowContext(
		ctx,
		insertQuery,
		review.TourID,
		review.UserID,
		review.Review,
		review.Rating,
		review.CreatedAt,
	).Scan(&review.ID); err != nil {
		switch {
		case isUniqueViolation(err):
			return types.Review{}, ErrDuplicate
		case isForeignKeyViolation(err):
			return types.Review{}, ErrNotFound
		}
		return types.Review{}, fmt.Errorf("insert review: %w", err)
	}

	const statsQuery = `
		UPDATE tours
		SET ratings_quantity = stats.quantity,
			ratings_average = stats.average,
			updated_at = NOW()
		FROM (
			SELECT COUNT(1) AS quantity,
				COALESCE(ROUND(AVG(rating)::numeric, 1), $2) AS average
			FROM reviews
			WHERE tour_id = $1
		) AS stats
		WHERE tours.id = $1`
	if _, err := tx.ExecContext(ctx, statsQuery, review.TourID, types.DefaultRatingsAverage); err != nil {
		return types.Review{}, fmt.Errorf("update tour ratings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return types.Review{}, err
	}
	return review, nil
}
