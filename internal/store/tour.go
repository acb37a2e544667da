package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/natours/apiserver/types"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var tourColumns = []string{
	"id", "name", "slug", "duration", "max_group_size", "difficulty",
	"ratings_average", "ratings_quantity", "price", "price_discount",
	"summary", "description", "image_cover", "images", "start_dates",
	"created_at", "updated_at",
}

// TourFilter is a comparison on a whitelisted tour column.
type TourFilter struct {
	Field string
	// Op is one of eq, gt, gte, lt, lte.
	Op    string
	Value any
}

// TourSort orders results by a whitelisted tour column.
type TourSort struct {
	Field string
	Desc  bool
}

// TourQuery describes a filtered, sorted page of tours.
type TourQuery struct {
	Filters []TourFilter
	Sort    []TourSort
	Offset  int
	Limit   int
}

// tourFields maps public field names to columns.
var tourFields = map[string]string{
	"name":             "name",
	"duration":         "duration",
	"max_group_size":   "max_group_size",
	"difficulty":       "difficulty",
	"ratings_average":  "ratings_average",
	"ratings_quantity": "ratings_quantity",
	"price":            "price",
	"created_at":       "created_at",
}

// IsTourField reports whether field can be used to filter or sort tours.
func IsTourField(field string) bool {
	_, ok := tourFields[field]
	return ok
}

// TourRepository handles persistence for tours.
type TourRepository struct {
	db *sql.DB
}

func NewTourRepository(db *sql.DB) *TourRepository {
	return &TourRepository{db: db}
}

func (r *TourRepository) List(ctx context.Context, q TourQuery) ([]types.Tour, int, error) {
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Limit < 1 {
		q.Limit = 20
	}

	where, err := tourWhere(q.Filters)
	if err != nil {
		return nil, 0, err
	}

	countQuery, countArgs, err := psql.Select("COUNT(1)").From("tours").Where(where).ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	builder := psql.Select(tourColumns...).From("tours").Where(where)
	if len(q.Sort) == 0 {
		builder = builder.OrderBy("created_at DESC", "id")
	}
	for _, s := range q.Sort {
		column, ok := tourFields[s.Field]
		if !ok {
			return nil, 0, fmt.Errorf("unknown sort field %q", s.Field)
		}
		if s.Desc {
			column += " DESC"
		}
		builder = builder.OrderBy(column)
	}
	listQuery, args, err := builder.Offset(uint64(q.Offset)).Limit(uint64(q.Limit)).ToSql()
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	tours := make([]types.Tour, 0, q.Limit)
	for rows.Next() {
		tour, err := scanTour(rows)
		if err != nil {
			return nil, 0, err
		}
		tours = append(tours, tour)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return tours, total, nil
}

func (r *TourRepository) Get(ctx context.Context, id int) (types.Tour, error) {
	query, args, err := psql.Select(tourColumns...).From("tours").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return types.Tour{}, err
	}
	return scanTour(r.db.QueryRowContext(ctx, query, args...))
}

func (r *TourRepository) Create(ctx context.Context, tour types.Tour) (types.Tour, error) {
	now := time.Now().UTC()
	tour.CreatedAt = now
	tour.UpdatedAt = now

	imagesJSON, startDatesJSON, err := marshalTourLists(tour)
	if err != nil {
		return types.Tour{}, err
	}

	query, args, err := psql.Insert("tours").
		Columns(
			"name", "slug", "duration", "max_group_size", "difficulty",
			"ratings_average", "ratings_quantity", "price", "price_discount",
			"summary", "description", "image_cover", "images", "start_dates",
			"created_at", "updated_at",
		).
		Values(
			tour.Name, tour.Slug, tour.Duration, tour.MaxGroupSize, tour.Difficulty,
			tour.RatingsAverage, tour.RatingsQuantity, tour.Price, tour.PriceDiscount,
			tour.Summary, tour.Description, tour.ImageCover, imagesJSON, startDatesJSON,
			tour.CreatedAt, tour.UpdatedAt,
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return types.Tour{}, err
	}
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&tour.ID); err != nil {
		if isUniqueViolation(err) {
			return types.Tour{}, ErrDuplicate
		}
		return types.Tour{}, err
	}
	return tour, nil
}

// Update overwrites the editable fields of a tour. Ratings are maintained
// by the review repository and are left untouched.
func (r *TourRepository) Update(ctx context.Context, tour types.Tour) (types.Tour, error) {
	tour.UpdatedAt = time.Now().UTC()

	imagesJSON, startDatesJSON, err := marshalTourLists(tour)
	if err != nil {
		return types.Tour{}, err
	}

	query, args, err := psql.Update("tours").
		SetMap(map[string]any{
			"name":           tour.Name,
			"slug":           tour.Slug,
			"duration":       tour.Duration,
			"max_group_size": tour.MaxGroupSize,
			"difficulty":     tour.Difficulty,
			"price":          tour.Price,
			"price_discount": tour.PriceDiscount,
			"summary":        tour.Summary,
			"description":    tour.Description,
			"image_cover":    tour.ImageCover,
			"images":         imagesJSON,
			"start_dates":    startDatesJSON,
			"updated_at":     tour.UpdatedAt,
		}).
		Where(sq.Eq{"id": tour.ID}).
		Suffix("RETURNING " + strings.Join(tourColumns, ", ")).
		ToSql()
	if err != nil {
		return types.Tour{}, err
	}
	updated, err := scanTour(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if isUniqueViolation(err) {
			return types.Tour{}, ErrDuplicate
		}
		return types.Tour{}, err
	}
	return updated, nil
}

// SetImageCover records the object key of a newly uploaded cover image.
func (r *TourRepository) SetImageCover(ctx context.Context, id int, key string) error {
	query, args, err := psql.Update("tours").
		Set("image_cover", key).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *TourRepository) Delete(ctx context.Context, id int) error {
	const query = `DELETE FROM tours WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAll removes every tour along with its reviews and returns how many
// tours were deleted.
func (r *TourRepository) DeleteAll(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tours`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func tourWhere(filters []TourFilter) (sq.And, error) {
	where := sq.And{}
	for _, f := range filters {
		column, ok := tourFields[f.Field]
		if !ok {
			return nil, fmt.Errorf("unknown filter field %q", f.Field)
		}
		switch f.Op {
		case "eq", "":
			where = append(where, sq.Eq{column: f.Value})
		case "gt":
			where = append(where, sq.Gt{column: f.Value})
		case "gte":
			where = append(where, sq.GtOrEq{column: f.Value})
		case "lt":
			where = append(where, sq.Lt{column: f.Value})
		case "lte":
			where = append(where, sq.LtOrEq{column: f.Value})
		default:
			return nil, fmt.Errorf("unknown filter operator %q", f.Op)
		}
	}
	return where, nil
}

func scanTour(row rowScanner) (types.Tour, error) {
	var tour types.Tour
	var imagesJSON, startDatesJSON []byte
	err := row.Scan(
		&tour.ID,
		&tour.Name,
		&tour.Slug,
		&tour.Duration,
		&tour.MaxGroupSize,
		&tour.Difficulty,
		&tour.RatingsAverage,
		&tour.RatingsQuantity,
		&tour.Price,
		&tour.PriceDiscount,
		&tour.Summary,
		&tour.Description,
		&tour.ImageCover,
		&imagesJSON,
		&startDatesJSON,
		&tour.CreatedAt,
		&tour.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Tour{}, ErrNotFound
		}
		return types.Tour{}, err
	}
	_ = json.Unmarshal(imagesJSON, &tour.Images)
	_ = json.Unmarshal(startDatesJSON, &tour.StartDates)
	return tour, nil
}

func marshalTourLists(tour types.Tour) ([]byte, []byte, error) {
	images := tour.Images
	if images == nil {
		images = []string{}
	}
	imagesJSON, err := json.Marshal(images)
	if err != nil {
		return nil, nil, err
	}
	startDates := tour.StartDates
	if startDates == nil {
		startDates = []time.Time{}
	}
	startDatesJSON, err := json.Marshal(startDates)
	if err != nil {
		return nil, nil, err
	}
	return imagesJSON, startDatesJSON, nil
}
