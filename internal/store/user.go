package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/natours/apiserver/types"
)

const userColumns = `id, name, email, photo, role, password_hash, password_changed_at,
		reset_token_hash, reset_token_expires_at, created_at, updated_at`

// UserRepository handles persistence for users and their credential state.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Photo,
		&user.Role,
		&user.PasswordHash,
		&user.PasswordChangedAt,
		&user.ResetTokenHash,
		&user.ResetTokenExpiresAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return types.User{}, ErrNotFound
	}
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByEmail looks up a user by normalized email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, types.NormalizeEmail(email)))
}

func (r *UserRepository) List(ctx context.Context, offset, limit int) ([]types.User, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const countQuery = `SELECT COUNT(1) FROM users`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + userColumns + `
		FROM users
		ORDER BY created_at, id
		OFFSET $1 LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := make([]types.User, 0, limit)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// Create inserts a new user with a fresh UUID. A zero CreatedAt is stamped
// with the current time. A taken email yields ErrDuplicate.
func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := user.CreatedAt.UTC()
	if user.CreatedAt.IsZero() {
		now = time.Now().UTC()
	}
	user.ID = uuid.NewString()
	user.Email = types.NormalizeEmail(user.Email)
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Photo == "" {
		user.Photo = types.DefaultPhoto
	}

	const query = `
		INSERT INTO users (id, name, email, photo, role, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.Name,
		user.Email,
		user.Photo,
		user.Role,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrDuplicate
		}
		return types.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// UpdatePassword stores a new hash and stamps the change time.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) (types.User, error) {
	query := `
		UPDATE users
		SET password_hash = $1,
			password_changed_at = $2,
			updated_at = $2
		WHERE id = $3
		RETURNING ` + userColumns
	return scanUser(r.db.QueryRowContext(ctx, query, passwordHash, changedAt, id))
}

// SetResetToken replaces any outstanding reset token of the user.
func (r *UserRepository) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	const query = `
		UPDATE users
		SET reset_token_hash = $1,
			reset_token_expires_at = $2,
			updated_at = NOW()
		WHERE id = $3`
	return r.execAffectingOne(ctx, query, tokenHash, expiresAt, id)
}

func (r *UserRepository) ClearResetToken(ctx context.Context, id string) error {
	const query = `
		UPDATE users
		SET reset_token_hash = NULL,
			reset_token_expires_at = NULL,
			updated_at = NOW()
		WHERE id = $1`
	return r.execAffectingOne(ctx, query, id)
}

// ConsumeResetToken matches an unexpired reset token, rotates the password
// and clears the token in one statement. Concurrent callers presenting the
// same token cannot both succeed. No match yields ErrNotFound.
func (r *UserRepository) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (types.User, error) {
	query := `
		UPDATE users
		SET password_hash = $1,
			password_changed_at = $2,
			reset_token_hash = NULL,
			reset_token_expires_at = NULL,
			updated_at = $2
		WHERE reset_token_hash = $3
			AND reset_token_expires_at > $2
		RETURNING ` + userColumns
	return scanUser(r.db.QueryRowContext(ctx, query, passwordHash, now, tokenHash))
}

func (r *UserRepository) UpdateRole(ctx context.Context, id string, role types.Role) (types.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return types.User{}, ErrNotFound
	}
	query := `
		UPDATE users
		SET role = $1,
			updated_at = NOW()
		WHERE id = $2
		RETURNING ` + userColumns
	return scanUser(r.db.QueryRowContext(ctx, query, role, id))
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	return r.execAffectingOne(ctx, `DELETE FROM users WHERE id = $1`, id)
}

func (r *UserRepository) execAffectingOne(ctx context.Context, query string, args ...any) error {
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
