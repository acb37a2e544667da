package services

import (
	"context"
	"errors"
	"time"

	"github.com/natours/apiserver/internal/apperr"
	"github.com/natours/apiserver/internal/store"
	"github.com/natours/apiserver/types"
)

// UserRepository defines persistence operations for users and their
// credential state.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	List(ctx context.Context, offset, limit int) ([]types.User, int, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) (types.User, error)
	SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	ClearResetToken(ctx context.Context, id string) error
	ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (types.User, error)
	UpdateRole(ctx context.Context, id string, role types.Role) (types.User, error)
	Delete(ctx context.Context, id string) error
}

var errUserNotFound = apperr.NotFound("No user found with that ID")

// UserService encapsulates user administration use-cases.
type UserService struct {
	repo UserRepository
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

func (s *UserService) GetByID(ctx context.Context, id string) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.User{}, userError(err)
	}
	return user, nil
}

func (s *UserService) List(ctx context.Context, offset, limit int) ([]types.User, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.repo.List(ctx, offset, limit)
}

// SetRole changes a user's role. It is the only way a role other than user
// is ever assigned.
func (s *UserService) SetRole(ctx context.Context, id, rawRole string) (types.User, error) {
	role, ok := types.ParseRole(rawRole)
	if !ok {
		return types.User{}, apperr.BadRequest("Role must be either: user, guide, lead-guide, admin")
	}
	user, err := s.repo.UpdateRole(ctx, id, role)
	if err != nil {
		return types.User{}, userError(err)
	}
	return user, nil
}

func (s *UserService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return userError(err)
	}
	return nil
}

func userError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return errUserNotFound
	}
	return err
}
