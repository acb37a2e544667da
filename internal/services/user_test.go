package services

import (
	"context"
	"testing"

	"github.com/natours/apiserver/internal/apperr"
	"github.com/natours/apiserver/types"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, repo *memUserRepo, email string) types.User {
	t.Helper()
	user, err := repo.Create(context.Background(), types.User{
		Name:         "Seed",
		Email:        email,
		Role:         types.RoleUser,
		PasswordHash: "$2a$04$irrelevant",
	})
	require.NoError(t, err)
	return user
}

func TestUserServiceSetRole(t *testing.T) {
	repo := newMemUserRepo()
	svc := NewUserService(repo)
	user := seedUser(t, repo, "guide@x.com")

	updated, err := svc.SetRole(context.Background(), user.ID, " Lead-Guide ")
	require.NoError(t, err)
	require.Equal(t, types.RoleLeadGuide, updated.Role)

	_, err = svc.SetRole(context.Background(), user.ID, "superuser")
	require.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	_, err = svc.SetRole(context.Background(), "missing", "admin")
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestUserServiceListClampsLimit(t *testing.T) {
	repo := newMemUserRepo()
	svc := NewUserService(repo)
	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		seedUser(t, repo, email)
	}

	users, total, err := svc.List(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, users, 2)
	require.Equal(t, "b@x.com", users[0].Email)
}

func TestUserServiceGetAndDelete(t *testing.T) {
	repo := newMemUserRepo()
	svc := NewUserService(repo)
	user := seedUser(t, repo, "a@x.com")

	got, err := svc.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, user.Email, got.Email)

	require.NoError(t, svc.Delete(context.Background(), user.ID))
	_, err = svc.GetByID(context.Background(), user.ID)
	require.ErrorIs(t, err, errUserNotFound)
	require.ErrorIs(t, svc.Delete(context.Background(), user.ID), errUserNotFound)
}
