package services

import (
	"context"
	"testing"

	"github.com/natours/apiserver/internal/apperr"
	"github.com/natours/apiserver/types"
	"github.com/stretchr/testify/require"
)

func TestReviewServiceCreate(t *testing.T) {
	tours := newMemTourRepo()
	tour, err := tours.Create(context.Background(), types.Tour{Name: "The Sea Explorer"})
	require.NoError(t, err)
	svc := NewReviewService(&memReviewRepo{tours: tours}, tours)
	author := types.User{ID: "u-1", Name: "Alice", Role: types.RoleUser}

	review, err := svc.Create(context.Background(), author, tour.ID, ReviewInput{Review: "  Loved it ", Rating: 5})
	require.NoError(t, err)
	require.Equal(t, "Loved it", review.Review)
	require.Equal(t, "Alice", review.UserName)

	_, err = svc.Create(context.Background(), author, tour.ID, ReviewInput{Review: "Again", Rating: 4})
	require.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	_, err = svc.Create(context.Background(), author, 404, ReviewInput{Review: "Where?", Rating: 3})
	require.ErrorIs(t, err, errTourNotFound)

	reviews, err := svc.ListByTour(context.Background(), tour.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 1)

	_, err = svc.ListByTour(context.Background(), 404)
	require.ErrorIs(t, err, errTourNotFound)
}

func TestReviewServiceValidatesRating(t *testing.T) {
	tours := newMemTourRepo()
	svc := NewReviewService(&memReviewRepo{tours: tours}, tours)

	for _, rating := range []int{0, 6} {
		_, err := svc.Create(context.Background(), types.User{ID: "u-1"}, 1, ReviewInput{Review: "ok", Rating: rating})
		require.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
	}
	_, err := svc.Create(context.Background(), types.User{ID: "u-1"}, 1, ReviewInput{Rating: 3})
	require.Contains(t, err.Error(), "Please provide review")
}
