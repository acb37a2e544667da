package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/natours/apiserver/internal/mail"
	"github.com/natours/apiserver/internal/storage"
	"github.com/natours/apiserver/internal/store"
	"github.com/natours/apiserver/types"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memUserRepo mirrors the semantics of store.UserRepository in memory.
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]types.User
	// failGet makes every lookup fail with a non-sentinel error.
	failGet error
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: map[string]types.User{}}
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failGet != nil {
		return types.User{}, r.failGet
	}
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failGet != nil {
		return types.User{}, r.failGet
	}
	email = types.NormalizeEmail(email)
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *memUserRepo) List(_ context.Context, offset, limit int) ([]types.User, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]types.User, 0, len(r.users))
	for _, user := range r.users {
		all = append(all, user)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Email < all[j].Email })
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (r *memUserRepo) Create(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user.Email = types.NormalizeEmail(user.Email)
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return types.User{}, store.ErrDuplicate
		}
	}
	user.ID = uuid.NewString()
	if user.Photo == "" {
		user.Photo = types.DefaultPhoto
	}
	r.users[user.ID] = user
	return user, nil
}

func (r *memUserRepo) UpdatePassword(_ context.Context, id, passwordHash string, changedAt time.Time) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.PasswordChangedAt = &changedAt
	r.users[id] = user
	return user, nil
}

func (r *memUserRepo) SetResetToken(_ context.Context, id, tokenHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.ResetTokenHash = &tokenHash
	user.ResetTokenExpiresAt = &expiresAt
	r.users[id] = user
	return nil
}

func (r *memUserRepo) ClearResetToken(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.ResetTokenHash = nil
	user.ResetTokenExpiresAt = nil
	r.users[id] = user
	return nil
}

func (r *memUserRepo) ConsumeResetToken(_ context.Context, tokenHash string, now time.Time, passwordHash string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, user := range r.users {
		if user.ResetTokenHash == nil || *user.ResetTokenHash != tokenHash {
			continue
		}
		if !user.ResetTokenExpiresAt.After(now) {
			return types.User{}, store.ErrNotFound
		}
		user.PasswordHash = passwordHash
		user.PasswordChangedAt = &now
		user.ResetTokenHash = nil
		user.ResetTokenExpiresAt = nil
		r.users[id] = user
		return user, nil
	}
	return types.User{}, store.ErrNotFound
}

func (r *memUserRepo) UpdateRole(_ context.Context, id string, role types.Role) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	user.Role = role
	r.users[id] = user
	return user, nil
}

func (r *memUserRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

// fakeMailer records every message, including the ones it fails to send.
type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.err
}

func (m *fakeMailer) last() mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return mail.Message{}
	}
	return m.sent[len(m.sent)-1]
}

var resetLink = regexp.MustCompile(`/api/v1/users/resetPassword/([0-9a-f]+)`)

// rawTokenFrom extracts the raw reset token from a reset email body.
func rawTokenFrom(msg mail.Message) string {
	match := resetLink.FindStringSubmatch(msg.Body)
	if match == nil {
		return ""
	}
	return match[1]
}

type memTourRepo struct {
	mu     sync.Mutex
	nextID int
	tours  map[int]types.Tour
}

func newMemTourRepo() *memTourRepo {
	return &memTourRepo{nextID: 1, tours: map[int]types.Tour{}}
}

func (r *memTourRepo) List(_ context.Context, q store.TourQuery) ([]types.Tour, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]types.Tour, 0, len(r.tours))
	for _, tour := range r.tours {
		all = append(all, tour)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if q.Limit > 0 && len(all) > q.Limit {
		all = all[:q.Limit]
	}
	return all, len(r.tours), nil
}

func (r *memTourRepo) Get(_ context.Context, id int) (types.Tour, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tour, ok := r.tours[id]
	if !ok {
		return types.Tour{}, store.ErrNotFound
	}
	return tour, nil
}

func (r *memTourRepo) Create(_ context.Context, tour types.Tour) (types.Tour, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.tours {
		if existing.Name == tour.Name {
			return types.Tour{}, store.ErrDuplicate
		}
	}
	tour.ID = r.nextID
	r.nextID++
	r.tours[tour.ID] = tour
	return tour, nil
}

func (r *memTourRepo) Update(_ context.Context, tour types.Tour) (types.Tour, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.tours[tour.ID]
	if !ok {
		return types.Tour{}, store.ErrNotFound
	}
	tour.RatingsAverage = current.RatingsAverage
	tour.RatingsQuantity = current.RatingsQuantity
	r.tours[tour.ID] = tour
	return tour, nil
}

func (r *memTourRepo) SetImageCover(_ context.Context, id int, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tour, ok := r.tours[id]
	if !ok {
		return store.ErrNotFound
	}
	tour.ImageCover = key
	r.tours[id] = tour
	return nil
}

func (r *memTourRepo) Delete(_ context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tours[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.tours, id)
	return nil
}

type memImages struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemImages() *memImages {
	return &memImages{objects: map[string][]byte{}}
}

func (m *memImages) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memImages) Get(_ context.Context, key string) (storage.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return storage.Object{}, storage.ErrObjectNotFound
	}
	return storage.Object{
		Body:        io.NopCloser(bytes.NewReader(data)),
		ContentType: "image/jpeg",
		Size:        int64(len(data)),
	}, nil
}

func (m *memImages) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

type memReviewRepo struct {
	mu      sync.Mutex
	tours   *memTourRepo
	reviews []types.Review
}

func (r *memReviewRepo) ListByTour(_ context.Context, tourID int) ([]types.Review, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []types.Review{}
	for _, review := range r.reviews {
		if review.TourID == tourID {
			out = append(out, review)
		}
	}
	return out, nil
}

func (r *memReviewRepo) Create(ctx context.Context, review types.Review) (types.Review, error) {
	if _, err := r.tours.Get(ctx, review.TourID); err != nil {
		return types.Review{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.reviews {
		if existing.TourID == review.TourID && existing.UserID == review.UserID {
			return types.Review{}, store.ErrDuplicate
		}
	}
	review.ID = int64(len(r.reviews) + 1)
	r.reviews = append(r.reviews, review)
	return review, nil
}

var errBoom = errors.New("boom")
