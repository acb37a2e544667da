package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/natours/apiserver/internal/auth"
	"github.com/natours/apiserver/internal/mail"
	"github.com/natours/apiserver/internal/services"
	"github.com/natours/apiserver/internal/storage"
	"github.com/natours/apiserver/internal/store"
	"github.com/natours/apiserver/types"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "pass1234"

type memUsers struct {
	mu    sync.Mutex
	users map[string]types.User
}

func (r *memUsers) GetByID(_ context.Context, id string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *memUsers) GetByEmail(_ context.Context, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == types.NormalizeEmail(email) {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *memUsers) List(_ context.Context, offset, limit int) ([]types.User, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]types.User, 0, len(r.users))
	for _, user := range r.users {
		all = append(all, user)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Email < all[j].Email })
	total := len(all)
	if offset > total {
		offset = total
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (r *memUsers) Create(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return types.User{}, store.ErrDuplicate
		}
	}
	user.ID = uuid.NewString()
	r.users[user.ID] = user
	return user, nil
}

func (r *memUsers) update(id string, fn func(*types.User)) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	fn(&user)
	r.users[id] = user
	return user, nil
}

func (r *memUsers) UpdatePassword(_ context.Context, id, passwordHash string, changedAt time.Time) (types.User, error) {
	return r.update(id, func(u *types.User) {
		u.PasswordHash = passwordHash
		u.PasswordChangedAt = &changedAt
	})
}

func (r *memUsers) SetResetToken(_ context.Context, id, tokenHash string, expiresAt time.Time) error {
	_, err := r.update(id, func(u *types.User) {
		u.ResetTokenHash = &tokenHash
		u.ResetTokenExpiresAt = &expiresAt
	})
	return err
}

func (r *memUsers) ClearResetToken(_ context.Context, id string) error {
	_, err := r.update(id, func(u *types.User) {
		u.ResetTokenHash = nil
		u.ResetTokenExpiresAt = nil
	})
	return err
}

func (r *memUsers) ConsumeResetToken(_ context.Context, tokenHash string, now time.Time, passwordHash string) (types.User, error) {
	r.mu.Lock()
	var id string
	for _, user := range r.users {
		if user.ResetTokenHash != nil && *user.ResetTokenHash == tokenHash && user.ResetTokenExpiresAt.After(now) {
			id = user.ID
		}
	}
	r.mu.Unlock()
	if id == "" {
		return types.User{}, store.ErrNotFound
	}
	return r.update(id, func(u *types.User) {
		u.PasswordHash = passwordHash
		u.PasswordChangedAt = &now
		u.ResetTokenHash = nil
		u.ResetTokenExpiresAt = nil
	})
}

func (r *memUsers) UpdateRole(_ context.Context, id string, role types.Role) (types.User, error) {
	return r.update(id, func(u *types.User) { u.Role = role })
}

func (r *memUsers) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

type memTours struct {
	mu    sync.Mutex
	tours map[int]types.Tour
	// lastQuery is the most recent query passed to List.
	lastQuery store.TourQuery
}

func (r *memTours) List(_ context.Context, q store.TourQuery) ([]types.Tour, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastQuery = q
	all := make([]types.Tour, 0, len(r.tours))
	for _, tour := range r.tours {
		all = append(all, tour)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if len(all) > q.Limit {
		all = all[:q.Limit]
	}
	return all, len(r.tours), nil
}

func (r *memTours) Get(_ context.Context, id int) (types.Tour, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tour, ok := r.tours[id]
	if !ok {
		return types.Tour{}, store.ErrNotFound
	}
	return tour, nil
}

func (r *memTours) Create(_ context.Context, tour types.Tour) (types.Tour, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.tours {
		if existing.Name == tour.Name {
			return types.Tour{}, store.ErrDuplicate
		}
	}
	tour.ID = len(r.tours) + 1
	r.tours[tour.ID] = tour
	return tour, nil
}

func (r *memTours) Update(_ context.Context, tour types.Tour) (types.Tour, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tours[tour.ID]; !ok {
		return types.Tour{}, store.ErrNotFound
	}
	r.tours[tour.ID] = tour
	return tour, nil
}

func (r *memTours) SetImageCover(_ context.Context, id int, key string) error {
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

func (r *memTours) Delete(_ context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tours[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.tours, id)
	return nil
}

type memReviews struct {
	mu      sync.Mutex
	tours   *memTours
	reviews []types.Review
}

func (r *memReviews) ListByTour(_ context.Context, tourID int) ([]types.Review, error) {
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

func (r *memReviews) Create(ctx context.Context, review types.Review) (types.Review, error) {
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

type memImages struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (m *memImages) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
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
		ContentType: m.types[key],
		Size:        int64(len(data)),
	}, nil
}

func (m *memImages) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

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

const testBaseURL = "https://natours.example"

var resetLink = regexp.MustCompile(`(https?://[^/\s]+)/api/v1/users/resetPassword/([0-9a-f]+)`)

// testAPI is the API mounted the way the server mounts it, over in-memory
// repositories.
type testAPI struct {
	router  http.Handler
	users   *memUsers
	tours   *memTours
	images  *memImages
	mailer  *fakeMailer
	hasher  *auth.PasswordHasher
	tokens  *auth.TokenIssuer
	logHook *test.Hook
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger, hook := test.NewNullLogger()

	api := &testAPI{
		users:   &memUsers{users: map[string]types.User{}},
		tours:   &memTours{tours: map[int]types.Tour{}},
		images:  &memImages{objects: map[string][]byte{}, types: map[string]string{}},
		mailer:  &fakeMailer{},
		hasher:  auth.NewPasswordHasher(bcrypt.MinCost),
		tokens:  auth.NewTokenIssuer("handler-secret", time.Hour, nil),
		logHook: hook,
	}

	authService := services.NewAuthService(
		api.users,
		api.hasher,
		api.tokens,
		auth.NewResetTokens(10*time.Minute, nil),
		api.mailer,
		nil,
		logger,
	)
	userService := services.NewUserService(api.users)
	tourService := services.NewTourService(api.tours, api.images, logger)
	reviewService := services.NewReviewService(&memReviews{tours: api.tours}, api.tours)

	authn := NewAuthenticator(authService, logger)
	userHandler := NewUserHandler(authService, userService, CookieOptions{TTL: time.Hour}, testBaseURL, logger)
	tourHandler := NewTourHandler(tourService, logger)
	reviewHandler := NewReviewHandler(reviewService, logger)

	router := chi.NewRouter()
	router.NotFound(NotFound)
	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			UsersRouter(r, userHandler, authn)
		})
		r.Route("/tours", func(r chi.Router) {
			ToursRouter(r, tourHandler, reviewHandler, authn)
		})
	})
	api.router = router
	return api
}

// createUser stores a user with the given role and returns a bearer token
// for them.
func (a *testAPI) createUser(t *testing.T, email string, role types.Role) (types.User, string) {
	t.Helper()
	hash, err := a.hasher.Hash(testPassword)
	require.NoError(t, err)
	user, err := a.users.Create(context.Background(), types.User{
		Name:         "Test " + string(role),
		Email:        email,
		Role:         role,
		PasswordHash: hash,
	})
	require.NoError(t, err)
	token, err := a.tokens.Issue(user.ID)
	require.NoError(t, err)
	return user, token
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Token   string          `json:"token"`
	Results int             `json:"results"`
	Total   int             `json:"total"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func requireFail(t *testing.T, rec *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	env := decodeEnvelope(t, rec)
	if status >= http.StatusInternalServerError {
		require.Equal(t, "error", env.Status)
	} else {
		require.Equal(t, "fail", env.Status)
	}
	require.Equal(t, message, env.Message)
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == jwtCookie {
			return c
		}
	}
	return nil
}
