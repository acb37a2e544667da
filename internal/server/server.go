package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/natours/apiserver/config"
	"github.com/natours/apiserver/internal/auth"
	"github.com/natours/apiserver/internal/db"
	"github.com/natours/apiserver/internal/handlers"
	"github.com/natours/apiserver/internal/mail"
	"github.com/natours/apiserver/internal/mq"
	"github.com/natours/apiserver/internal/services"
	"github.com/natours/apiserver/internal/storage"
	"github.com/natours/apiserver/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	limitermw "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// Server wraps the HTTP server, router and the connections it owns.
type Server struct {
	httpServer *http.Server
	db         *sql.DB
	queue      *mq.MQ
	storage    *storage.Storage
	log        logrus.FieldLogger
}

// routeHandlers are the handlers mounted under /api/v1.
type routeHandlers struct {
	authn   *handlers.Authenticator
	users   *handlers.UserHandler
	tours   *handlers.TourHandler
	reviews *handlers.ReviewHandler
}

// New connects to the database and the optional queue and object storage,
// then wires repositories, services and handlers.
func New(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dbConn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	srv := &Server{db: dbConn, log: log}

	if cfg.Mail.Backend == "queue" {
		srv.queue, err = mq.Open(ctx, cfg.MQ)
		if err != nil {
			srv.closeResources()
			return nil, err
		}
	}
	// A nil *mq.MQ must not reach the sender as a non-nil interface.
	var publisher mail.Publisher
	if srv.queue != nil {
		publisher = srv.queue
	}
	mailer, err := mail.NewSender(cfg.Mail, publisher)
	if err != nil {
		srv.closeResources()
		return nil, err
	}

	var images services.ImageStore
	objectStorage, err := storage.Open(ctx, cfg.Storage)
	switch {
	case errors.Is(err, storage.ErrDisabled):
		log.Info("object storage disabled, cover uploads are off")
	case err != nil:
		srv.closeResources()
		return nil, err
	default:
		srv.storage = objectStorage
		images = objectStorage
	}

	userRepo := store.NewUserRepository(dbConn)
	tourRepo := store.NewTourRepository(dbConn)
	reviewRepo := store.NewReviewRepository(dbConn)

	authService := services.NewAuthService(
		userRepo,
		auth.NewPasswordHasher(cfg.Auth.BcryptCost),
		auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, nil),
		auth.NewResetTokens(cfg.Auth.ResetTokenTTL, nil),
		mailer,
		nil,
		log.WithField("component", "auth"),
	)
	userService := services.NewUserService(userRepo)
	tourService := services.NewTourService(tourRepo, images, log.WithField("component", "tours"))
	reviewService := services.NewReviewService(reviewRepo, tourRepo)

	cookies := handlers.CookieOptions{TTL: cfg.Auth.CookieTTL, Secure: cfg.Auth.SecureCookies}
	router := newRouter(cfg, routeHandlers{
		authn:   handlers.NewAuthenticator(authService, log),
		users:   handlers.NewUserHandler(authService, userService, cookies, cfg.BaseURL, log),
		tours:   handlers.NewTourHandler(tourService, log),
		reviews: handlers.NewReviewHandler(reviewService, log),
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	srv.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return srv, nil
}

func newRouter(cfg config.Config, h routeHandlers) *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	// The rate limiter keys on RemoteAddr, which RealIP rewrites from
	// client-supplied headers.
	if cfg.TrustProxy {
		router.Use(middleware.RealIP)
	}
	router.Use(
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Use(securityHeaders(cfg.Env == config.EnvProduction)...)
	router.NotFound(handlers.NotFound)

	router.Get("/healthz", handlers.Healthz)
	router.Route("/api", func(r chi.Router) {
		if cfg.RateLimit.Limit > 0 {
			r.Use(rateLimiter(cfg.RateLimit))
		}
		r.Route("/v1", func(r chi.Router) {
			r.Route("/users", func(r chi.Router) {
				handlers.UsersRouter(r, h.users, h.authn)
			})
			r.Route("/tours", func(r chi.Router) {
				handlers.ToursRouter(r, h.tours, h.reviews, h.authn)
			})
		})
	})
	return router
}

func securityHeaders(production bool) []func(http.Handler) http.Handler {
	headers := []func(http.Handler) http.Handler{
		middleware.SetHeader("X-Content-Type-Options", "nosniff"),
		middleware.SetHeader("X-Frame-Options", "DENY"),
		middleware.SetHeader("Referrer-Policy", "no-referrer"),
		middleware.SetHeader("Cross-Origin-Resource-Policy", "same-origin"),
		middleware.SetHeader("Content-Security-Policy", "default-src 'self'"),
	}
	if production {
		headers = append(headers, middleware.SetHeader("Strict-Transport-Security", "max-age=15552000; includeSubDomains"))
	}
	return headers
}

// rateLimiter limits requests per client IP with an in-memory store.
func rateLimiter(cfg config.RateLimitConfig) func(http.Handler) http.Handler {
	rate := limiter.Rate{Period: cfg.Period, Limit: cfg.Limit}
	mw := limitermw.NewMiddleware(
		limiter.New(memory.NewStore(), rate),
		limitermw.WithLimitReachedHandler(handlers.TooManyRequests),
	)
	return mw.Handler
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones until ctx is
// done and then releases the connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.closeResources()
	return err
}

func (s *Server) closeResources() {
	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			s.log.WithError(err).Warn("failed to close object storage")
		}
	}
	if s.queue != nil {
		if err := s.queue.Close(); err != nil {
			s.log.WithError(err).Warn("failed to close message queue")
		}
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}
