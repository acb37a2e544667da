package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/natours/apiserver/internal/access"
	"github.com/natours/apiserver/internal/apperr"
	"github.com/natours/apiserver/internal/auth"
	"github.com/natours/apiserver/internal/mail"
	"github.com/natours/apiserver/internal/store"
	"github.com/natours/apiserver/types"
	"github.com/sirupsen/logrus"
)

const resetPasswordPath = "/api/v1/users/resetPassword/"

var (
	ErrMissingCredentials   = apperr.BadRequest("Please provide email and password!")
	ErrIncorrectCredentials = apperr.Unauthenticated("Incorrect email or password")
	ErrWrongCurrentPassword = apperr.Unauthenticated("Your current password is wrong.")
	ErrResetTokenInvalid    = apperr.BadRequest("Token is invalid or has expired")
	ErrMissingEmail         = apperr.BadRequest("Please provide your email address")
)

// ErrEmailDelivery is returned when the reset mail could not be handed off.
// The outstanding reset token has been cleared by then.
var ErrEmailDelivery = apperr.Internal("There was an error sending the email. Try again later!", nil)

// SignupInput is the self-registration payload. Any role sent by the client
// is ignored.
type SignupInput struct {
	Name            string `json:"name" validate:"required,max=100"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8,max=72"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
}

// NewPasswordInput carries a new password and its confirmation.
type NewPasswordInput struct {
	Password        string `json:"password" validate:"required,min=8,max=72"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
}

// Session is a freshly issued session token for a user.
type Session struct {
	Token     string
	User      types.User
	ExpiresAt time.Time
}

// AuthService implements signup, login, request authentication and the
// password lifecycle.
type AuthService struct {
	users   UserRepository
	hasher  *auth.PasswordHasher
	tokens  *auth.TokenIssuer
	resets  *auth.ResetTokens
	mailer  mail.Sender
	clock   auth.Clock
	log     logrus.FieldLogger
	protect access.Pipeline

	// dummyHash is compared against when a login email is unknown so both
	// failure paths cost one bcrypt comparison.
	dummyHash string
}

func NewAuthService(
	users UserRepository,
	hasher *auth.PasswordHasher,
	tokens *auth.TokenIssuer,
	resets *auth.ResetTokens,
	mailer mail.Sender,
	clock auth.Clock,
	log logrus.FieldLogger,
) *AuthService {
	if clock == nil {
		clock = auth.SystemClock{}
	}
	dummyHash, err := hasher.Hash("natours-login-timing-equalizer")
	if err != nil {
		log.WithError(err).Warn("failed to prepare dummy password hash")
	}
	return &AuthService{
		users:     users,
		hasher:    hasher,
		tokens:    tokens,
		resets:    resets,
		mailer:    mailer,
		clock:     clock,
		log:       log,
		protect:   access.Protect(tokens, users),
		dummyHash: dummyHash,
	}
}

// TokenTTL is the lifetime of issued session tokens.
func (s *AuthService) TokenTTL() time.Duration {
	return s.tokens.TTL()
}

// Signup registers a new account with role user and starts a session.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (Session, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = types.NormalizeEmail(in.Email)
	if err := validateInput(in); err != nil {
		return Session{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Session{}, apperr.Internal("failed to create user", err)
	}

	user, err := s.users.Create(ctx, types.User{
		Name:         in.Name,
		Email:        in.Email,
		Role:         types.RoleUser,
		PasswordHash: hash,
		CreatedAt:    s.clock.Now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Session{}, apperr.BadRequest(fmt.Sprintf("Duplicate value '%s' for field 'email'. Please use another value!", in.Email))
		}
		return Session{}, apperr.Internal("failed to create user", err)
	}

	s.log.WithField("user_id", user.ID).Info("user signed up")
	return s.issueSession(user)
}

// Login verifies credentials. Unknown email and wrong password fail
// identically.
func (s *AuthService) Login(ctx context.Context, email, password string) (Session, error) {
	email = types.NormalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, ErrMissingCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.hasher.Verify(password, s.dummyHash)
			return Session{}, ErrIncorrectCredentials
		}
		return Session{}, apperr.Internal("failed to authenticate", err)
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return Session{}, ErrIncorrectCredentials
	}
	return s.issueSession(user)
}

// Authenticate resolves the user behind a bearer header or session cookie.
func (s *AuthService) Authenticate(ctx context.Context, authorizationHeader, cookie string) (types.User, error) {
	req := &access.Request{
		AuthorizationHeader: authorizationHeader,
		Cookie:              cookie,
	}
	if err := s.protect.Run(ctx, req); err != nil {
		return types.User{}, err
	}
	return req.User, nil
}

// ForgotPassword mails a single-use reset link to the account owner. An
// unknown email succeeds silently so the response does not reveal whether
// the account exists.
func (s *AuthService) ForgotPassword(ctx context.Context, email, baseURL string) error {
	email = types.NormalizeEmail(email)
	if email == "" {
		return ErrMissingEmail
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.log.Debug("password reset requested for unknown email")
			return nil
		}
		return apperr.Internal("failed to request password reset", err)
	}

	token, err := s.resets.Generate()
	if err != nil {
		return apperr.Internal("failed to request password reset", err)
	}
	if err := s.users.SetResetToken(ctx, user.ID, token.Hash, token.ExpiresAt); err != nil {
		return apperr.Internal("failed to request password reset", err)
	}

	log := s.log.WithField("user_id", user.ID)
	resetURL := strings.TrimRight(baseURL, "/") + resetPasswordPath + token.Raw
	msg := mail.Message{
		To:      user.Email,
		Subject: "Your password reset token (valid for 10 min)",
		Body: "Forgot your password? Submit a PATCH request with your new password and passwordConfirm to: " +
			resetURL + ".\nIf you didn't forget your password, please ignore this email!",
		ResetUserID: user.ID,
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		log.WithError(err).Error("failed to send password reset email")
		if clearErr := s.users.ClearResetToken(context.WithoutCancel(ctx), user.ID); clearErr != nil {
			log.WithError(clearErr).Error("failed to clear reset token after delivery failure")
		}
		return ErrEmailDelivery
	}

	log.Info("password reset email sent")
	return nil
}

// ResetPassword consumes a reset token, sets the new password and starts a
// fresh session. A token works at most once and only before it expires.
func (s *AuthService) ResetPassword(ctx context.Context, rawToken string, in NewPasswordInput) (Session, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return Session{}, ErrResetTokenInvalid
	}
	if err := validateInput(in); err != nil {
		return Session{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Session{}, apperr.Internal("failed to reset password", err)
	}

	now := s.changeTime()
	user, err := s.users.ConsumeResetToken(ctx, auth.Digest(rawToken), now, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, ErrResetTokenInvalid
		}
		return Session{}, apperr.Internal("failed to reset password", err)
	}

	s.log.WithField("user_id", user.ID).Info("password reset completed")
	return s.issueSessionAt(user, now)
}

// UpdatePassword changes the password of an authenticated user after
// re-checking the current one. Tokens issued before the change stop working.
func (s *AuthService) UpdatePassword(ctx context.Context, userID, currentPassword string, in NewPasswordInput) (Session, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, access.ErrSubjectGone
		}
		return Session{}, apperr.Internal("failed to update password", err)
	}
	if !s.hasher.Verify(currentPassword, user.PasswordHash) {
		return Session{}, ErrWrongCurrentPassword
	}
	if err := validateInput(in); err != nil {
		return Session{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Session{}, apperr.Internal("failed to update password", err)
	}
	now := s.changeTime()
	user, err = s.users.UpdatePassword(ctx, user.ID, hash, now)
	if err != nil {
		return Session{}, apperr.Internal("failed to update password", err)
	}

	s.log.WithField("user_id", user.ID).Info("password changed")
	return s.issueSessionAt(user, now)
}

// changeTime is the password change stamp. The session issued with the
// change carries the same instant so it is not stale.
func (s *AuthService) changeTime() time.Time {
	return s.clock.Now().Truncate(auth.TokenPrecision)
}

func (s *AuthService) issueSession(user types.User) (Session, error) {
	return s.issueSessionAt(user, s.clock.Now())
}

func (s *AuthService) issueSessionAt(user types.User, now time.Time) (Session, error) {
	token, err := s.tokens.IssueAt(user.ID, now)
	if err != nil {
		return Session{}, apperr.Internal("failed to create token", err)
	}
	return Session{
		Token:     token,
		User:      user,
		ExpiresAt: now.Add(s.tokens.TTL()),
	}, nil
}
