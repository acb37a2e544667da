// Package access runs request authentication as an ordered pipeline of
// stages and makes role-based authorization decisions.
package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/natours/apiserver/internal/apperr"
	"github.com/natours/apiserver/internal/auth"
	"github.com/natours/apiserver/internal/store"
	"github.com/natours/apiserver/types"
)

var (
	ErrMissingCredential = apperr.Unauthenticated("You are not logged in! Please log in to get access.")
	ErrInvalidToken      = apperr.Unauthenticated("Invalid token. Please log in again!")
	ErrExpiredToken      = apperr.Unauthenticated("Your token has expired! Please log in again.")
	ErrSubjectGone       = apperr.Unauthenticated("The user belonging to this token no longer exists.")
	ErrStaleCredential   = apperr.Unauthenticated("User recently changed password! Please log in again.")
	ErrRoleNotPermitted  = apperr.Forbidden("You do not have permission to perform this action")
)

// Request is the value threaded through the authentication stages.
// Each stage reads what earlier stages filled in and adds its own result.
type Request struct {
	// Raw credentials as presented by the transport.
	AuthorizationHeader string
	Cookie              string

	Token  string
	Claims auth.Claims
	User   types.User
}

// Stage either returns nil to continue or a terminal error.
type Stage func(ctx context.Context, req *Request) error

// Pipeline runs stages in order and stops at the first error.
type Pipeline []Stage

func (p Pipeline) Run(ctx context.Context, req *Request) error {
	for _, stage := range p {
		if err := stage(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// TokenVerifier is satisfied by *auth.TokenIssuer.
type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

// UserFinder resolves the token subject to a user.
type UserFinder interface {
	GetByID(ctx context.Context, id string) (types.User, error)
}

// Protect builds the authentication pipeline:
// extract token, verify it, resolve the subject, reject stale credentials.
func Protect(verifier TokenVerifier, users UserFinder) Pipeline {
	return Pipeline{
		ExtractToken,
		VerifyToken(verifier),
		ResolveUser(users),
		RejectStale,
	}
}

// ExtractToken takes the bearer token from the Authorization header,
// falling back to the cookie.
func ExtractToken(_ context.Context, req *Request) error {
	if token, ok := bearerToken(req.AuthorizationHeader); ok {
		req.Token = token
		return nil
	}
	if cookie := strings.TrimSpace(req.Cookie); cookie != "" {
		req.Token = cookie
		return nil
	}
	return ErrMissingCredential
}

func VerifyToken(verifier TokenVerifier) Stage {
	return func(_ context.Context, req *Request) error {
		claims, err := verifier.Verify(req.Token)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				return ErrExpiredToken
			}
			return ErrInvalidToken
		}
		req.Claims = claims
		return nil
	}
}

func ResolveUser(users UserFinder) Stage {
	return func(ctx context.Context, req *Request) error {
		user, err := users.GetByID(ctx, req.Claims.Subject)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrSubjectGone
			}
			return apperr.Internal("failed to load user", fmt.Errorf("resolve token subject: %w", err))
		}
		req.User = user
		return nil
	}
}

func RejectStale(_ context.Context, req *Request) error {
	if req.User.ChangedPasswordAfter(req.Claims.IssuedAt) {
		return ErrStaleCredential
	}
	return nil
}

// Check allows the request only if user's role is one of allowed.
func Check(user types.User, allowed []types.Role) error {
	for _, role := range allowed {
		if user.Role == role {
			return nil
		}
	}
	return ErrRoleNotPermitted
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
