package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned for any token that fails verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned, wrapped in ErrInvalidToken, for expired tokens.
	ErrTokenExpired = errors.New("token expired")
)

// TokenPrecision is the resolution of token issue times. Password changes
// are stamped at the same resolution so a session issued together with a
// change stays valid.
const TokenPrecision = time.Millisecond

func init() {
	// NumericDate travels as a float; the extra digits let Verify round back
	// to TokenPrecision exactly.
	jwt.TimePrecision = time.Microsecond
}

// Claims are the verified facts carried by a session token.
type Claims struct {
	Subject  string
	IssuedAt time.Time
}

// TokenIssuer issues and verifies HS256 session tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	clock  Clock
}

func NewTokenIssuer(secret string, ttl time.Duration, clock Clock) *TokenIssuer {
	if clock == nil {
		clock = SystemClock{}
	}
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		clock:  clock,
	}
}

// TTL returns the configured token lifetime.
func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a token for subject valid from now for the configured lifetime.
func (i *TokenIssuer) Issue(subject string) (string, error) {
	return i.IssueAt(subject, i.clock.Now())
}

// IssueAt signs a token for subject issued at now, truncated to
// TokenPrecision.
func (i *TokenIssuer) IssueAt(subject string, now time.Time) (string, error) {
	now = now.Truncate(TokenPrecision)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, algorithm, expiry and required claims.
// Every failure wraps ErrInvalidToken.
func (i *TokenIssuer) Verify(tokenString string) (Claims, error) {
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, ErrTokenExpired)
		}
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if claims.IssuedAt == nil {
		return Claims{}, fmt.Errorf("%w: missing issued at", ErrInvalidToken)
	}
	return Claims{
		Subject:  claims.Subject,
		IssuedAt: claims.IssuedAt.Time.Round(TokenPrecision),
	}, nil
}
