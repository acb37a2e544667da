package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

const resetTokenBytes = 32

// ResetToken is a freshly generated password reset token.
// Raw goes to the user and is never stored; Hash is the lookup key.
type ResetToken struct {
	Raw       string
	Hash      string
	ExpiresAt time.Time
}

// ResetTokens generates single-use password reset tokens.
type ResetTokens struct {
	ttl   time.Duration
	clock Clock
}

func NewResetTokens(ttl time.Duration, clock Clock) *ResetTokens {
	if clock == nil {
		clock = SystemClock{}
	}
	return &ResetTokens{ttl: ttl, clock: clock}
}

func (g *ResetTokens) Generate() (ResetToken, error) {
	var buf [resetTokenBytes]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return ResetToken{}, fmt.Errorf("generate reset token: %w", err)
	}
	raw := hex.EncodeToString(buf[:])
	return ResetToken{
		Raw:       raw,
		Hash:      Digest(raw),
		ExpiresAt: g.clock.Now().Add(g.ttl),
	}, nil
}

// Digest returns the hex SHA-256 of a raw reset token.
func Digest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
