package types

import (
	"strings"
	"time"
)

// Role is a coarse-grained authorization level attached to a user.
type Role string

const (
	RoleUser      Role = "user"
	RoleGuide     Role = "guide"
	RoleLeadGuide Role = "lead-guide"
	RoleAdmin     Role = "admin"
)

// Roles lists every valid role.
var Roles = []Role{RoleUser, RoleGuide, RoleLeadGuide, RoleAdmin}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole converts a raw string into a Role.
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	return role, role.Valid()
}

// DefaultPhoto is the avatar assigned to new accounts.
const DefaultPhoto = "default.jpg"

// User represents an account in the system.
// It contains identity, role, credential state and audit metadata.
type User struct {
	// ID is the unique identifier of the user (UUID).
	ID string `json:"id" db:"id"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name"`

	// Email is the user's email address, stored lower-cased.
	// It doubles as the login key.
	Email string `json:"email" db:"email"`

	// Photo is the file name of the user's avatar.
	Photo string `json:"photo" db:"photo"`

	// Role indicates the user's authorization level.
	Role Role `json:"role" db:"role"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// PasswordChangedAt is the time of the last password change.
	// Nil until the password is changed for the first time.
	PasswordChangedAt *time.Time `json:"-" db:"password_changed_at"`

	// ResetTokenHash is the SHA-256 hex digest of the outstanding reset token.
	ResetTokenHash *string `json:"-" db:"reset_token_hash"`

	// ResetTokenExpiresAt is the expiry of the outstanding reset token.
	ResetTokenExpiresAt *time.Time `json:"-" db:"reset_token_expires_at"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ChangedPasswordAfter reports whether the password was changed after a token
// issued at issuedAt.
func (u User) ChangedPasswordAfter(issuedAt time.Time) bool {
	if u.PasswordChangedAt == nil {
		return false
	}
	return issuedAt.Before(*u.PasswordChangedAt)
}
