package types

import "time"

// User represents an account in the system.
// It contains identity, role, account state and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID string `json:"id" db:"id"`

	// UserID is the short public identifier shown to other users.
	UserID string `json:"userId" db:"user_id"`

	// FirstName is the user's given name.
	FirstName string `json:"firstName" db:"first_name"`

	// LastName is the user's family name.
	LastName string `json:"lastName" db:"last_name"`

	// Email is the user's email address. It is optional but unique
	// (case-insensitive) when present.
	Email string `json:"email,omitempty" db:"email"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// Role indicates the user's access tier.
	Role Role `json:"role" db:"role"`

	// IsApproved is set once a root or admin user approves the account.
	IsApproved bool `json:"isApproved" db:"is_approved"`

	// IsSuspended blocks logins while set.
	IsSuspended bool `json:"isSuspended" db:"is_suspended"`

	// ResetTokenHash is the SHA-256 of the outstanding password reset token.
	// This field is never exposed in API responses.
	ResetTokenHash string `json:"-" db:"reset_token_hash"`

	// ResetTokenExpiresAt is the expiry of the outstanding reset token.
	// This field is never exposed in API responses.
	ResetTokenExpiresAt *time.Time `json:"-" db:"reset_token_expires_at"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// FullName returns "first last" with surrounding spaces removed.
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

// UserRef is the redacted form of a user embedded in joined read models.
// Password and reset-token fields are never part of it and the role is
// rendered as its display label.
type UserRef struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
}

// UserFilter narrows user listings.
type UserFilter struct {
	PageQuery

	// Role restricts results to a single role when valid.
	Role Role

	// IsApproved and IsSuspended filter on account state when non-nil.
	IsApproved  *bool
	IsSuspended *bool
}
