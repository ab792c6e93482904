package identityflow

import (
	"context"
	"strings"
	"time"

	"github.com/MrEthical07/identityflow/internal"
)

// Purpose names the transition a token authorizes. Tokens never validate
// across purposes.
type Purpose string

const (
	// PurposeConfirmation gates identity (email) confirmation.
	PurposeConfirmation Purpose = "confirmation"
	// PurposePasswordReset gates password recovery.
	PurposePasswordReset Purpose = "password_reset"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeConfirmation, PurposePasswordReset:
		return true
	default:
		return false
	}
}

func (p Purpose) String() string {
	return string(p)
}

// ParsePurpose maps a purpose name to its Purpose. Matching is
// case-insensitive; unknown names return [ErrUnknownPurpose].
func ParsePurpose(s string) (Purpose, error) {
	p := Purpose(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", ErrUnknownPurpose
	}
	return p, nil
}

// Template keys handed to [NotificationSender.Send].
const (
	TemplateIdentityConfirmation = "identity_confirmation"
	TemplateRecoverPassword      = "recover_password"
)

// User is an account as seen by the workflows. CredentialHash is always the
// output of a [CredentialHasher]; plaintext credentials never reach a User.
type User struct {
	ID                string
	Identity          string
	CredentialHash    string
	IdentityConfirmed bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// UserInput carries the fields required to construct a [User].
type UserInput struct {
	ID                string
	Identity          string
	CredentialHash    string
	IdentityConfirmed bool
	CreatedAt         time.Time
}

// NewUser builds a User from in, validating required fields. A ULID is
// assigned when in.ID is empty.
func NewUser(in UserInput) (User, error) {
	now := in.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	u := User{
		ID:                in.ID,
		Identity:          in.Identity,
		CredentialHash:    in.CredentialHash,
		IdentityConfirmed: in.IdentityConfirmed,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if u.ID == "" {
		u.ID = internal.NewUserID(now)
	}

	if err := u.Validate(); err != nil {
		return User{}, err
	}
	return u, nil
}

// Validate checks the invariants every persisted User must hold.
func (u User) Validate() error {
	if u.ID == "" || u.Identity == "" || u.CredentialHash == "" {
		return ErrInvalidUser
	}
	if strings.TrimSpace(u.Identity) != u.Identity {
		return ErrInvalidUser
	}
	return nil
}

// Token is a single-use authorization for one purpose-bound transition.
//
// Value is populated only on the Token returned by [TokenService.Generate] and
// by lookups that were given the value; stores persist a fingerprint instead.
type Token struct {
	ID        string
	Value     string
	Purpose   Purpose
	OwnerID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Used      bool
	Revoked   bool
}

// Active reports whether t is neither used, revoked nor expired at now.
func (t Token) Active(now time.Time) bool {
	return !t.Used && !t.Revoked && now.Before(t.ExpiresAt)
}

// Valid reports whether t is active at now and authorizes purpose for ownerID.
func (t Token) Valid(now time.Time, ownerID string, purpose Purpose) bool {
	return t.Purpose == purpose && t.OwnerID == ownerID && t.Active(now)
}

// UserDirectory resolves and mutates users. Case-sensitivity of identities
// is owned by the implementation.
type UserDirectory interface {
	// FindByIdentity returns ErrUserNotFound when no user matches.
	FindByIdentity(ctx context.Context, identity string) (User, error)
	// Insert returns ErrIdentityExists when the identity is taken.
	Insert(ctx context.Context, user User) (User, error)
	Update(ctx context.Context, user User) error
}

// TokenStore persists tokens. Implementations must make CompareAndMarkUsed a
// single atomic conditional update.
type TokenStore interface {
	Insert(ctx context.Context, token Token) error
	// FindActive returns tokens for (ownerID, purpose) that are not used,
	// not revoked and not expired at now.
	FindActive(ctx context.Context, ownerID string, purpose Purpose, now time.Time) ([]Token, error)
	// FindByValueAndPurpose returns ErrTokenNotFound when no token matches.
	FindByValueAndPurpose(ctx context.Context, value string, purpose Purpose) (Token, error)
	// CompareAndMarkUsed flips used from false to true iff the token is
	// still unused, unrevoked and unexpired at now. It reports whether this
	// call performed the flip.
	CompareAndMarkUsed(ctx context.Context, tokenID string, now time.Time) (bool, error)
	MarkRevoked(ctx context.Context, tokenID string) error
}

// TokenRotator is implemented by stores that can revoke every active token of
// (token.OwnerID, token.Purpose) and insert token as one atomic unit.
type TokenRotator interface {
	RevokeActiveAndInsert(ctx context.Context, token Token, now time.Time) (revoked int, err error)
}

// CredentialHasher hashes and verifies credentials. Verify must be constant
// time with respect to secret content.
type CredentialHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, encoded string) (bool, error)
}

// NotificationSender delivers a purpose-tagged payload to a user. Template
// lookup, rendering and transport are owned by the implementation.
type NotificationSender interface {
	Send(ctx context.Context, user User, templateKey string, payload map[string]string) error
}

// NotificationSenderFunc adapts a function to [NotificationSender].
type NotificationSenderFunc func(ctx context.Context, user User, templateKey string, payload map[string]string) error

// Send calls f.
func (f NotificationSenderFunc) Send(ctx context.Context, user User, templateKey string, payload map[string]string) error {
	return f(ctx, user, templateKey, payload)
}

// RegistrationInput is the caller-supplied data for [Engine.Register].
type RegistrationInput struct {
	Identity   string
	Credential string
}
