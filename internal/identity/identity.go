// Package identity resolves bearer tokens to the identity of a learner.
// Verification is delegated to an external provider; nothing here
// falls back to a default identity.
package identity

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token has expired")
)

// Identity is what the provider vouches for
type Identity struct {
	Subject     string
	Email       string
	DisplayName string
}

// Verifier checks a bearer token
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// DisplayNameFromEmail returns the part before '@'
func DisplayNameFromEmail(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}
