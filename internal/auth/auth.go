// Package auth verifies bearer tokens and resolves them to an Identity.
package auth

import (
	"context"
	"errors"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated caller.
type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// DisplayNameUpdater is implemented by identity providers that keep their own
// copy of the user's display name.
type DisplayNameUpdater interface {
	UpdateDisplayName(ctx context.Context, uid, displayName string) error
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored by the auth middleware, or nil.
func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
