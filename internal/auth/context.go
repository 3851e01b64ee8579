// ABOUTME: Identity context for tracking the caller through request handlers
// ABOUTME: Provides WithIdentity/FromContext for propagating identity via context

package auth

import (
	"context"
)

// Source records how an identity was established.
type Source string

const (
	SourceToken  Source = "token"
	SourceHeader Source = "header"
)

// Identity is the resolved caller of a request.
type Identity struct {
	ID     string // ledger key, e.g. a wallet address
	Source Source
}

// identityContextKey is the key type for storing Identity in context.Context.
type identityContextKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey{}).(*Identity)
	return id
}
