package interceptors

import (
	"context"

	"github.com/klawrawkz/csla/internal/identity"
)

type contextKey struct{ name string }

var identityKey = contextKey{"identity"}

// WithIdentity returns a context carrying the identity resolved for the current call.
// Handlers read it back with GetIdentity.
func WithIdentity(ctx context.Context, id *identity.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the identity resolved for the current call and true if one is set.
func GetIdentity(ctx context.Context) (*identity.Identity, bool) {
	id, ok := ctx.Value(identityKey).(*identity.Identity)
	return id, ok && id != nil
}

// usernameOf returns the authenticated name in ctx, or "".
func usernameOf(ctx context.Context) string {
	if id, ok := GetIdentity(ctx); ok {
		return id.Name()
	}
	return ""
}
