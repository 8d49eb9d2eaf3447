// Package rbac guards handlers on the identity the auth interceptor resolved for the call.
package rbac

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/klawrawkz/csla/internal/identity"
	"github.com/klawrawkz/csla/internal/server/interceptors"
)

// RequireAuthenticated returns the caller's identity, or an Unauthenticated gRPC error if the
// call carries no authenticated identity.
func RequireAuthenticated(ctx context.Context) (*identity.Identity, error) {
	id, ok := interceptors.GetIdentity(ctx)
	if !ok || !id.IsAuthenticated() {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	return id, nil
}

// RequireRole ensures the caller is authenticated and holds role (case-sensitive).
// Returns the identity on success; Unauthenticated or PermissionDenied otherwise.
func RequireRole(ctx context.Context, role string) (*identity.Identity, error) {
	return RequireAnyRole(ctx, role)
}

// RequireAnyRole ensures the caller is authenticated and holds at least one of roles.
// With no roles it only requires authentication.
func RequireAnyRole(ctx context.Context, roles ...string) (*identity.Identity, error) {
	id, err := RequireAuthenticated(ctx)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return id, nil
	}
	for _, r := range roles {
		if id.HasRole(r) {
			return id, nil
		}
	}
	if len(roles) == 1 {
		return nil, status.Errorf(codes.PermissionDenied, "role %s required", roles[0])
	}
	return nil, status.Errorf(codes.PermissionDenied, "one of roles %v required", roles)
}
