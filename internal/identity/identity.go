// Package identity turns a username and password into a read-only Identity.
//
// Resolver.Resolve is the only way to obtain an authenticated Identity. Its fields are
// unexported, so other packages can only build the zero value, which is anonymous.
package identity

import (
	"slices"

	"github.com/klawrawkz/csla/internal/identity/domain"
)

// Identity is the authenticated (or anonymous) principal produced by Resolver.Resolve.
// Values never change after resolution and are safe for concurrent use.
// The zero value and a nil *Identity are anonymous.
type Identity struct {
	username string
	roles    map[string]struct{}
}

var anonymous = &Identity{}

// IsAuthenticated reports whether the credentials matched, i.e. Name is non-empty.
func (id *Identity) IsAuthenticated() bool { return id != nil && id.username != "" }

// AuthenticationType is always domain.AuthenticationType, whatever the outcome.
func (id *Identity) AuthenticationType() string { return domain.AuthenticationType }

// Name is the username the caller supplied, or "" when not authenticated.
func (id *Identity) Name() string {
	if id == nil {
		return ""
	}
	return id.username
}

// HasRole reports role membership. Always false when not authenticated.
func (id *Identity) HasRole(role string) bool {
	if !id.IsAuthenticated() {
		return false
	}
	_, ok := id.roles[role]
	return ok
}

// Roles returns the role names sorted, as a copy.
func (id *Identity) Roles() []string {
	if !id.IsAuthenticated() {
		return []string{}
	}
	out := make([]string, 0, len(id.roles))
	for r := range id.roles {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}
