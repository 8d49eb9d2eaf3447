package repository

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/klawrawkz/csla/internal/identity/domain"
)

// ErrRolesConsumed is yielded when the role sequence of a LookupResult is ranged over a second time.
var ErrRolesConsumed = errors.New("role sequence already consumed")

// Gateway performs credential lookups against the security store.
type Gateway interface {
	// Lookup runs the credential procedure once for c. A missing user or a wrong password is
	// reported as Found == false, not as an error. Errors wrap domain.ErrConnection or domain.ErrQuery.
	// The caller must Close the result.
	Lookup(ctx context.Context, c domain.Criteria) (*LookupResult, error)
}

// LookupResult is the outcome of one credential lookup: whether the credentials matched and,
// when they did, a single-pass sequence of role names. It may hold backend resources until Close.
type LookupResult struct {
	Found bool

	roles    iter.Seq2[string, error]
	release  func() error
	consumed atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// NewLookupResult returns a LookupResult. roles is ignored unless found is true; release, if
// non-nil, is called exactly once by Close or when the role sequence ends.
func NewLookupResult(found bool, roles iter.Seq2[string, error], release func() error) *LookupResult {
	return &LookupResult{Found: found, roles: roles, release: release}
}

// Roles returns the role names in delivery order. The sequence can be ranged over once; a second
// pass yields ErrRolesConsumed. Resources are released when the sequence ends or the loop breaks.
func (r *LookupResult) Roles() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !r.Found || r.roles == nil {
			return
		}
		if r.consumed.Swap(true) {
			yield("", ErrRolesConsumed)
			return
		}
		defer func() { _ = r.Close() }()
		for role, err := range r.roles {
			if !yield(role, err) || err != nil {
				return
			}
		}
	}
}

// Close releases any backend resources held by the result. Safe to call more than once.
func (r *LookupResult) Close() error {
	if r == nil {
		return nil
	}
	r.closeOnce.Do(func() {
		if r.release != nil {
			r.closeErr = r.release()
		}
	})
	return r.closeErr
}
