// Package identitytest provides an in-memory credential gateway for tests in other packages.
package identitytest

import (
	"context"
	"sync"

	"github.com/klawrawkz/csla/internal/identity"
	"github.com/klawrawkz/csla/internal/identity/domain"
	"github.com/klawrawkz/csla/internal/identity/repository"
)

type account struct {
	password string
	roles    []string
}

// Gateway implements repository.Gateway over a map of accounts. Safe for concurrent use.
type Gateway struct {
	mu       sync.Mutex
	accounts map[string]account
	err      error
	lookups  int
}

func NewGateway() *Gateway {
	return &Gateway{accounts: make(map[string]account)}
}

// Add registers or replaces an account.
func (g *Gateway) Add(username, password string, roles ...string) *Gateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accounts[username] = account{password: password, roles: append([]string(nil), roles...)}
	return g
}

// Fail makes every later Lookup return err. Pass nil to recover.
func (g *Gateway) Fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

// Lookups returns the number of Lookup calls so far.
func (g *Gateway) Lookups() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lookups
}

func (g *Gateway) Lookup(_ context.Context, c domain.Criteria) (*repository.LookupResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lookups++
	if g.err != nil {
		return nil, g.err
	}
	acct, ok := g.accounts[c.Username]
	if !ok || acct.password != c.Password {
		return repository.NewLookupResult(false, nil, nil), nil
	}
	roles := append([]string(nil), acct.roles...)
	return repository.NewLookupResult(true, func(yield func(string, error) bool) {
		for _, r := range roles {
			if !yield(r, nil) {
				return
			}
		}
	}, nil), nil
}

// Identity resolves username/password against a fresh gateway holding only that account,
// so tests in other packages can obtain real identities.
func Identity(username, password string, roles ...string) *identity.Identity {
	id, err := identity.NewResolver(NewGateway().Add(username, password, roles...)).Resolve(context.Background(), username, password)
	if err != nil {
		panic(err)
	}
	return id
}

// Anonymous returns the identity produced by credentials that do not match.
func Anonymous() *identity.Identity {
	id, err := identity.NewResolver(NewGateway()).Resolve(context.Background(), "", "")
	if err != nil {
		panic(err)
	}
	return id
}
