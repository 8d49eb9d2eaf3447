package identity

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/klawrawkz/csla/internal/identity/domain"
	"github.com/klawrawkz/csla/internal/identity/repository"
)

type memAccount struct {
	password string
	roles    []string
}

// memGateway implements repository.Gateway over an in-memory account table.
type memGateway struct {
	mu       sync.Mutex
	accounts map[string]memAccount
	err      error
	roleErr  error
	delay    time.Duration
	lookups  []domain.Criteria
	opened   int
	released int
}

func newMemGateway() *memGateway {
	return &memGateway{accounts: map[string]memAccount{}}
}

func (g *memGateway) add(username, password string, roles ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accounts[username] = memAccount{password: password, roles: roles}
}

func (g *memGateway) Lookup(ctx context.Context, c domain.Criteria) (*repository.LookupResult, error) {
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lookups = append(g.lookups, c)
	if g.err != nil {
		return nil, g.err
	}
	acct, ok := g.accounts[c.Username]
	if !ok || acct.password != c.Password {
		return repository.NewLookupResult(false, nil, nil), nil
	}
	g.opened++
	roles := append([]string(nil), acct.roles...)
	roleErr := g.roleErr
	var seq iter.Seq2[string, error] = func(yield func(string, error) bool) {
		for _, r := range roles {
			if !yield(r, nil) {
				return
			}
		}
		if roleErr != nil {
			yield("", roleErr)
		}
	}
	return repository.NewLookupResult(true, seq, func() error {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.released++
		return nil
	}), nil
}

func (g *memGateway) counts() (opened, released int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opened, g.released
}

func TestResolve_Authenticated(t *testing.T) {
	gw := newMemGateway()
	gw.add("alice", "correct-pw", "Admin", "User")
	r := NewResolver(gw)

	id, err := r.Resolve(context.Background(), "alice", "correct-pw")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !id.IsAuthenticated() {
		t.Error("IsAuthenticated = false, want true")
	}
	if id.Name() != "alice" {
		t.Errorf("Name = %q, want %q", id.Name(), "alice")
	}
	if !id.HasRole("Admin") || !id.HasRole("User") {
		t.Errorf("roles = %v, want Admin and User", id.Roles())
	}
	if id.HasRole("Auditor") {
		t.Error("HasRole(Auditor) = true, want false")
	}
	if id.HasRole("admin") {
		t.Error("HasRole is case-sensitive; HasRole(admin) should be false")
	}
	if id.AuthenticationType() != domain.AuthenticationType {
		t.Errorf("AuthenticationType = %q, want %q", id.AuthenticationType(), domain.AuthenticationType)
	}
	if opened, released := gw.counts(); opened != 1 || released != 1 {
		t.Errorf("opened/released = %d/%d, want 1/1", opened, released)
	}
}

func TestResolve_WrongCredentialsAreAnonymous(t *testing.T) {
	gw := newMemGateway()
	gw.add("alice", "correct-pw", "Admin")
	r := NewResolver(gw)

	testCases := []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", "alice", "wrong-pw"},
		{"unknown user", "mallory", "wrong-pw"},
		{"empty credentials", "", ""},
		{"case differs", "Alice", "correct-pw"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := r.Resolve(context.Background(), tc.username, tc.password)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if id == nil {
				t.Fatal("Resolve returned nil identity without error")
			}
			if id.IsAuthenticated() {
				t.Error("IsAuthenticated = true, want false")
			}
			if id.Name() != "" {
				t.Errorf("Name = %q, want empty", id.Name())
			}
			for _, role := range []string{"Admin", "User", ""} {
				if id.HasRole(role) {
					t.Errorf("HasRole(%q) = true, want false", role)
				}
			}
			if len(id.Roles()) != 0 {
				t.Errorf("Roles = %v, want empty", id.Roles())
			}
			if id.AuthenticationType() != domain.AuthenticationType {
				t.Errorf("AuthenticationType = %q, want %q", id.AuthenticationType(), domain.AuthenticationType)
			}
		})
	}
}

func TestResolve_EmptyUsernameNeverAuthenticated(t *testing.T) {
	gw := newMemGateway()
	gw.add("", "", "Admin")
	r := NewResolver(gw)

	id, err := r.Resolve(context.Background(), "", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.IsAuthenticated() || id.HasRole("Admin") {
		t.Errorf("identity = %q authenticated=%v roles=%v, want anonymous", id.Name(), id.IsAuthenticated(), id.Roles())
	}
	if opened, released := gw.counts(); released != opened {
		t.Errorf("opened/released = %d/%d, result must still be released", opened, released)
	}
}

func TestResolve_DuplicateRolesCollapse(t *testing.T) {
	gw := newMemGateway()
	gw.add("bob", "pw", "User", "Admin", "User")
	r := NewResolver(gw)

	id, err := r.Resolve(context.Background(), "bob", "pw")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	got := id.Roles()
	want := []string{"Admin", "User"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Roles = %v, want %v", got, want)
	}
}

func TestResolve_AuthenticatedWithoutRoles(t *testing.T) {
	gw := newMemGateway()
	gw.add("carol", "pw")
	r := NewResolver(gw)

	id, err := r.Resolve(context.Background(), "carol", "pw")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !id.IsAuthenticated() || id.Name() != "carol" {
		t.Errorf("identity = %q/%v, want carol authenticated", id.Name(), id.IsAuthenticated())
	}
	if len(id.Roles()) != 0 {
		t.Errorf("Roles = %v, want empty", id.Roles())
	}
}

func TestResolve_RolesCopyIsDetached(t *testing.T) {
	gw := newMemGateway()
	gw.add("alice", "pw", "Admin")
	r := NewResolver(gw)

	id, err := r.Resolve(context.Background(), "alice", "pw")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	roles := id.Roles()
	roles[0] = "Root"
	if id.HasRole("Root") || !id.HasRole("Admin") {
		t.Error("mutating Roles() result must not change the identity")
	}
}

func TestResolve_PropagatesGatewayErrors(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		kind error
	}{
		{"connection", fmt.Errorf("%w: dial tcp 10.0.0.1:5432: connect: connection refused", domain.ErrConnection), domain.ErrConnection},
		{"query", fmt.Errorf("%w: function security_login does not exist", domain.ErrQuery), domain.ErrQuery},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gw := newMemGateway()
			gw.add("alice", "pw", "Admin")
			gw.err = tc.err
			r := NewResolver(gw)

			id, err := r.Resolve(context.Background(), "alice", "pw")
			if id != nil {
				t.Errorf("identity = %v, want nil on error", id)
			}
			if !errors.Is(err, tc.kind) {
				t.Errorf("err = %v, want %v", err, tc.kind)
			}
			if err != tc.err {
				t.Errorf("err = %v, want gateway error returned unchanged", err)
			}
		})
	}
}

func TestResolve_RoleStreamErrorFailsResolution(t *testing.T) {
	gw := newMemGateway()
	gw.add("alice", "pw", "Admin")
	gw.roleErr = fmt.Errorf("%w: conn closed", domain.ErrConnection)
	r := NewResolver(gw)

	id, err := r.Resolve(context.Background(), "alice", "pw")
	if id != nil {
		t.Errorf("identity = %v, want nil (no partial identity)", id)
	}
	if !errors.Is(err, domain.ErrConnection) {
		t.Errorf("err = %v, want ErrConnection", err)
	}
	if opened, released := gw.counts(); opened != 1 || released != 1 {
		t.Errorf("opened/released = %d/%d, want 1/1", opened, released)
	}
}

func TestResolve_NilResultIsQueryError(t *testing.T) {
	r := NewResolver(nilGateway{})
	_, err := r.Resolve(context.Background(), "alice", "pw")
	if !errors.Is(err, domain.ErrQuery) {
		t.Errorf("err = %v, want ErrQuery", err)
	}
}

type nilGateway struct{}

func (nilGateway) Lookup(context.Context, domain.Criteria) (*repository.LookupResult, error) {
	return nil, nil
}

func TestResolve_PassesCredentialsVerbatim(t *testing.T) {
	gw := newMemGateway()
	r := NewResolver(gw)

	if _, err := r.Resolve(context.Background(), " Alice ", "p@ss word"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(gw.lookups) != 1 {
		t.Fatalf("lookups = %d, want 1", len(gw.lookups))
	}
	got := gw.lookups[0]
	if got.Username != " Alice " || got.Password != "p@ss word" {
		t.Errorf("criteria = %q/%q, want raw input", got.Username, got.Password)
	}
}

func TestResolve_NoCaching(t *testing.T) {
	gw := newMemGateway()
	gw.add("alice", "pw", "User")
	r := NewResolver(gw)

	if _, err := r.Resolve(context.Background(), "alice", "pw"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	gw.add("alice", "pw", "User", "Admin")
	id, err := r.Resolve(context.Background(), "alice", "pw")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !id.HasRole("Admin") {
		t.Error("second resolution should see the updated roles")
	}
	if len(gw.lookups) != 2 {
		t.Errorf("lookups = %d, want 2", len(gw.lookups))
	}
}

func TestResolve_ConcurrentCallsDoNotInterfere(t *testing.T) {
	gw := newMemGateway()
	gw.delay = time.Millisecond
	gw.add("alice", "a-pw", "Admin")
	gw.add("bob", "b-pw", "User")
	r := NewResolver(gw)

	type call struct {
		user, pass, role string
		auth             bool
	}
	calls := []call{
		{"alice", "a-pw", "Admin", true},
		{"bob", "b-pw", "User", true},
		{"mallory", "x", "", false},
	}

	var wg sync.WaitGroup
	errs := make(chan error, 90)
	for i := 0; i < 90; i++ {
		c := calls[i%len(calls)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := r.Resolve(context.Background(), c.user, c.pass)
			if err != nil {
				errs <- err
				return
			}
			if id.IsAuthenticated() != c.auth {
				errs <- fmt.Errorf("%s: authenticated = %v, want %v", c.user, id.IsAuthenticated(), c.auth)
				return
			}
			if c.auth && (id.Name() != c.user || !id.HasRole(c.role) || len(id.Roles()) != 1) {
				errs <- fmt.Errorf("%s: got name %q roles %v", c.user, id.Name(), id.Roles())
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if opened, released := gw.counts(); opened != released {
		t.Errorf("opened/released = %d/%d, every result must be released", opened, released)
	}
}

func TestResolve_RecordsTelemetry(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	gw := newMemGateway()
	gw.add("alice", "pw", "Admin")
	r := NewResolver(gw, WithMeterProvider(mp), WithTracerProvider(tp))
	ctx := context.Background()

	_, _ = r.Resolve(ctx, "alice", "pw")
	_, _ = r.Resolve(ctx, "alice", "nope")
	gw.err = fmt.Errorf("%w: refused", domain.ErrConnection)
	_, _ = r.Resolve(ctx, "alice", "pw")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "identity.resolutions" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("identity.resolutions data = %T, want Sum[int64]", m.Data)
			}
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value("outcome")
				counts[v.AsString()] += dp.Value
			}
		}
	}
	for _, outcome := range []Outcome{OutcomeAuthenticated, OutcomeAnonymous, OutcomeFailed} {
		if counts[string(outcome)] != 1 {
			t.Errorf("resolutions{outcome=%s} = %d, want 1", outcome, counts[string(outcome)])
		}
	}

	spans := recorder.Ended()
	if len(spans) != 3 {
		t.Fatalf("spans = %d, want 3", len(spans))
	}
	for _, s := range spans {
		if s.Name() != "identity.Resolve" {
			t.Errorf("span name = %q, want identity.Resolve", s.Name())
		}
		for _, a := range s.Attributes() {
			if a.Value.AsString() == "pw" || a.Value.AsString() == "alice" {
				t.Errorf("span attribute %s leaks credentials", a.Key)
			}
		}
	}
}

func TestOutcomeOf(t *testing.T) {
	if got := OutcomeOf(nil, errors.New("x")); got != OutcomeFailed {
		t.Errorf("OutcomeOf(nil, err) = %q, want failed", got)
	}
	if got := OutcomeOf(anonymous, nil); got != OutcomeAnonymous {
		t.Errorf("OutcomeOf(anonymous) = %q, want anonymous", got)
	}
	if got := OutcomeOf(&Identity{username: "a"}, nil); got != OutcomeAuthenticated {
		t.Errorf("OutcomeOf(authenticated) = %q, want authenticated", got)
	}
}
