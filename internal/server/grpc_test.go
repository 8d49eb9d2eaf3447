package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	identityv1 "github.com/klawrawkz/csla/api/identity/v1"
	auditdomain "github.com/klawrawkz/csla/internal/audit/domain"
	"github.com/klawrawkz/csla/internal/identity"
	"github.com/klawrawkz/csla/internal/identity/domain"
	"github.com/klawrawkz/csla/internal/identity/identitytest"
	"github.com/klawrawkz/csla/internal/server/interceptors"
)

// mockServiceRegistrar implements grpc.ServiceRegistrar for testing.
type mockServiceRegistrar struct {
	services []string
}

func (m *mockServiceRegistrar) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	m.services = append(m.services, desc.ServiceName)
}

func TestRegisterServices_AllServicesRegistered(t *testing.T) {
	mockReg := &mockServiceRegistrar{}
	RegisterServices(mockReg, Deps{})

	want := []string{identityv1.ServiceName, healthpb.Health_ServiceDesc.ServiceName}
	if len(mockReg.services) != len(want) {
		t.Fatalf("registered %v, want %v", mockReg.services, want)
	}
	for i := range want {
		if mockReg.services[i] != want[i] {
			t.Errorf("service[%d] = %s, want %s", i, mockReg.services[i], want[i])
		}
	}
}

func TestMethodSets(t *testing.T) {
	if !PublicMethods[identityv1.IdentityService_Resolve_FullMethodName] {
		t.Error("Resolve must be public")
	}
	if !PublicMethods[healthpb.Health_Check_FullMethodName] || !PublicMethods[healthpb.Health_Watch_FullMethodName] {
		t.Error("health methods must be public")
	}
	for _, m := range []string{
		identityv1.IdentityService_WhoAmI_FullMethodName,
		identityv1.IdentityService_CheckRole_FullMethodName,
		identityv1.IdentityService_ListAuditLogs_FullMethodName,
	} {
		if PublicMethods[m] {
			t.Errorf("%s must require credentials", m)
		}
		if AuditSkipMethods[m] || TelemetrySkipMethods[m] {
			t.Errorf("%s must be audited and counted", m)
		}
	}
	if !AuditSkipMethods[identityv1.IdentityService_Resolve_FullMethodName] {
		t.Error("Resolve audits itself and must be skipped by the interceptor")
	}
	if TelemetrySkipMethods[identityv1.IdentityService_Resolve_FullMethodName] {
		t.Error("Resolve must be counted")
	}
}

type recordingAuditLogger struct {
	mu      sync.Mutex
	actions []string
}

func (r *recordingAuditLogger) LogEvent(_ context.Context, username, action, resource, metadata string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, username+":"+action+":"+resource)
}

func (r *recordingAuditLogger) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.actions...)
}

func dial(t *testing.T, deps Deps) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := NewServer(deps)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func withBasic(ctx context.Context, username, password string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", interceptors.BasicAuthorization(username, password))
}

func TestServer_EndToEnd(t *testing.T) {
	gw := identitytest.NewGateway().
		Add("alice", "correct-pw", "Admin", "User").
		Add("bob", "bob-pw", "User")
	auditLog := &recordingAuditLogger{}
	conn := dial(t, Deps{
		Resolver:    identity.NewResolver(gw),
		AuditLogger: auditLog,
	})
	client := identityv1.NewIdentityServiceClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.Run("resolve without basic credentials", func(t *testing.T) {
		resp, err := client.Resolve(ctx, identityv1.Credentials{Username: "alice", Password: "correct-pw"}.Proto())
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		view, err := identityv1.IdentityViewFromProto(resp)
		if err != nil {
			t.Fatalf("IdentityViewFromProto: %v", err)
		}
		if !view.IsAuthenticated || view.Name != "alice" || len(view.Roles) != 2 {
			t.Errorf("view = %+v", view)
		}
	})

	t.Run("resolve with wrong password is anonymous", func(t *testing.T) {
		resp, err := client.Resolve(ctx, identityv1.Credentials{Username: "alice", Password: "nope"}.Proto())
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		view, _ := identityv1.IdentityViewFromProto(resp)
		if view.IsAuthenticated || view.Name != "" {
			t.Errorf("view = %+v, want anonymous", view)
		}
	})

	t.Run("whoami requires credentials", func(t *testing.T) {
		_, err := client.WhoAmI(ctx, &emptypb.Empty{})
		if status.Code(err) != codes.Unauthenticated {
			t.Errorf("code = %v, want Unauthenticated", status.Code(err))
		}
		_, err = client.WhoAmI(withBasic(ctx, "bob", "wrong"), &emptypb.Empty{})
		if status.Code(err) != codes.Unauthenticated {
			t.Errorf("wrong password code = %v, want Unauthenticated", status.Code(err))
		}
	})

	t.Run("whoami", func(t *testing.T) {
		resp, err := client.WhoAmI(withBasic(ctx, "bob", "bob-pw"), &emptypb.Empty{})
		if err != nil {
			t.Fatalf("WhoAmI: %v", err)
		}
		view, _ := identityv1.IdentityViewFromProto(resp)
		if view.Name != "bob" || !view.IsAuthenticated {
			t.Errorf("view = %+v", view)
		}
	})

	t.Run("check role", func(t *testing.T) {
		resp, err := client.CheckRole(withBasic(ctx, "alice", "correct-pw"), wrapperspb.String("Admin"))
		if err != nil || !resp.GetValue() {
			t.Errorf("CheckRole(Admin) = %v, %v", resp.GetValue(), err)
		}
		resp, err = client.CheckRole(withBasic(ctx, "bob", "bob-pw"), wrapperspb.String("Admin"))
		if err != nil || resp.GetValue() {
			t.Errorf("bob CheckRole(Admin) = %v, %v", resp.GetValue(), err)
		}
	})

	t.Run("list audit logs without repository", func(t *testing.T) {
		_, err := client.ListAuditLogs(withBasic(ctx, "alice", "correct-pw"), identityv1.AuditQuery{}.Proto())
		if status.Code(err) != codes.Unimplemented {
			t.Errorf("code = %v, want Unimplemented", status.Code(err))
		}
	})

	t.Run("health is public", func(t *testing.T) {
		resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: identityv1.ServiceName})
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			t.Errorf("status = %v, want SERVING", resp.GetStatus())
		}
	})

	got := auditLog.snapshot()
	want := map[string]bool{
		"alice:" + auditdomain.ActionLoginSuccess + ":" + auditdomain.ResourceIdentity: false,
		"alice:" + auditdomain.ActionLoginFailure + ":" + auditdomain.ResourceIdentity: false,
		"bob:" + auditdomain.ActionLoginFailure + ":" + auditdomain.ResourceIdentity:   false,
	}
	for _, a := range got {
		if _, ok := want[a]; ok {
			want[a] = true
		}
	}
	for a, seen := range want {
		if !seen {
			t.Errorf("audit entry %q not recorded; got %v", a, got)
		}
	}
}

func TestServer_StoreDown(t *testing.T) {
	gw := identitytest.NewGateway().Add("alice", "correct-pw")
	gw.Fail(fmt.Errorf("%w: dial tcp: connection refused", domain.ErrConnection))
	conn := dial(t, Deps{Resolver: identity.NewResolver(gw)})
	client := identityv1.NewIdentityServiceClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := client.WhoAmI(withBasic(ctx, "alice", "correct-pw"), &emptypb.Empty{})
	if status.Code(err) != codes.Unavailable {
		t.Errorf("code = %v, want Unavailable", status.Code(err))
	}
}
