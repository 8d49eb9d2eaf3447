package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	identityv1 "github.com/klawrawkz/csla/api/identity/v1"
	"github.com/klawrawkz/csla/internal/audit"
	audithandler "github.com/klawrawkz/csla/internal/audit/handler"
	auditrepo "github.com/klawrawkz/csla/internal/audit/repository"
	healthhandler "github.com/klawrawkz/csla/internal/health/handler"
	identityhandler "github.com/klawrawkz/csla/internal/identity/handler"
	"github.com/klawrawkz/csla/internal/server/interceptors"
	"github.com/klawrawkz/csla/internal/telemetry"
)

// Deps holds the service dependencies for gRPC handlers and interceptors.
type Deps struct {
	// Resolver checks credentials. If nil, Resolve returns Unimplemented and protected RPCs are Unauthenticated.
	Resolver interceptors.Resolver
	// AuditRepo backs ListAuditLogs. If nil, ListAuditLogs returns Unimplemented.
	AuditRepo auditrepo.Repository
	// AuditReaderRole is the role ListAuditLogs requires.
	AuditReaderRole string
	// AuditLogger records resolutions and authenticated RPCs. May be nil.
	AuditLogger audit.AuditLogger
	// Events receives per-RPC and per-resolution telemetry. May be nil.
	Events telemetry.EventEmitter
	// HealthPingers are checked by grpc.health.v1.Health Check (e.g. the security and audit pools).
	HealthPingers map[string]healthhandler.Pinger
}

// healthMethods lists every grpc.health.v1.Health method.
var healthMethods = func() []string {
	var out []string
	for _, m := range healthpb.Health_ServiceDesc.Methods {
		out = append(out, "/"+healthpb.Health_ServiceDesc.ServiceName+"/"+m.MethodName)
	}
	for _, m := range healthpb.Health_ServiceDesc.Streams {
		out = append(out, "/"+healthpb.Health_ServiceDesc.ServiceName+"/"+m.StreamName)
	}
	return out
}()

func methodSet(extra ...string) map[string]bool {
	set := make(map[string]bool, len(healthMethods)+len(extra))
	for _, m := range healthMethods {
		set[m] = true
	}
	for _, m := range extra {
		set[m] = true
	}
	return set
}

// PublicMethods need no Basic credentials: Resolve carries credentials in its body.
var PublicMethods = methodSet(identityv1.IdentityService_Resolve_FullMethodName)

// AuditSkipMethods are not audited by the interceptor. Resolve audits its own outcome.
var AuditSkipMethods = methodSet(identityv1.IdentityService_Resolve_FullMethodName)

// TelemetrySkipMethods emit no grpc_request event.
var TelemetrySkipMethods = methodSet()

// UnaryInterceptors returns the interceptor chain, outermost first: telemetry, auth, audit.
func UnaryInterceptors(deps Deps) []grpc.UnaryServerInterceptor {
	return []grpc.UnaryServerInterceptor{
		interceptors.TelemetryUnary(deps.Events, TelemetrySkipMethods),
		interceptors.AuthUnary(deps.Resolver, PublicMethods, deps.AuditLogger),
		interceptors.AuditUnary(deps.AuditLogger, AuditSkipMethods),
	}
}

// NewServer returns a gRPC server with OpenTelemetry instrumentation, the interceptor chain and
// every service registered. opts are appended to the server options.
func NewServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(UnaryInterceptors(deps)...),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers all gRPC services with the given server.
//
// Service → handler mapping:
//   - csla.identity.v1.IdentityService → internal/identity/handler
//     (ListAuditLogs → internal/audit/handler)
//   - grpc.health.v1.Health            → internal/health/handler
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	var lister *audithandler.Lister
	if deps.AuditRepo != nil {
		lister = audithandler.NewLister(deps.AuditRepo, deps.AuditReaderRole)
	}
	identityv1.RegisterIdentityServiceServer(s, identityhandler.NewServer(deps.Resolver, deps.AuditLogger, deps.Events, lister))
	healthpb.RegisterHealthServer(s, healthhandler.NewServer(deps.HealthPingers, identityv1.ServiceName))
}
