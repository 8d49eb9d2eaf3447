package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	identityv1 "github.com/klawrawkz/csla/api/identity/v1"
	"github.com/klawrawkz/csla/internal/audit"
	auditdomain "github.com/klawrawkz/csla/internal/audit/domain"
	audithandler "github.com/klawrawkz/csla/internal/audit/handler"
	"github.com/klawrawkz/csla/internal/identity"
	"github.com/klawrawkz/csla/internal/platform/rbac"
	"github.com/klawrawkz/csla/internal/server/interceptors"
	"github.com/klawrawkz/csla/internal/telemetry"
	telemetrydomain "github.com/klawrawkz/csla/internal/telemetry/domain"
)

// Server implements IdentityService.
// Proto: csla/identity/v1/identity.proto → internal/identity/handler.
type Server struct {
	identityv1.UnimplementedIdentityServiceServer

	resolver interceptors.Resolver
	audit    audit.AuditLogger
	events   telemetry.EventEmitter
	lister   *audithandler.Lister
}

// NewServer returns an IdentityService server. If resolver is nil, Resolve returns Unimplemented.
// auditLogger, events and lister may be nil.
func NewServer(resolver interceptors.Resolver, auditLogger audit.AuditLogger, events telemetry.EventEmitter, lister *audithandler.Lister) *Server {
	return &Server{resolver: resolver, audit: auditLogger, events: events, lister: lister}
}

type resolveMetadata struct {
	Outcome    identity.Outcome `json:"outcome"`
	Roles      []string         `json:"roles,omitempty"`
	StatusCode string           `json:"status_code,omitempty"`
}

// Resolve checks the credentials in the request body. Credentials that do not match return an
// anonymous identity, not an error. The password is never logged, audited or echoed.
func (s *Server) Resolve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.resolver == nil {
		return nil, status.Error(codes.Unimplemented, "credential resolution is not configured")
	}
	creds, err := identityv1.CredentialsFromProto(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	id, err := s.resolver.Resolve(ctx, creds.Username, creds.Password)
	outcome := identity.OutcomeOf(id, err)
	meta := resolveMetadata{Outcome: outcome}
	if err != nil {
		st := interceptors.ResolveErrorStatus(err)
		meta.StatusCode = status.Code(st).String()
		s.record(ctx, creds.Username, auditdomain.ActionLoginError, meta)
		return nil, st
	}

	action := auditdomain.ActionLoginFailure
	if id.IsAuthenticated() {
		action = auditdomain.ActionLoginSuccess
		meta.Roles = id.Roles()
	}
	s.record(ctx, creds.Username, action, meta)
	return viewOf(id).Proto(), nil
}

// WhoAmI returns the identity resolved from the call's credentials.
func (s *Server) WhoAmI(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	id, err := rbac.RequireAuthenticated(ctx)
	if err != nil {
		return nil, err
	}
	return viewOf(id).Proto(), nil
}

// CheckRole reports whether the caller holds the requested role.
func (s *Server) CheckRole(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	id, err := rbac.RequireAuthenticated(ctx)
	if err != nil {
		return nil, err
	}
	role := req.GetValue()
	if role == "" {
		return nil, status.Error(codes.InvalidArgument, "role is required")
	}
	return wrapperspb.Bool(id.HasRole(role)), nil
}

// ListAuditLogs delegates to the audit lister.
func (s *Server) ListAuditLogs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.lister.ListAuditLogs(ctx, req)
}

// record writes the audit entry and emits the telemetry event for one resolution.
func (s *Server) record(ctx context.Context, username, action string, meta resolveMetadata) {
	payload, _ := json.Marshal(meta)
	if s.audit != nil {
		s.audit.LogEvent(ctx, username, action, auditdomain.ResourceIdentity, string(payload))
	}
	eventUser := ""
	if meta.Outcome == identity.OutcomeAuthenticated {
		eventUser = username
	}
	telemetry.EmitAsync(s.events, ctx, &telemetrydomain.Event{
		ID:        uuid.New().String(),
		Username:  eventUser,
		EventType: telemetrydomain.EventTypeIdentityResolved,
		Source:    "identity_handler",
		Metadata:  payload,
		CreatedAt: time.Now().UTC(),
	})
}

func viewOf(id *identity.Identity) identityv1.IdentityView {
	return identityv1.IdentityView{
		Name:               id.Name(),
		IsAuthenticated:    id.IsAuthenticated(),
		AuthenticationType: id.AuthenticationType(),
		Roles:              id.Roles(),
	}
}
