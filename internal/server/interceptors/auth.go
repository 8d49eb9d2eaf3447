package interceptors

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/klawrawkz/csla/internal/audit"
	auditdomain "github.com/klawrawkz/csla/internal/audit/domain"
	"github.com/klawrawkz/csla/internal/identity"
	"github.com/klawrawkz/csla/internal/identity/domain"
)

const basicPrefix = "basic "

// Resolver turns credentials into an identity. *identity.Resolver implements it.
type Resolver interface {
	Resolve(ctx context.Context, username, password string) (*identity.Identity, error)
}

// AuthUnary returns a unary server interceptor that resolves the Basic credentials in gRPC
// metadata on every call and stores the identity in context for protected RPCs.
// publicMethods is the set of full method names that need no credentials (e.g. IdentityService
// Resolve, grpc.health.v1.Health Check); they run without an identity in context.
// auditLogger may be nil; otherwise rejected credentials and store failures are recorded.
func AuthUnary(resolver Resolver, publicMethods map[string]bool, auditLogger audit.AuditLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		username, password, ok := BasicCredentials(ctx)
		if !ok || resolver == nil {
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		id, err := resolver.Resolve(ctx, username, password)
		if err != nil {
			st := ResolveErrorStatus(err)
			logAuthEvent(ctx, auditLogger, username, auditdomain.ActionLoginError, info.FullMethod, status.Code(st))
			return nil, st
		}
		if !id.IsAuthenticated() {
			logAuthEvent(ctx, auditLogger, username, auditdomain.ActionLoginFailure, info.FullMethod, codes.Unauthenticated)
			return nil, status.Error(codes.Unauthenticated, "invalid credentials")
		}
		return handler(WithIdentity(ctx, id), req)
	}
}

// ResolveErrorStatus maps a resolution error to a gRPC status error. Store connection failures
// are Unavailable so clients may retry; query failures are Internal. Details are not exposed.
func ResolveErrorStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrConnection):
		return status.Error(codes.Unavailable, "credential store unavailable")
	case errors.Is(err, domain.ErrQuery):
		return status.Error(codes.Internal, "credential lookup failed")
	default:
		return status.Error(codes.Internal, "credential resolution failed")
	}
}

type authEventMetadata struct {
	FullMethod string `json:"full_method"`
	StatusCode string `json:"status_code"`
}

func logAuthEvent(ctx context.Context, l audit.AuditLogger, username, action, fullMethod string, code codes.Code) {
	if l == nil {
		return
	}
	meta, _ := json.Marshal(authEventMetadata{FullMethod: fullMethod, StatusCode: code.String()})
	l.LogEvent(ctx, username, action, auditdomain.ResourceIdentity, string(meta))
}

// BasicCredentials returns the username and password from an "authorization: Basic ..." header
// in ctx metadata. ok is false if the header is missing or malformed.
func BasicCredentials(ctx context.Context) (username, password string, ok bool) {
	md, found := metadata.FromIncomingContext(ctx)
	if !found {
		return "", "", false
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return "", "", false
	}
	v := strings.TrimSpace(vals[0])
	if len(v) < len(basicPrefix) || !strings.EqualFold(v[:len(basicPrefix)], basicPrefix) {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(v[len(basicPrefix):]))
	if err != nil {
		return "", "", false
	}
	username, password, ok = strings.Cut(string(raw), ":")
	if !ok {
		return "", "", false
	}
	return username, password, true
}

// BasicAuthorization returns the "authorization" metadata value for username and password.
func BasicAuthorization(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}
