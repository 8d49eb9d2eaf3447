package interceptors

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/klawrawkz/csla/internal/telemetry"
	"github.com/klawrawkz/csla/internal/telemetry/domain"
)

// grpcRequestMetadata is the JSON shape stored in Event.Metadata for grpc_request events.
type grpcRequestMetadata struct {
	FullMethod string `json:"full_method"`
	StatusCode string `json:"status_code"`
	DurationMs int64  `json:"duration_ms"`
	ClientIP   string `json:"client_ip"`
}

// TelemetryUnary returns a unary server interceptor that emits a telemetry event after each RPC.
// Best-effort: emits run asynchronously and failures are logged. If emitter is nil, the interceptor no-ops.
// skipMethods is the set of full method names to not emit (e.g. health Check).
// Place it outside AuthUnary so rejected calls are counted too.
func TelemetryUnary(emitter telemetry.EventEmitter, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if emitter == nil || skipMethods[info.FullMethod] {
			return resp, err
		}
		meta, _ := json.Marshal(grpcRequestMetadata{
			FullMethod: info.FullMethod,
			StatusCode: status.Code(err).String(),
			DurationMs: time.Since(start).Milliseconds(),
			ClientIP:   ClientIP(ctx),
		})
		telemetry.EmitAsync(emitter, ctx, &domain.Event{
			ID:        uuid.New().String(),
			EventType: domain.EventTypeGRPCRequest,
			Source:    "grpc_interceptor",
			Metadata:  meta,
			CreatedAt: time.Now().UTC(),
		})
		return resp, err
	}
}
