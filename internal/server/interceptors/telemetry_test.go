package interceptors

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/klawrawkz/csla/internal/telemetry/domain"
)

type chanEmitter struct {
	events chan *domain.Event
}

func (c *chanEmitter) Emit(ctx context.Context, event *domain.Event) error {
	c.events <- event
	return nil
}

func TestTelemetryUnary_EmitsEvent(t *testing.T) {
	emitter := &chanEmitter{events: make(chan *domain.Event, 1)}
	interceptor := TelemetryUnary(emitter, nil)
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-real-ip", "10.1.1.1"))

	_, err := interceptor(ctx, "req", &grpc.UnaryServerInfo{FullMethod: "/csla.identity.v1.IdentityService/WhoAmI"},
		func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, status.Error(codes.Unauthenticated, "invalid credentials")
		})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("err = %v, want handler error", err)
	}

	select {
	case ev := <-emitter.events:
		if ev.EventType != domain.EventTypeGRPCRequest || ev.Source != "grpc_interceptor" || ev.ID == "" {
			t.Errorf("event = %+v", ev)
		}
		var meta grpcRequestMetadata
		if err := json.Unmarshal(ev.Metadata, &meta); err != nil {
			t.Fatalf("metadata: %v", err)
		}
		if meta.FullMethod != "/csla.identity.v1.IdentityService/WhoAmI" || meta.StatusCode != "Unauthenticated" || meta.ClientIP != "10.1.1.1" {
			t.Errorf("metadata = %+v", meta)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event emitted")
	}
}

func TestTelemetryUnary_SkipAndNil(t *testing.T) {
	emitter := &chanEmitter{events: make(chan *domain.Event, 1)}
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	if _, err := TelemetryUnary(emitter, map[string]bool{info.FullMethod: true})(context.Background(), "req", info, okHandler); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if _, err := TelemetryUnary(nil, nil)(context.Background(), "req", info, okHandler); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	select {
	case ev := <-emitter.events:
		t.Errorf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
