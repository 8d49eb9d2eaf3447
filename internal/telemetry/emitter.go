package telemetry

import (
	"context"
	"errors"

	"github.com/klawrawkz/csla/internal/telemetry/domain"
)

// EventEmitter emits telemetry events (e.g. to OTel Logs or Kafka). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.Event) error
}

// Fanout returns an EventEmitter that emits to every non-nil emitter in order.
// All emitters are tried; their errors are joined. With no emitters it returns nil.
func Fanout(emitters ...EventEmitter) EventEmitter {
	var out fanout
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

type fanout []EventEmitter

func (f fanout) Emit(ctx context.Context, event *domain.Event) error {
	var errs []error
	for _, e := range f {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
