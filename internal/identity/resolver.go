package identity

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/klawrawkz/csla/internal/identity/domain"
	"github.com/klawrawkz/csla/internal/identity/repository"
)

const instrumentationName = "github.com/klawrawkz/csla/internal/identity"

// Outcome is the terminal state of one resolution.
type Outcome string

const (
	OutcomeAuthenticated Outcome = "authenticated"
	OutcomeAnonymous     Outcome = "anonymous"
	OutcomeFailed        Outcome = "failed"
)

// OutcomeOf returns the outcome for the values returned by Resolve.
func OutcomeOf(id *Identity, err error) Outcome {
	switch {
	case err != nil || id == nil:
		return OutcomeFailed
	case id.IsAuthenticated():
		return OutcomeAuthenticated
	default:
		return OutcomeAnonymous
	}
}

// Option configures a Resolver.
type Option func(*options)

type options struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// WithTracerProvider sets the tracer provider. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// Resolver resolves credentials into identities through a Gateway. It holds no per-call state:
// every Resolve queries the store again and concurrent calls share nothing but the gateway.
type Resolver struct {
	gateway     repository.Gateway
	tracer      trace.Tracer
	resolutions metric.Int64Counter
	duration    metric.Float64Histogram
}

// NewResolver returns a Resolver backed by gateway.
func NewResolver(gateway repository.Gateway, opts ...Option) *Resolver {
	o := options{
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	meter := o.meterProvider.Meter(instrumentationName)
	resolutions, err := meter.Int64Counter("identity.resolutions",
		metric.WithDescription("Credential resolutions by outcome."))
	if err != nil {
		log.Printf("identity: resolutions counter disabled: %v", err)
		resolutions = noop.Int64Counter{}
	}
	duration, err := meter.Float64Histogram("identity.resolve.duration",
		metric.WithDescription("Time spent resolving credentials, including the store round trip."),
		metric.WithUnit("ms"))
	if err != nil {
		log.Printf("identity: duration histogram disabled: %v", err)
		duration = noop.Float64Histogram{}
	}
	return &Resolver{
		gateway:     gateway,
		tracer:      o.tracerProvider.Tracer(instrumentationName),
		resolutions: resolutions,
		duration:    duration,
	}
}

// Resolve looks up username and password and returns the resulting Identity.
//
// Credentials that do not match yield an anonymous Identity and a nil error. Gateway failures
// (wrapping domain.ErrConnection or domain.ErrQuery) are returned unchanged with a nil Identity.
// The Identity's name is the username as passed in, not the value stored in the backend.
func (r *Resolver) Resolve(ctx context.Context, username, password string) (*Identity, error) {
	ctx, span := r.tracer.Start(ctx, "identity.Resolve")
	defer span.End()
	start := time.Now()

	id, err := r.resolve(ctx, username, password)

	outcome := OutcomeOf(id, err)
	attrs := metric.WithAttributes(attribute.String("outcome", string(outcome)))
	r.resolutions.Add(ctx, 1, attrs)
	r.duration.Record(ctx, float64(time.Since(start))/float64(time.Millisecond), attrs)
	span.SetAttributes(attribute.String("identity.outcome", string(outcome)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "credential lookup failed")
		return nil, err
	}
	return id, nil
}

func (r *Resolver) resolve(ctx context.Context, username, password string) (*Identity, error) {
	res, err := r.gateway.Lookup(ctx, domain.NewCriteria(username, password))
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("%w: gateway returned no result", domain.ErrQuery)
	}
	defer func() { _ = res.Close() }()

	// An empty username cannot carry roles: IsAuthenticated would be false.
	if !res.Found || username == "" {
		return anonymous, nil
	}
	roles := make(map[string]struct{})
	for role, err := range res.Roles() {
		if err != nil {
			return nil, err
		}
		roles[role] = struct{}{}
	}
	return &Identity{username: username, roles: roles}, nil
}
