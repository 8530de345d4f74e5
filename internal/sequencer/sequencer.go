// Package sequencer runs the one-time initialization: it hands a consistent
// snapshot of bound capabilities to the initializer and publishes the two
// resulting services.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/datasources/internal/config"
	"github.com/zjrosen/datasources/internal/datasource"
	"github.com/zjrosen/datasources/internal/directory"
	"github.com/zjrosen/datasources/internal/log"
	"github.com/zjrosen/datasources/internal/metrics"
	"github.com/zjrosen/datasources/internal/naming"
	"github.com/zjrosen/datasources/internal/pubsub"
	"github.com/zjrosen/datasources/internal/requirement"
	"github.com/zjrosen/datasources/internal/tracing"
)

// Input is the snapshot handed to the initializer.
type Input struct {
	Config    config.Provider
	Naming    naming.ContextManager
	Providers map[string]datasource.Reader
}

// ProviderKeys returns the provider keys in sorted order.
func (in Input) ProviderKeys() []string {
	return slices.Sorted(maps.Keys(in.Providers))
}

// Initializer builds the query and management services.
type Initializer interface {
	Initialize(ctx context.Context, in Input) (datasource.Service, datasource.ManagementService, error)
}

// InitializerFunc adapts a function to Initializer.
type InitializerFunc func(ctx context.Context, in Input) (datasource.Service, datasource.ManagementService, error)

// Initialize calls f.
func (f InitializerFunc) Initialize(ctx context.Context, in Input) (datasource.Service, datasource.ManagementService, error) {
	return f(ctx, in)
}

// ManagerInitializer initializes m from the input snapshot.
func ManagerInitializer(m *datasource.Manager) Initializer {
	return InitializerFunc(func(ctx context.Context, in Input) (datasource.Service, datasource.ManagementService, error) {
		return m.Initialize(ctx, in.Config, in.Naming, in.Providers)
	})
}

// Publisher places a service instance in the service directory.
type Publisher interface {
	Publish(ctx context.Context, id string, instance any) (directory.Registration, error)
}

// Stage identifies where a diagnostic originated.
type Stage string

const (
	StageInitialize Stage = "initialize"
	StagePublish    Stage = "publish"
)

// Diagnostic reports an initialization or publication failure.
type Diagnostic struct {
	Stage   Stage
	Service string
	Err     error
	At      time.Time
}

// InitializationError wraps a failed initializer call.
type InitializationError struct {
	Err error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialization failed: %v", e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// Sequencer performs initialization and publication. It never touches the
// readiness state; the caller's gate does.
type Sequencer struct {
	init    Initializer
	pub     Publisher
	diag    pubsub.Publisher[Diagnostic]
	tracer  trace.Tracer
	metrics *metrics.Recorder
	now     func() time.Time

	mu   sync.Mutex
	regs []directory.Registration
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithDiagnostics sets the sink for failure reports.
func WithDiagnostics(p pubsub.Publisher[Diagnostic]) Option {
	return func(s *Sequencer) { s.diag = p }
}

// WithTracer sets the tracer for the initialization span.
func WithTracer(t trace.Tracer) Option {
	return func(s *Sequencer) { s.tracer = t }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Sequencer) { s.metrics = r }
}

// New creates a sequencer.
func New(init Initializer, pub Publisher, opts ...Option) *Sequencer {
	s := &Sequencer{
		init:   init,
		pub:    pub,
		tracer: tracing.Noop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run initializes from in and publishes both services. A missing mandatory
// input yields *requirement.UnsatisfiedError and the initializer is not called.
// An initializer error yields *InitializationError and nothing is published.
// Publication failures are reported as diagnostics only; Run still succeeds.
func (s *Sequencer) Run(ctx context.Context, in Input) error {
	if err := checkInput(in); err != nil {
		return err
	}

	keys := in.ProviderKeys()
	ctx, span := s.tracer.Start(ctx, tracing.SpanSequencerInitialize, trace.WithAttributes(
		attribute.Int(tracing.AttrProviderCount, len(keys)),
		attribute.StringSlice(tracing.AttrProviderKeys, keys),
	))
	defer span.End()

	log.Info(log.CatInit, "Initializing", "providers", keys)
	span.AddEvent(tracing.EventInitializerStart)

	start := s.now()
	svc, mgmt, err := s.init.Initialize(ctx, in)
	if err == nil && (svc == nil || mgmt == nil) {
		err = errors.New("initializer returned no services")
	}
	elapsed := s.now().Sub(start)

	if err != nil {
		s.metrics.ObserveInitialization(elapsed, "failure")
		tracing.RecordError(span, err)
		s.report(StageInitialize, "", err)
		log.ErrorErr(log.CatInit, "Initialization failed", err, "elapsed", elapsed)
		return &InitializationError{Err: err}
	}
	s.metrics.ObserveInitialization(elapsed, "success")
	log.Info(log.CatInit, "Initialization complete", "elapsed", elapsed)

	s.publish(ctx, span, datasource.ServiceID, svc)
	s.publish(ctx, span, datasource.ManagementServiceID, mgmt)
	return nil
}

func (s *Sequencer) publish(ctx context.Context, span trace.Span, id string, instance any) {
	reg, err := s.pub.Publish(ctx, id, instance)
	if err != nil {
		span.AddEvent(tracing.EventPublishFailed, trace.WithAttributes(
			attribute.String(tracing.AttrServiceID, id),
			attribute.String(tracing.AttrErrorMessage, err.Error()),
		))
		s.metrics.IncPublishFailure()
		s.report(StagePublish, id, err)
		log.ErrorErr(log.CatInit, "Service publication failed", err, "service", id)
		return
	}

	s.mu.Lock()
	s.regs = append(s.regs, reg)
	s.mu.Unlock()
}

func (s *Sequencer) report(stage Stage, service string, err error) {
	if s.diag == nil {
		return
	}
	s.diag.Publish(pubsub.DiagnosticEvent, Diagnostic{
		Stage:   stage,
		Service: service,
		Err:     err,
		At:      s.now(),
	})
}

// Registrations returns the registrations of successfully published services.
func (s *Sequencer) Registrations() []directory.Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.regs)
}

func checkInput(in Input) error {
	var missing []string
	if in.Naming == nil {
		missing = append(missing, requirement.SlotNamingContext)
	}
	if in.Config == nil {
		missing = append(missing, requirement.SlotConfigSource)
	}
	if len(missing) > 0 {
		return &requirement.UnsatisfiedError{Missing: missing}
	}
	return nil
}
