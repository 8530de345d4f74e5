// Package coordinator tracks bound capabilities and fires the one-time
// initialization once the host declares them complete.
//
// Provider registry and mandatory slots share one lock so the snapshot taken
// at fire time is never torn. Anything bound after that snapshot is invisible
// to initialization and is only logged as a late bind.
package coordinator

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/datasources/internal/capability"
	"github.com/zjrosen/datasources/internal/config"
	"github.com/zjrosen/datasources/internal/datasource"
	"github.com/zjrosen/datasources/internal/directory"
	"github.com/zjrosen/datasources/internal/log"
	"github.com/zjrosen/datasources/internal/metrics"
	"github.com/zjrosen/datasources/internal/naming"
	"github.com/zjrosen/datasources/internal/pubsub"
	"github.com/zjrosen/datasources/internal/readiness"
	"github.com/zjrosen/datasources/internal/requirement"
	"github.com/zjrosen/datasources/internal/sequencer"
	"github.com/zjrosen/datasources/internal/tracing"
)

var allStates = []string{
	readiness.Waiting.String(),
	readiness.Firing.String(),
	readiness.Fired.String(),
	readiness.Failed.String(),
}

// Coordinator owns the capability registry, the mandatory slots and the
// readiness gate.
type Coordinator struct {
	mu            sync.Mutex
	providers     *capability.Registry[datasource.Reader]
	namingCtx     *requirement.Slot[naming.ContextManager]
	configSrc     *requirement.Slot[config.Provider]
	snapshotTaken bool

	gate    *readiness.Gate
	seq     *sequencer.Sequencer
	events  *pubsub.Broker[Lifecycle]
	tracer  trace.Tracer
	metrics *metrics.Recorder
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTracer sets the tracer for fire spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = t }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r *metrics.Recorder) Option {
	return func(c *Coordinator) { c.metrics = r }
}

// New creates a coordinator that runs init and publishes through pub.
func New(init sequencer.Initializer, pub sequencer.Publisher, opts ...Option) *Coordinator {
	c := &Coordinator{
		providers: capability.NewRegistry[datasource.Reader](),
		namingCtx: requirement.NewSlot[naming.ContextManager](requirement.SlotNamingContext),
		configSrc: requirement.NewSlot[config.Provider](requirement.SlotConfigSource),
		events:    pubsub.NewBroker[Lifecycle](),
		tracer:    tracing.Noop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.seq = sequencer.New(init, pub,
		sequencer.WithDiagnostics(diagnostics{broker: c.events}),
		sequencer.WithTracer(c.tracer),
		sequencer.WithMetrics(c.metrics),
	)
	c.gate = readiness.NewGate(c.initialize, readiness.WithTransitionHook(c.onTransition))
	c.metrics.SetGateState(readiness.Waiting.String(), allStates)
	return c
}

// === Providers ===

// BindProvider registers r under key. A later bind for the same key wins.
func (c *Coordinator) BindProvider(key string, r datasource.Reader) error {
	c.mu.Lock()
	replaced, err := c.providers.Register(key, r)
	late := c.snapshotTaken
	n := c.providers.Len()
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("bind provider %q: %w", key, err)
	}

	c.metrics.ObserveBind(metrics.KindProvider, metrics.OpBind)
	c.metrics.SetProviders(n)
	c.bound(KindProvider, key, late)
	if replaced {
		log.Info(log.CatRegistry, "Provider replaced", "key", key)
	}
	return nil
}

// UnbindProvider removes key only if it is still bound to r.
func (c *Coordinator) UnbindProvider(key string, r datasource.Reader) bool {
	c.mu.Lock()
	removed := c.providers.Unregister(key, r)
	n := c.providers.Len()
	c.mu.Unlock()

	c.unbound(KindProvider, key, removed)
	c.metrics.SetProviders(n)
	return removed
}

// === Mandatory slots ===

// BindNamingContext fills the naming-context slot.
func (c *Coordinator) BindNamingContext(nc naming.ContextManager) error {
	if nc == nil {
		return fmt.Errorf("bind %s: nil service", requirement.SlotNamingContext)
	}
	c.mu.Lock()
	c.namingCtx.Bind(nc)
	late := c.snapshotTaken
	c.mu.Unlock()

	c.metrics.ObserveBind(metrics.KindNaming, metrics.OpBind)
	c.bound(KindNaming, requirement.SlotNamingContext, late)
	return nil
}

// UnbindNamingContext clears the slot if it still holds nc.
func (c *Coordinator) UnbindNamingContext(nc naming.ContextManager) bool {
	c.mu.Lock()
	removed := c.namingCtx.Unbind(nc)
	c.mu.Unlock()

	c.unbound(KindNaming, requirement.SlotNamingContext, removed)
	return removed
}

// BindConfigProvider fills the configuration-source slot.
func (c *Coordinator) BindConfigProvider(cp config.Provider) error {
	if cp == nil {
		return fmt.Errorf("bind %s: nil service", requirement.SlotConfigSource)
	}
	c.mu.Lock()
	c.configSrc.Bind(cp)
	late := c.snapshotTaken
	c.mu.Unlock()

	c.metrics.ObserveBind(metrics.KindConfig, metrics.OpBind)
	c.bound(KindConfig, requirement.SlotConfigSource, late)
	return nil
}

// UnbindConfigProvider clears the slot if it still holds cp.
func (c *Coordinator) UnbindConfigProvider(cp config.Provider) bool {
	c.mu.Lock()
	removed := c.configSrc.Unbind(cp)
	c.mu.Unlock()

	c.unbound(KindConfig, requirement.SlotConfigSource, removed)
	return removed
}

// === Readiness ===

// OnAllRequiredCapabilitiesAvailable is the host's readiness entry point.
// Only the first call that finds every mandatory slot filled runs
// initialization; every other call is a no-op.
func (c *Coordinator) OnAllRequiredCapabilitiesAvailable(ctx context.Context) readiness.Outcome {
	ctx, span := c.tracer.Start(ctx, tracing.SpanCoordinatorFire)
	defer span.End()

	out := c.gate.Fire(ctx)
	span.SetAttributes(attribute.String(tracing.AttrGateOutcome, out.String()))

	switch out {
	case readiness.OutcomeIgnored:
		c.metrics.IncIgnored()
	case readiness.OutcomeDeferred:
		c.metrics.IncDeferred()
	case readiness.OutcomeFailed:
		tracing.RecordError(span, c.gate.Err())
	}
	return out
}

// initialize runs on the goroutine that won the gate.
func (c *Coordinator) initialize(ctx context.Context) error {
	c.mu.Lock()
	if err := requirement.CheckFilled(c.namingCtx, c.configSrc); err != nil {
		c.mu.Unlock()
		return err
	}
	nc, _ := c.namingCtx.Get()
	cp, _ := c.configSrc.Get()
	snap := c.providers.Snapshot()
	c.snapshotTaken = true
	c.mu.Unlock()

	trace.SpanFromContext(ctx).AddEvent(tracing.EventSnapshotTaken, trace.WithAttributes(
		attribute.StringSlice(tracing.AttrProviderKeys, snap.Keys()),
	))

	err := c.seq.Run(ctx, sequencer.Input{
		Config:    cp,
		Naming:    nc,
		Providers: snap.Map(),
	})
	if _, deferred := err.(*requirement.UnsatisfiedError); deferred { //nolint:errorlint // only the unwrapped pre-check defers
		// Release the mark before the gate re-arms so a racing winner's
		// snapshot is never cleared.
		c.mu.Lock()
		c.snapshotTaken = false
		c.mu.Unlock()
	}
	return err
}

func (c *Coordinator) onTransition(from, to readiness.State) {
	c.metrics.SetGateState(to.String(), allStates)
	c.events.Publish(pubsub.StateEvent, Lifecycle{Kind: KindGate, From: from.String(), To: to.String()})
}

func (c *Coordinator) bound(kind, key string, late bool) {
	if late {
		c.metrics.ObserveBind(kind, metrics.OpLate)
		log.Warn(log.CatRegistry, "Capability bound after initialization snapshot; not reconciled", "kind", kind, "key", key)
	} else {
		log.Debug(log.CatRegistry, "Capability bound", "kind", kind, "key", key)
	}
	c.events.Publish(pubsub.BoundEvent, Lifecycle{Kind: kind, Key: key, Late: late})
}

func (c *Coordinator) unbound(kind, key string, removed bool) {
	if !removed {
		c.metrics.ObserveBind(kind, metrics.OpStale)
		log.Debug(log.CatRegistry, "Stale unbind ignored", "kind", kind, "key", key)
		return
	}
	c.metrics.ObserveBind(kind, metrics.OpUnbind)
	log.Debug(log.CatRegistry, "Capability unbound", "kind", kind, "key", key)
	c.events.Publish(pubsub.UnboundEvent, Lifecycle{Kind: kind, Key: key})
}

// === Introspection ===

// State returns the gate state.
func (c *Coordinator) State() readiness.State {
	return c.gate.State()
}

// Err returns the initialization failure, if any.
func (c *Coordinator) Err() error {
	return c.gate.Err()
}

// Done is closed once initialization reached a terminal state.
func (c *Coordinator) Done() <-chan struct{} {
	return c.gate.Done()
}

// Providers returns a snapshot of the bound providers.
func (c *Coordinator) Providers() capability.Snapshot[datasource.Reader] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.providers.Snapshot()
}

// ProviderKeys returns the bound provider keys in sorted order.
func (c *Coordinator) ProviderKeys() []string {
	return c.Providers().Keys()
}

// Status evaluates p against the bound providers and mandatory slots.
func (c *Coordinator) Status(p requirement.Policy) requirement.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return p.Evaluate(c.providers.Keys(), c.namingCtx, c.configSrc)
}

// Registrations returns the directory registrations made by initialization.
func (c *Coordinator) Registrations() []directory.Registration {
	return c.seq.Registrations()
}

// Subscribe streams lifecycle events until ctx is cancelled.
func (c *Coordinator) Subscribe(ctx context.Context) <-chan pubsub.Event[Lifecycle] {
	return c.events.Subscribe(ctx)
}

// Dropped returns how many lifecycle events slow subscribers missed.
func (c *Coordinator) Dropped() uint64 {
	return c.events.Dropped()
}

// Close stops lifecycle event delivery.
func (c *Coordinator) Close() {
	c.events.Close()
}
