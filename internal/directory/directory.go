// Package directory is the process-wide service directory. Services are
// published under an interface id and stay owned by the directory until they
// are withdrawn or the process exits.
package directory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/datasources/internal/log"
	"github.com/zjrosen/datasources/internal/metrics"
	"github.com/zjrosen/datasources/internal/pubsub"
	"github.com/zjrosen/datasources/internal/tracing"
)

var (
	// ErrInvalidService is returned when publishing an empty id or a nil instance.
	ErrInvalidService = errors.New("invalid service")
	// ErrAlreadyPublished is returned when the interface id is already taken.
	ErrAlreadyPublished = errors.New("service already published")
	// ErrNotPublished is returned by lookups for an unknown interface id.
	ErrNotPublished = errors.New("service not published")
	// ErrTypeMismatch is returned by Get when the published instance does not
	// implement the requested type.
	ErrTypeMismatch = errors.New("service type mismatch")
)

// Registration describes one published service.
type Registration struct {
	ID          string    `json:"id"`
	Interface   string    `json:"interface"`
	PublishedAt time.Time `json:"published_at"`
}

type entry struct {
	reg      Registration
	instance any
}

// Directory maps interface ids to published service instances.
type Directory struct {
	mu       sync.RWMutex
	services map[string]entry

	broker  *pubsub.Broker[Registration]
	tracer  trace.Tracer
	metrics *metrics.Recorder
	now     func() time.Time
}

// Option configures a Directory.
type Option func(*Directory)

// WithTracer sets the tracer used for publish spans.
func WithTracer(t trace.Tracer) Option {
	return func(d *Directory) { d.tracer = t }
}

// WithMetrics sets the recorder for the published-services gauge.
func WithMetrics(m *metrics.Recorder) Option {
	return func(d *Directory) { d.metrics = m }
}

// New creates an empty directory.
func New(opts ...Option) *Directory {
	d := &Directory{
		services: make(map[string]entry),
		broker:   pubsub.NewBroker[Registration](),
		tracer:   tracing.Noop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Publish makes instance available under id.
func (d *Directory) Publish(ctx context.Context, id string, instance any) (Registration, error) {
	_, span := d.tracer.Start(ctx, tracing.SpanDirectoryPublish,
		trace.WithAttributes(attribute.String(tracing.AttrServiceID, id)))
	defer span.End()

	if strings.TrimSpace(id) == "" || instance == nil {
		err := fmt.Errorf("%w: id=%q", ErrInvalidService, id)
		tracing.RecordError(span, err)
		return Registration{}, err
	}

	d.mu.Lock()
	if existing, ok := d.services[id]; ok {
		d.mu.Unlock()
		err := fmt.Errorf("%w: %s (registration %s)", ErrAlreadyPublished, id, existing.reg.ID)
		tracing.RecordError(span, err)
		return Registration{}, err
	}
	reg := Registration{
		ID:          uuid.NewString(),
		Interface:   id,
		PublishedAt: d.now(),
	}
	d.services[id] = entry{reg: reg, instance: instance}
	d.mu.Unlock()

	span.SetAttributes(attribute.String(tracing.AttrRegistration, reg.ID))
	d.metrics.AddPublished(1)
	d.broker.Publish(pubsub.PublishedEvent, reg)
	log.Info(log.CatDirectory, "Service published", "interface", id, "registration", reg.ID)
	return reg, nil
}

// Withdraw removes the service registered by reg. A registration that no
// longer matches the directory's entry is ignored. Returns whether a service
// was removed.
func (d *Directory) Withdraw(reg Registration) bool {
	d.mu.Lock()
	current, ok := d.services[reg.Interface]
	if !ok || current.reg.ID != reg.ID {
		d.mu.Unlock()
		return false
	}
	delete(d.services, reg.Interface)
	d.mu.Unlock()

	d.metrics.AddPublished(-1)
	d.broker.Publish(pubsub.WithdrawnEvent, reg)
	log.Info(log.CatDirectory, "Service withdrawn", "interface", reg.Interface, "registration", reg.ID)
	return true
}

// Lookup returns the instance published under id.
func (d *Directory) Lookup(id string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.services[id]
	return e.instance, ok
}

// Registration returns the registration for id.
func (d *Directory) Registration(id string) (Registration, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.services[id]
	return e.reg, ok
}

// List returns all registrations sorted by interface id.
func (d *Directory) List() []Registration {
	d.mu.RLock()
	regs := make([]Registration, 0, len(d.services))
	for _, e := range d.services {
		regs = append(regs, e.reg)
	}
	d.mu.RUnlock()

	slices.SortFunc(regs, func(a, b Registration) int { return strings.Compare(a.Interface, b.Interface) })
	return regs
}

// Len returns the number of published services.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.services)
}

// Subscribe streams publish and withdraw events until ctx is cancelled.
func (d *Directory) Subscribe(ctx context.Context) <-chan pubsub.Event[Registration] {
	return d.broker.Subscribe(ctx)
}

// Close stops event delivery. Published services stay retrievable.
func (d *Directory) Close() {
	d.broker.Close()
}

// Get looks up id and asserts the instance to T.
func Get[T any](d *Directory, id string) (T, error) {
	var zero T
	inst, ok := d.Lookup(id)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNotPublished, id)
	}
	v, ok := inst.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s holds %T", ErrTypeMismatch, id, inst)
	}
	return v, nil
}
