package datasource

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
	"github.com/zjrosen/datasources/internal/log"
	"github.com/zjrosen/datasources/internal/metrics"
	"github.com/zjrosen/datasources/internal/naming"
	"github.com/zjrosen/datasources/internal/tracing"
)

// PersistFunc stores the full data-source list after a management change.
type PersistFunc func(ctx context.Context, all []Metadata) error

// Manager owns the data-source repository. It is initialized once from the
// configuration source with the readers bound at that moment.
type Manager struct {
	mu          sync.Mutex
	initialized bool
	readers     map[string]Reader
	naming      naming.ContextManager

	repo    *Repository
	tracer  trace.Tracer
	metrics *metrics.Recorder
	persist PersistFunc
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithTracer sets the tracer for creation spans.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// WithMetrics sets the recorder for the active data-source gauge.
func WithMetrics(r *metrics.Recorder) Option {
	return func(m *Manager) { m.metrics = r }
}

// WithPersister writes the data-source list back after Add and Delete.
func WithPersister(fn PersistFunc) Option {
	return func(m *Manager) { m.persist = fn }
}

// NewManager creates an uninitialized manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		repo:   NewRepository(),
		tracer: tracing.Noop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Repository exposes the underlying repository.
func (m *Manager) Repository() *Repository {
	return m.repo
}

// Initialize creates every data source listed under the "datasources"
// namespace of cfg. It either creates all of them or none: on failure the
// already-created objects are closed and unbound. A missing namespace means
// no data sources.
func (m *Manager) Initialize(ctx context.Context, cfg config.Provider, nc naming.ContextManager, readers map[string]Reader) (Service, ManagementService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil, nil, opError("initialize", "", ErrAlreadyInitialized)
	}
	if cfg == nil || nc == nil {
		return nil, nil, opError("initialize", "", errors.New("configuration source and naming context are required"))
	}

	var defs []Metadata
	if err := cfg.ConfigurationObject(config.DataSourcesKey, &defs); err != nil && !errors.Is(err, config.ErrNamespaceNotFound) {
		return nil, nil, opError("initialize", "", fmt.Errorf("reading data-source configuration: %w", err))
	}

	seen := make(map[string]struct{}, len(defs))
	for _, md := range defs {
		if err := md.Validate(); err != nil {
			return nil, nil, opError("initialize", md.Name, err)
		}
		if _, dup := seen[md.Name]; dup {
			return nil, nil, opError("initialize", md.Name, ErrAlreadyExists)
		}
		seen[md.Name] = struct{}{}
	}

	m.readers = maps.Clone(readers)
	m.naming = nc

	var created []*DataSource
	for _, md := range defs {
		md.System = true
		ds, err := m.create(ctx, md)
		if err != nil {
			m.rollback(ctx, created)
			return nil, nil, opError("initialize", md.Name, err)
		}
		created = append(created, ds)
	}

	m.initialized = true
	m.metrics.SetDataSources(m.repo.Len())
	log.Info(log.CatInit, "Data sources initialized", "count", len(created), "readers", slices.Sorted(maps.Keys(m.readers)))

	return &queryService{m: m}, &managementService{m: m}, nil
}

// create builds, binds and stores one data source. The caller holds m.mu.
func (m *Manager) create(ctx context.Context, md Metadata) (*DataSource, error) {
	ctx, span := m.tracer.Start(ctx, tracing.SpanDataSourceCreate, trace.WithAttributes(
		attribute.String(tracing.AttrDataSource, md.Name),
		attribute.String(tracing.AttrDataSourceTyp, md.Definition.Type),
	))
	defer span.End()

	if _, exists := m.repo.Get(md.Name); exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, md.Name)
	}

	obj, err := m.createObject(ctx, md.Definition)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	ds := &DataSource{Metadata: md.Clone(), Object: obj, CreatedAt: m.now()}

	if md.JNDI != nil {
		var bound any = obj
		if md.JNDI.UseReference {
			bound = ds.Metadata
		}
		if err := m.naming.Bind(ctx, md.JNDI.Name, bound); err != nil {
			_ = closeObject(ctx, obj)
			tracing.RecordError(span, err)
			return nil, fmt.Errorf("binding %s: %w", md.JNDI.Name, err)
		}
	}

	if err := m.repo.Add(ds); err != nil {
		m.release(ctx, ds)
		tracing.RecordError(span, err)
		return nil, err
	}

	log.Info(log.CatDB, "Data source created", "name", md.Name, "type", md.Definition.Type)
	return ds, nil
}

func (m *Manager) createObject(ctx context.Context, def Definition) (any, error) {
	r, ok := m.readers[def.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, def.Type)
	}
	obj, err := r.CreateDataSource(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("%s reader: %w", def.Type, err)
	}
	return obj, nil
}

// release unbinds ds from the naming context and closes its object.
func (m *Manager) release(ctx context.Context, ds *DataSource) {
	if ds.Metadata.JNDI != nil {
		if err := m.naming.Unbind(ctx, ds.Metadata.JNDI.Name); err != nil && !errors.Is(err, naming.ErrNameNotBound) {
			log.ErrorErr(log.CatNaming, "Failed to unbind data source", err, "name", ds.Metadata.Name)
		}
	}
	if err := closeObject(ctx, ds.Object); err != nil {
		log.ErrorErr(log.CatDB, "Failed to close data source", err, "name", ds.Metadata.Name)
	}
}

func (m *Manager) rollback(ctx context.Context, created []*DataSource) {
	for _, ds := range slices.Backward(created) {
		m.repo.Remove(ds.Metadata.Name)
		m.release(ctx, ds)
	}
	if len(created) > 0 {
		log.Warn(log.CatInit, "Rolled back partially created data sources", "count", len(created))
	}
}

// Close releases every data source. The manager stays initialized.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ds := range m.repo.List() {
		m.repo.Remove(ds.Metadata.Name)
		if m.naming != nil {
			m.release(ctx, ds)
		} else if err := closeObject(ctx, ds.Object); err != nil {
			log.ErrorErr(log.CatDB, "Failed to close data source", err, "name", ds.Metadata.Name)
		}
	}
	m.metrics.SetDataSources(0)
}

func (m *Manager) metadata() []Metadata {
	list := m.repo.List()
	out := make([]Metadata, 0, len(list))
	for _, ds := range list {
		out = append(out, ds.Metadata.Clone())
	}
	return out
}

func (m *Manager) persistLocked(ctx context.Context) error {
	if m.persist == nil {
		return nil
	}
	all := m.metadata()
	for i := range all {
		all[i].System = false
	}
	if err := m.persist(ctx, all); err != nil {
		return fmt.Errorf("persisting data sources: %w", err)
	}
	return nil
}
