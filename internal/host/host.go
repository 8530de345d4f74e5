// Package host is the in-process capability runtime. It binds the naming
// context, the configuration source and every compiled-in data-source reader
// into the coordinator, and triggers readiness once its policy is met.
package host

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/datasources/internal/config"
	"github.com/zjrosen/datasources/internal/coordinator"
	"github.com/zjrosen/datasources/internal/datasource"
	"github.com/zjrosen/datasources/internal/directory"
	"github.com/zjrosen/datasources/internal/flags"
	"github.com/zjrosen/datasources/internal/journal"
	"github.com/zjrosen/datasources/internal/log"
	"github.com/zjrosen/datasources/internal/metrics"
	"github.com/zjrosen/datasources/internal/naming"
	"github.com/zjrosen/datasources/internal/pubsub"
	"github.com/zjrosen/datasources/internal/readiness"
	"github.com/zjrosen/datasources/internal/requirement"
	"github.com/zjrosen/datasources/internal/sequencer"
	"github.com/zjrosen/datasources/internal/tracing"
	"github.com/zjrosen/datasources/internal/watcher"
)

const droppedInterval = 15 * time.Second

// Config configures a Host.
type Config struct {
	// Settings holds the host policy section and feature flags.
	Settings config.HostConfig
	Flags    *flags.Registry

	// ConfigSource is bound to the configuration-source slot.
	ConfigSource config.Provider

	// ConfigPath enables config hot-swap and data-source persistence.
	ConfigPath string

	// Naming is bound to the naming-context slot. Defaults to an in-memory context.
	Naming naming.ContextManager

	// Journal receives lifecycle events when the journal flag is on.
	Journal *journal.Journal

	Tracer  trace.Tracer
	Metrics *metrics.Recorder

	// Readers overrides the reader catalog. Keys are provider types.
	Readers map[string]datasource.Reader
}

// Host owns the coordinator and the services it publishes.
type Host struct {
	cfg       Config
	dir       *directory.Directory
	manager   *datasource.Manager
	coord     *coordinator.Coordinator
	triggered atomic.Bool

	mu        sync.Mutex
	policy    requirement.Policy
	configSrc config.Provider
	readers   map[string]datasource.Reader
	watcher   *watcher.Watcher
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   bool
}

// New creates a host. It does not bind anything until Start.
func New(cfg Config) (*Host, error) {
	policy := cfg.Settings.Policy()
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid host policy: %w", err)
	}
	if cfg.ConfigSource == nil {
		return nil, errors.New("configuration source is required")
	}
	if cfg.Naming == nil {
		cfg.Naming = naming.NewCacheContext()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracing.Noop()
	}

	h := &Host{cfg: cfg, policy: policy}

	managerOpts := []datasource.Option{
		datasource.WithTracer(cfg.Tracer),
		datasource.WithMetrics(cfg.Metrics),
	}
	if cfg.Flags.Enabled(flags.FlagPersistDataSources) && cfg.ConfigPath != "" {
		managerOpts = append(managerOpts, datasource.WithPersister(h.persist))
	}
	h.manager = datasource.NewManager(managerOpts...)
	h.dir = directory.New(directory.WithTracer(cfg.Tracer), directory.WithMetrics(cfg.Metrics))
	h.coord = coordinator.New(
		sequencer.ManagerInitializer(h.manager),
		h.dir,
		coordinator.WithTracer(cfg.Tracer),
		coordinator.WithMetrics(cfg.Metrics),
	)
	return h, nil
}

// Coordinator returns the coordinator.
func (h *Host) Coordinator() *coordinator.Coordinator { return h.coord }

// Directory returns the service directory.
func (h *Host) Directory() *directory.Directory { return h.dir }

// Journal returns the lifecycle journal, or nil.
func (h *Host) Journal() *journal.Journal { return h.cfg.Journal }

// Policy returns the readiness policy. Until Start it is the configured
// policy; afterwards an empty required_providers list has been replaced by
// every provider type the host binds.
func (h *Host) Policy() requirement.Policy {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.policy
}

// Start binds every capability concurrently. Readiness is triggered from
// whichever bind first satisfies the policy. With no required providers
// configured, the policy waits for every provider the host instantiates.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return errors.New("host already started")
	}
	h.started = true
	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.cancel = cancel
	h.configSrc = h.cfg.ConfigSource
	h.mu.Unlock()

	if h.cfg.Journal != nil && h.cfg.Flags.Enabled(flags.FlagJournal) {
		h.followJournal(bgCtx)
	}

	readers, err := h.instantiateReaders()
	if err != nil {
		return err
	}
	if len(h.cfg.Settings.RequiredProviders) == 0 {
		h.mu.Lock()
		h.policy.RequiredProviders = slices.Sorted(maps.Keys(readers))
		h.mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := h.coord.BindNamingContext(h.cfg.Naming); err != nil {
			return err
		}
		h.evaluate(gctx)
		return nil
	})
	g.Go(func() error {
		if err := h.coord.BindConfigProvider(h.cfg.ConfigSource); err != nil {
			return err
		}
		h.evaluate(gctx)
		return nil
	})
	for key, r := range readers {
		g.Go(func() error {
			if err := h.coord.BindProvider(key, r); err != nil {
				return err
			}
			h.evaluate(gctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("binding capabilities: %w", err)
	}

	log.Info(log.CatHost, "Capabilities bound", "providers", h.coord.ProviderKeys(), "state", h.coord.State())

	if h.cfg.Metrics != nil {
		h.watchDropped(bgCtx, droppedInterval)
	}
	if d := h.cfg.Settings.ReadinessTimeout; d > 0 {
		h.watchReadiness(bgCtx, d)
	}
	if h.cfg.ConfigPath != "" && h.cfg.Flags.Enabled(flags.FlagConfigWatch) {
		if err := h.watchConfig(bgCtx); err != nil {
			log.ErrorErr(log.CatHost, "Config watch disabled", err, "path", h.cfg.ConfigPath)
		}
	}
	return nil
}

// instantiateReaders builds one reader per catalog type, minus the disabled
// ones.
func (h *Host) instantiateReaders() (map[string]datasource.Reader, error) {
	readers := make(map[string]datasource.Reader)
	if h.cfg.Readers != nil {
		maps.Copy(readers, h.cfg.Readers)
	} else {
		for _, typ := range datasource.RegisteredReaders() {
			r, err := datasource.NewReader(typ)
			if err != nil {
				return nil, err
			}
			readers[typ] = r
		}
	}
	for _, typ := range h.cfg.Settings.DisabledProviders {
		if _, ok := readers[typ]; ok {
			delete(readers, typ)
			log.Info(log.CatHost, "Provider disabled by configuration", "type", typ)
		}
	}

	h.mu.Lock()
	h.readers = readers
	h.mu.Unlock()
	return readers, nil
}

// evaluate fires readiness the first time the policy holds. A deferred fire
// re-arms the trigger so a later bind can try again.
func (h *Host) evaluate(ctx context.Context) {
	status := h.coord.Status(h.Policy())
	if !status.Satisfied {
		log.Debug(log.CatHost, "Readiness policy not yet satisfied", "missing", status.Missing)
		return
	}
	if !h.triggered.CompareAndSwap(false, true) {
		return
	}

	out := h.coord.OnAllRequiredCapabilitiesAvailable(ctx)
	log.Info(log.CatHost, "Readiness triggered", "outcome", out)
	if out == readiness.OutcomeDeferred {
		h.triggered.Store(false)
	}
}

func (h *Host) watchReadiness(ctx context.Context, d time.Duration) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-h.coord.Done():
		case <-timer.C:
			status := h.coord.Status(h.Policy())
			log.Warn(log.CatHost, "Readiness not reached within timeout; still waiting",
				"timeout", d, "missing", status.Missing, "state", h.coord.State())
		}
	}()
}

// watchDropped exports the coordinator's dropped-event count.
func (h *Host) watchDropped(ctx context.Context, every time.Duration) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		var last uint64
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n := h.coord.Dropped()
				h.cfg.Metrics.AddDropped(n - last)
				last = n
			}
		}
	}()
}

func (h *Host) followJournal(ctx context.Context) {
	events := h.coord.Subscribe(ctx)
	j := h.cfg.Journal
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		pubsub.Forward(ctx, events, func(ev pubsub.Event[coordinator.Lifecycle]) {
			if _, err := j.Record(ctx, EntryFor(ev)); err != nil && ctx.Err() == nil {
				log.ErrorErr(log.CatJournal, "Failed to record lifecycle event", err, "type", ev.Type)
			}
		})
	}()
}

// EntryFor converts a lifecycle event into a journal entry.
func EntryFor(ev pubsub.Event[coordinator.Lifecycle]) journal.Entry {
	p := ev.Payload
	detail := p.Message
	switch {
	case ev.Type == pubsub.StateEvent:
		detail = p.From + " -> " + p.To
	case p.Late:
		detail = "late bind"
	case ev.Type == pubsub.DiagnosticEvent && p.To != "":
		detail = p.To + ": " + p.Message
	}
	return journal.Entry{
		Type:       string(ev.Type),
		Kind:       p.Kind,
		Key:        p.Key,
		Detail:     detail,
		RecordedAt: ev.Timestamp,
	}
}

func (h *Host) watchConfig(ctx context.Context) error {
	w, err := watcher.New(watcher.DefaultConfig(h.cfg.ConfigPath))
	if err != nil {
		return err
	}
	changes, err := w.Start()
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.watcher = w
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				if err := h.ReloadConfig(ctx); err != nil {
					log.ErrorErr(log.CatHost, "Config reload failed", err, "path", h.cfg.ConfigPath)
				}
			}
		}
	}()
	log.Info(log.CatHost, "Watching configuration", "path", h.cfg.ConfigPath)
	return nil
}

// ReloadConfig loads the config file and swaps the configuration source. The
// new source is bound before the old one is unbound so the slot never empties.
func (h *Host) ReloadConfig(ctx context.Context) error {
	if h.cfg.ConfigPath == "" {
		return errors.New("no config path")
	}
	next, err := config.LoadProvider(h.cfg.ConfigPath)
	if err != nil {
		return err
	}
	return h.SwapConfig(ctx, next)
}

// SwapConfig replaces the bound configuration source with next.
func (h *Host) SwapConfig(ctx context.Context, next config.Provider) error {
	h.mu.Lock()
	prev := h.configSrc
	h.configSrc = next
	h.mu.Unlock()

	if err := h.coord.BindConfigProvider(next); err != nil {
		return err
	}
	if prev != nil {
		h.coord.UnbindConfigProvider(prev)
	}
	log.Info(log.CatConfig, "Configuration source swapped", "state", h.coord.State())
	h.evaluate(ctx)
	return nil
}

// ConfigSource returns the bound configuration source.
func (h *Host) ConfigSource() config.Provider {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.configSrc
}

func (h *Host) persist(_ context.Context, all []datasource.Metadata) error {
	return config.SaveDataSources(h.cfg.ConfigPath, all)
}

// Stop withdraws the published services, unbinds every capability and
// closes the data sources.
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = false
	cancel, w := h.cancel, h.watcher
	readers := h.readers
	cfgSrc := h.configSrc
	h.mu.Unlock()

	var errs []error
	if w != nil {
		if err := w.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping watcher: %w", err))
		}
	}

	for _, reg := range h.coord.Registrations() {
		h.dir.Withdraw(reg)
	}

	for _, k := range slices.Sorted(maps.Keys(readers)) {
		h.coord.UnbindProvider(k, readers[k])
	}
	h.coord.UnbindNamingContext(h.cfg.Naming)
	if cfgSrc != nil {
		h.coord.UnbindConfigProvider(cfgSrc)
	}

	h.manager.Close(ctx)

	cancel()
	h.wg.Wait()
	h.coord.Close()
	h.dir.Close()

	log.Info(log.CatHost, "Host stopped")
	return errors.Join(errs...)
}

// === Runtime view ===

// State returns the readiness state.
func (h *Host) State() readiness.State { return h.coord.State() }

// Err returns the initialization failure, if any.
func (h *Host) Err() error { return h.coord.Err() }

// ProviderKeys returns the bound provider keys.
func (h *Host) ProviderKeys() []string { return h.coord.ProviderKeys() }

// Status evaluates the host policy against the bound capabilities.
func (h *Host) Status() requirement.Status { return h.coord.Status(h.Policy()) }

// Services returns the published services. ok is false until both are
// published.
func (h *Host) Services() (datasource.Service, datasource.ManagementService, bool) {
	svc, err := directory.Get[datasource.Service](h.dir, datasource.ServiceID)
	if err != nil {
		return nil, nil, false
	}
	mgmt, err := directory.Get[datasource.ManagementService](h.dir, datasource.ManagementServiceID)
	if err != nil {
		return nil, nil, false
	}
	return svc, mgmt, true
}

// Subscribe streams coordinator lifecycle events until ctx is cancelled.
func (h *Host) Subscribe(ctx context.Context) <-chan pubsub.Event[coordinator.Lifecycle] {
	return h.coord.Subscribe(ctx)
}
