// Package api provides the HTTP API over the data-source services and the
// coordinator's readiness state.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/zjrosen/datasources/internal/coordinator"
	"github.com/zjrosen/datasources/internal/datasource"
	"github.com/zjrosen/datasources/internal/journal"
	"github.com/zjrosen/datasources/internal/log"
	"github.com/zjrosen/datasources/internal/pubsub"
	"github.com/zjrosen/datasources/internal/readiness"
	"github.com/zjrosen/datasources/internal/requirement"
)

// Runtime is the host view the API reads from.
type Runtime interface {
	State() readiness.State
	Err() error
	ProviderKeys() []string
	Status() requirement.Status
	Services() (datasource.Service, datasource.ManagementService, bool)
	Subscribe(ctx context.Context) <-chan pubsub.Event[coordinator.Lifecycle]
}

// JournalReader lists journaled lifecycle events.
type JournalReader interface {
	List(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Handler provides HTTP endpoints for the data-source services.
type Handler struct {
	rt          Runtime
	journal     JournalReader
	metrics     http.Handler
	metricsPath string
	eventStream bool
	heartbeat   time.Duration
}

// HandlerConfig configures the API handler.
type HandlerConfig struct {
	// Runtime provides readiness state and the published services (required).
	Runtime Runtime
	// Journal serves GET /journal when set.
	Journal JournalReader
	// Metrics is mounted at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string
	// EventStream enables GET /events.
	EventStream bool
}

// NewHandler creates an API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	path := cfg.MetricsPath
	if path == "" {
		path = "/metrics"
	}
	return &Handler{
		rt:          cfg.Runtime,
		journal:     cfg.Journal,
		metrics:     cfg.Metrics,
		metricsPath: path,
		eventStream: cfg.EventStream,
		heartbeat:   30 * time.Second,
	}
}

// Routes returns an http.Handler with all API routes registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /capabilities", h.Capabilities)

	// Data sources
	mux.HandleFunc("GET /datasources", h.List)
	mux.HandleFunc("POST /datasources", h.Add)
	mux.HandleFunc("POST /datasources/test", h.Test)
	mux.HandleFunc("GET /datasources/{name}", h.Get)
	mux.HandleFunc("DELETE /datasources/{name}", h.Delete)

	if h.journal != nil {
		mux.HandleFunc("GET /journal", h.Journal)
	}
	if h.eventStream {
		mux.HandleFunc("GET /events", h.StreamEvents)
	}
	if h.metrics != nil {
		mux.Handle("GET "+h.metricsPath, h.metrics)
	}
	return mux
}

// === Request/Response Types ===

// ErrorResponse is the response body for errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// HealthResponse is the response body for the health endpoint.
type HealthResponse struct {
	Status string `json:"status"` // ok, waiting, failed
	State  string `json:"state"`
	Error  string `json:"error,omitempty"`
}

// CapabilitiesResponse describes bound capabilities and readiness.
type CapabilitiesResponse struct {
	State     string   `json:"state"`
	Providers []string `json:"providers"`
	Satisfied bool     `json:"satisfied"`
	Missing   []string `json:"missing,omitempty"`
}

// DataSourceResponse is one data source.
type DataSourceResponse struct {
	datasource.Metadata
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	ObjectType string     `json:"object_type,omitempty"`
}

// ListDataSourcesResponse is the response body for listing data sources.
type ListDataSourcesResponse struct {
	DataSources []datasource.Metadata `json:"datasources"`
	Total       int                   `json:"total"`
}

// TestResponse reports a connection test.
type TestResponse struct {
	OK bool `json:"ok"`
}

// JournalResponse is the response body for the journal endpoint.
type JournalResponse struct {
	Entries []journal.Entry `json:"entries"`
	Total   int             `json:"total"`
}

// === Handlers ===

// Health reports readiness.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	state := h.rt.State()
	resp := HealthResponse{State: state.String()}
	status := http.StatusOK

	switch state {
	case readiness.Fired:
		resp.Status = "ok"
	case readiness.Failed:
		resp.Status = "failed"
		if err := h.rt.Err(); err != nil {
			resp.Error = err.Error()
		}
		status = http.StatusServiceUnavailable
	default:
		resp.Status = "waiting"
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}

// Capabilities reports bound providers and the readiness policy result.
// GET /capabilities
func (h *Handler) Capabilities(w http.ResponseWriter, r *http.Request) {
	st := h.rt.Status()
	providers := h.rt.ProviderKeys()
	if providers == nil {
		providers = []string{}
	}
	h.writeJSON(w, http.StatusOK, CapabilitiesResponse{
		State:     h.rt.State().String(),
		Providers: providers,
		Satisfied: st.Satisfied,
		Missing:   st.Missing,
	})
}

// List lists data sources.
// GET /datasources
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	_, mgmt, ok := h.services(w)
	if !ok {
		return
	}
	list := mgmt.ListDataSources()
	if list == nil {
		list = []datasource.Metadata{}
	}
	h.writeJSON(w, http.StatusOK, ListDataSourcesResponse{DataSources: list, Total: len(list)})
}

// Get returns one data source.
// GET /datasources/{name}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	svc, mgmt, ok := h.services(w)
	if !ok {
		return
	}
	name := r.PathValue("name")

	md, err := mgmt.GetDataSource(name)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	resp := DataSourceResponse{Metadata: md}
	if ds, err := svc.GetDataSource(name); err == nil {
		created := ds.CreatedAt
		resp.CreatedAt = &created
		resp.ObjectType = fmt.Sprintf("%T", ds.Object)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Add creates a data source.
// POST /datasources
func (h *Handler) Add(w http.ResponseWriter, r *http.Request) {
	_, mgmt, ok := h.services(w)
	if !ok {
		return
	}
	md, ok := h.decodeMetadata(w, r)
	if !ok {
		return
	}
	if err := mgmt.AddDataSource(r.Context(), md); err != nil {
		h.writeDomainError(w, err)
		return
	}
	log.Info(log.CatAPI, "Data source added", "name", md.Name, "type", md.Definition.Type)
	h.writeJSON(w, http.StatusCreated, md)
}

// Delete removes a data source.
// DELETE /datasources/{name}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	_, mgmt, ok := h.services(w)
	if !ok {
		return
	}
	name := r.PathValue("name")
	if err := mgmt.DeleteDataSource(r.Context(), name); err != nil {
		h.writeDomainError(w, err)
		return
	}
	log.Info(log.CatAPI, "Data source deleted", "name", name)
	w.WriteHeader(http.StatusNoContent)
}

// Test probes a data-source definition without registering it.
// POST /datasources/test
func (h *Handler) Test(w http.ResponseWriter, r *http.Request) {
	_, mgmt, ok := h.services(w)
	if !ok {
		return
	}
	md, ok := h.decodeMetadata(w, r)
	if !ok {
		return
	}
	if err := mgmt.TestDataSource(r.Context(), md); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, TestResponse{OK: true})
}

// Journal lists recent lifecycle events.
// GET /journal?limit=N
func (h *Handler) Journal(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "validation_error", "limit must be a non-negative integer", s)
			return
		}
		limit = n
	}

	entries, err := h.journal.List(r.Context(), limit)
	if err != nil {
		log.ErrorErr(log.CatAPI, "Failed to list journal", err)
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to read journal", err.Error())
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	h.writeJSON(w, http.StatusOK, JournalResponse{Entries: entries, Total: len(entries)})
}

// StreamEvents streams lifecycle events via SSE.
// GET /events
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming_unsupported", "Streaming not supported", "")
		return
	}

	ctx := r.Context()
	events := h.rt.Subscribe(ctx)

	_, _ = fmt.Fprintf(w, "event: connected\ndata: {\"state\":%q}\n\n", h.rt.State())
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event.Payload)
			if err != nil {
				log.Error(log.CatAPI, "Failed to marshal event", "error", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// === Helpers ===

// services returns the published services or writes 503.
func (h *Handler) services(w http.ResponseWriter) (datasource.Service, datasource.ManagementService, bool) {
	svc, mgmt, ok := h.rt.Services()
	if !ok {
		h.writeError(w, http.StatusServiceUnavailable, "service_unavailable",
			"Data-source services are not available", "state: "+h.rt.State().String())
		return nil, nil, false
	}
	return svc, mgmt, true
}

func (h *Handler) decodeMetadata(w http.ResponseWriter, r *http.Request) (datasource.Metadata, bool) {
	var md datasource.Metadata
	if err := json.NewDecoder(r.Body).Decode(&md); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
		return md, false
	}
	if err := md.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", err.Error(), "")
		return md, false
	}
	// System is reserved for configuration-sourced entries.
	md.System = false
	return md, true
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, datasource.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", err.Error(), "")
	case errors.Is(err, datasource.ErrAlreadyExists):
		h.writeError(w, http.StatusConflict, "already_exists", err.Error(), "")
	case errors.Is(err, datasource.ErrSystemDataSource):
		h.writeError(w, http.StatusForbidden, "system_datasource", err.Error(), "")
	case errors.Is(err, datasource.ErrInvalidMetadata), errors.Is(err, datasource.ErrUnknownType):
		h.writeError(w, http.StatusBadRequest, "validation_error", err.Error(), "")
	case errors.Is(err, datasource.ErrTestUnsupported):
		h.writeError(w, http.StatusNotImplemented, "test_unsupported", err.Error(), "")
	default:
		log.ErrorErr(log.CatAPI, "Data-source operation failed", err)
		h.writeError(w, http.StatusUnprocessableEntity, "operation_failed", "Data-source operation failed", err.Error())
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error(log.CatAPI, "Failed to encode JSON response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, details string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}
