// Package flags provides feature flag support for optional daemon subsystems.
// Flags are read-only after initialization and default to disabled.
package flags

import (
	"maps"
	"slices"

	"github.com/zjrosen/datasources/internal/log"
)

// Flag name constants.
const (
	// FlagJournal persists lifecycle events to the sqlite journal.
	FlagJournal = "journal"

	// FlagConfigWatch hot-swaps the configuration source when its file changes.
	FlagConfigWatch = "config-watch"

	// FlagEventStream exposes lifecycle events over server-sent events.
	FlagEventStream = "event-stream"

	// FlagPersistDataSources writes management-API changes back to the config file.
	FlagPersistDataSources = "persist-datasources"
)

// Known lists every flag the daemon reads.
var Known = []string{FlagJournal, FlagConfigWatch, FlagEventStream, FlagPersistDataSources}

// Registry holds feature flag state loaded from configuration.
type Registry struct {
	flags map[string]bool
}

// New creates a Registry from a config map. A nil map disables every flag.
func New(flags map[string]bool) *Registry {
	r := &Registry{flags: maps.Clone(flags)}
	if r.flags == nil {
		r.flags = make(map[string]bool)
	}
	for name := range r.flags {
		if !slices.Contains(Known, name) {
			log.Warn(log.CatConfig, "Unknown feature flag in config", "flag", name)
		}
	}
	log.Debug(log.CatConfig, "Feature flags initialized", "count", len(r.flags), "flags", r.All())
	return r
}

// Enabled reports whether the named flag is on. Unknown flags and a nil
// registry report false.
func (r *Registry) Enabled(name string) bool {
	if r == nil {
		return false
	}
	return r.flags[name]
}

// All returns a copy of all flags.
func (r *Registry) All() map[string]bool {
	if r == nil {
		return make(map[string]bool)
	}
	return maps.Clone(r.flags)
}
