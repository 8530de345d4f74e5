package coordinator

import (
	"github.com/zjrosen/datasources/internal/pubsub"
	"github.com/zjrosen/datasources/internal/sequencer"
)

// Capability kinds carried by lifecycle events.
const (
	KindProvider = "provider"
	KindNaming   = "naming"
	KindConfig   = "config"
	KindGate     = "gate"
	KindInit     = "init"
)

// Lifecycle is the payload of every coordinator event.
type Lifecycle struct {
	Kind string `json:"kind"`
	// Key is the provider key, the slot name, or the service id.
	Key string `json:"key,omitempty"`
	// From and To are gate states on StateEvent.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
	// Late is set on binds that arrive after the initialization snapshot.
	Late    bool   `json:"late,omitempty"`
	Message string `json:"message,omitempty"`
}

// diagnostics adapts the lifecycle broker to the sequencer's diagnostic sink.
type diagnostics struct {
	broker *pubsub.Broker[Lifecycle]
}

func (d diagnostics) Publish(_ pubsub.EventType, diag sequencer.Diagnostic) {
	msg := ""
	if diag.Err != nil {
		msg = diag.Err.Error()
	}
	d.broker.Publish(pubsub.DiagnosticEvent, Lifecycle{
		Kind:    KindInit,
		Key:     diag.Service,
		To:      string(diag.Stage),
		Message: msg,
	})
}
