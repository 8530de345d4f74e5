// Package readiness provides Gate, a one-shot trigger that runs an
// initialization callback exactly once when the host signals that every
// required capability is present.
package readiness

// State is the lifecycle state of a Gate.
// Valid transitions:
//
//	Waiting -> Firing
//	Firing  -> Waiting (dependency missing at fire time), Fired, Failed
//	Fired   -> (terminal)
//	Failed  -> (terminal)
type State int32

const (
	// Waiting means the gate has not fired yet.
	Waiting State = iota
	// Firing means one caller won the transition and is running initialization.
	Firing
	// Fired means initialization succeeded.
	Fired
	// Failed means initialization failed; the gate never re-arms.
	Failed
)

var validTransitions = map[State]map[State]bool{
	Waiting: {Firing: true},
	Firing:  {Waiting: true, Fired: true, Failed: true},
	Fired:   {},
	Failed:  {},
}

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Firing:
		return "firing"
	case Fired:
		return "fired"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal returns true for Fired and Failed.
func (s State) IsTerminal() bool {
	return s == Fired || s == Failed
}

// CanTransitionTo reports whether s -> target is a legal transition.
func (s State) CanTransitionTo(target State) bool {
	return validTransitions[s][target]
}

// Outcome describes what a single Fire call did.
type Outcome int

const (
	// OutcomeIgnored: another caller already won, or the gate is terminal.
	OutcomeIgnored Outcome = iota
	// OutcomeDeferred: a mandatory dependency was missing; the gate re-armed.
	OutcomeDeferred
	// OutcomeFired: this call ran initialization and it succeeded.
	OutcomeFired
	// OutcomeFailed: this call ran initialization and it failed.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeFired:
		return "fired"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}
