package readiness

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zjrosen/datasources/internal/log"
	"github.com/zjrosen/datasources/internal/requirement"
)

// Func is the initialization callback guarded by a Gate.
// Returning requirement.ErrUnsatisfiedDependency or a *requirement.UnsatisfiedError
// directly re-arms the gate instead of failing it. The check does not unwrap:
// an initializer failure that merely carries the sentinel in its chain is
// terminal.
type Func func(ctx context.Context) error

// TransitionFunc observes state changes. It is called synchronously on the
// goroutine that performed the transition and must not call back into the gate.
type TransitionFunc func(from, to State)

// Gate runs its Func at most once to completion. Only the caller that wins the
// Waiting -> Firing compare-and-swap executes it; every other Fire is a no-op.
// A failed run pins the gate at Failed: there is no retry and no re-arm.
type Gate struct {
	fn           Func
	onTransition TransitionFunc

	state atomic.Int32
	done  chan struct{}

	mu  sync.Mutex
	err error
}

// Option configures a Gate.
type Option func(*Gate)

// WithTransitionHook registers fn to observe every state change.
func WithTransitionHook(fn TransitionFunc) Option {
	return func(g *Gate) { g.onTransition = fn }
}

// NewGate creates a gate in the Waiting state.
func NewGate(fn Func, opts ...Option) *Gate {
	g := &Gate{
		fn:   fn,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// State returns the current state.
func (g *Gate) State() State {
	return State(g.state.Load())
}

// Err returns the failure that pinned the gate at Failed, or nil.
func (g *Gate) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// Done is closed once the gate reaches Fired or Failed.
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// Fire attempts the Waiting -> Firing transition and, if it wins, runs the
// callback synchronously.
func (g *Gate) Fire(ctx context.Context) Outcome {
	if !g.state.CompareAndSwap(int32(Waiting), int32(Firing)) {
		log.Debug(log.CatGate, "Duplicate readiness trigger ignored", "state", g.State())
		return OutcomeIgnored
	}
	g.notify(Waiting, Firing)

	err := g.run(ctx)

	switch {
	case err == nil:
		g.finish(Fired, nil)
		return OutcomeFired
	case deferrable(err):
		g.state.Store(int32(Waiting))
		g.notify(Firing, Waiting)
		log.Warn(log.CatGate, "Readiness trigger deferred", "reason", err.Error())
		return OutcomeDeferred
	default:
		g.finish(Failed, err)
		return OutcomeFailed
	}
}

// run invokes the callback, converting a panic into an error so a crashing
// initializer still pins the gate at Failed.
func (g *Gate) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("initialization panicked: %v", r)
		}
	}()
	if g.fn == nil {
		return nil
	}
	return g.fn(ctx)
}

// deferrable reports whether err is itself an unsatisfied-dependency error,
// not something wrapping one.
func deferrable(err error) bool {
	if err == requirement.ErrUnsatisfiedDependency { //nolint:errorlint // wrapped sentinels are terminal
		return true
	}
	_, ok := err.(*requirement.UnsatisfiedError) //nolint:errorlint // same
	return ok
}

func (g *Gate) finish(to State, err error) {
	g.mu.Lock()
	g.err = err
	g.mu.Unlock()

	g.state.Store(int32(to))
	g.notify(Firing, to)
	close(g.done)

	if err != nil {
		log.ErrorErr(log.CatGate, "Readiness gate failed", err)
		return
	}
	log.Info(log.CatGate, "Readiness gate fired")
}

func (g *Gate) notify(from, to State) {
	if g.onTransition != nil {
		g.onTransition(from, to)
	}
}
