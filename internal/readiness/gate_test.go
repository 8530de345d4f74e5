package readiness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/datasources/internal/requirement"
)

// === Unit Tests: State ===

func TestState_Transitions(t *testing.T) {
	require.True(t, Waiting.CanTransitionTo(Firing))
	require.False(t, Waiting.CanTransitionTo(Fired))
	require.True(t, Firing.CanTransitionTo(Waiting))
	require.True(t, Firing.CanTransitionTo(Fired))
	require.True(t, Firing.CanTransitionTo(Failed))
	require.False(t, Fired.CanTransitionTo(Waiting))
	require.False(t, Failed.CanTransitionTo(Firing))

	require.True(t, Fired.IsTerminal())
	require.True(t, Failed.IsTerminal())
	require.False(t, Waiting.IsTerminal())
	require.False(t, Firing.IsTerminal())

	require.Equal(t, "waiting", Waiting.String())
	require.Equal(t, "failed", Failed.String())
	require.Equal(t, "deferred", OutcomeDeferred.String())
}

// === Unit Tests: Fire ===

func TestGate_Fire_Success(t *testing.T) {
	var calls atomic.Int32
	g := NewGate(func(context.Context) error {
		calls.Add(1)
		return nil
	})

	require.Equal(t, Waiting, g.State())
	require.Equal(t, OutcomeFired, g.Fire(context.Background()))
	require.Equal(t, Fired, g.State())
	require.NoError(t, g.Err())
	require.EqualValues(t, 1, calls.Load())

	select {
	case <-g.Done():
	default:
		require.Fail(t, "Done should be closed after firing")
	}

	require.Equal(t, OutcomeIgnored, g.Fire(context.Background()))
	require.EqualValues(t, 1, calls.Load())
}

func TestGate_Fire_FailureIsTerminal(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32
	g := NewGate(func(context.Context) error {
		calls.Add(1)
		return boom
	})

	require.Equal(t, OutcomeFailed, g.Fire(context.Background()))
	require.Equal(t, Failed, g.State())
	require.ErrorIs(t, g.Err(), boom)

	require.Equal(t, OutcomeIgnored, g.Fire(context.Background()))
	require.EqualValues(t, 1, calls.Load(), "a failed gate must not retry")
}

func TestGate_Fire_PanicBecomesFailure(t *testing.T) {
	g := NewGate(func(context.Context) error {
		panic("initializer exploded")
	})

	require.Equal(t, OutcomeFailed, g.Fire(context.Background()))
	require.Equal(t, Failed, g.State())
	require.ErrorContains(t, g.Err(), "initializer exploded")
}

func TestGate_Fire_UnsatisfiedRearms(t *testing.T) {
	ready := atomic.Bool{}
	var calls atomic.Int32
	g := NewGate(func(context.Context) error {
		calls.Add(1)
		if !ready.Load() {
			return &requirement.UnsatisfiedError{Missing: []string{requirement.SlotConfigSource}}
		}
		return nil
	})

	require.Equal(t, OutcomeDeferred, g.Fire(context.Background()))
	require.Equal(t, Waiting, g.State())
	require.NoError(t, g.Err())

	ready.Store(true)
	require.Equal(t, OutcomeFired, g.Fire(context.Background()))
	require.Equal(t, Fired, g.State())
	require.EqualValues(t, 2, calls.Load())
}

func TestGate_Fire_WrappedUnsatisfiedIsTerminal(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"wrapped sentinel", fmt.Errorf("reader: %w", requirement.ErrUnsatisfiedDependency)},
		{"wrapped typed error", fmt.Errorf("reader: %w", &requirement.UnsatisfiedError{Missing: []string{"provider:ldap"}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			g := NewGate(func(context.Context) error {
				calls.Add(1)
				return tt.err
			})

			require.Equal(t, OutcomeFailed, g.Fire(context.Background()))
			require.Equal(t, Failed, g.State())
			require.ErrorIs(t, g.Err(), requirement.ErrUnsatisfiedDependency)

			require.Equal(t, OutcomeIgnored, g.Fire(context.Background()))
			require.EqualValues(t, 1, calls.Load())
		})
	}
}

func TestGate_Fire_NilFunc(t *testing.T) {
	g := NewGate(nil)
	require.Equal(t, OutcomeFired, g.Fire(context.Background()))
}

func TestGate_TransitionHook(t *testing.T) {
	var (
		mu   sync.Mutex
		seen [][2]State
	)
	g := NewGate(func(context.Context) error { return nil }, WithTransitionHook(func(from, to State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, [2]State{from, to})
	}))

	g.Fire(context.Background())
	require.Equal(t, [][2]State{{Waiting, Firing}, {Firing, Fired}}, seen)
}

// === Concurrency Tests ===

func TestGate_ConcurrentFire_RunsOnce(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	g := NewGate(func(context.Context) error {
		calls.Add(1)
		<-release
		return nil
	})

	const n = 32
	outcomes := make(chan Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes <- g.Fire(context.Background())
		}()
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()
	close(outcomes)

	fired := 0
	for o := range outcomes {
		switch o {
		case OutcomeFired:
			fired++
		case OutcomeIgnored:
		default:
			require.Failf(t, "unexpected outcome", "%s", o)
		}
	}
	require.Equal(t, 1, fired)
	require.EqualValues(t, 1, calls.Load())
}

// === Property-Based Tests ===

func TestGate_Property_AtMostOneSuccessfulRun(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var runs atomic.Int32
		// Each attempt decides whether dependencies are present and whether
		// initialization fails.
		plan := rapid.SliceOfN(rapid.IntRange(0, 2), 1, 20).Draw(t, "plan")
		i := 0
		g := NewGate(func(context.Context) error {
			step := plan[i]
			runs.Add(1)
			switch step {
			case 0:
				return requirement.ErrUnsatisfiedDependency
			case 1:
				return errors.New("init failed")
			default:
				return nil
			}
		})

		terminalRuns := 0
		for i = 0; i < len(plan); i++ {
			before := runs.Load()
			out := g.Fire(context.Background())
			ran := runs.Load() > before
			if g.State().IsTerminal() && ran {
				terminalRuns++
			}
			if out == OutcomeIgnored && ran {
				t.Fatalf("ignored fire must not run the callback")
			}
		}
		if terminalRuns > 1 {
			t.Fatalf("callback reached a terminal result %d times", terminalRuns)
		}
	})
}
