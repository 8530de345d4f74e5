package directory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/datasources/internal/pubsub"
)

type greeter interface{ Greet() string }

type english struct{}

func (english) Greet() string { return "hello" }

// === Unit Tests: Publish ===

func TestDirectory_PublishAndGet(t *testing.T) {
	d := New()
	reg, err := d.Publish(context.Background(), "greeter", english{})
	require.NoError(t, err)
	require.NotEmpty(t, reg.ID)
	require.Equal(t, "greeter", reg.Interface)
	require.False(t, reg.PublishedAt.IsZero())

	g, err := Get[greeter](d, "greeter")
	require.NoError(t, err)
	require.Equal(t, "hello", g.Greet())

	got, ok := d.Registration("greeter")
	require.True(t, ok)
	require.Equal(t, reg, got)
}

func TestDirectory_Publish_RejectsInvalid(t *testing.T) {
	d := New()

	_, err := d.Publish(context.Background(), "", english{})
	require.ErrorIs(t, err, ErrInvalidService)

	_, err = d.Publish(context.Background(), "greeter", nil)
	require.ErrorIs(t, err, ErrInvalidService)

	require.Equal(t, 0, d.Len())
}

func TestDirectory_Publish_DuplicateID(t *testing.T) {
	d := New()
	_, err := d.Publish(context.Background(), "greeter", english{})
	require.NoError(t, err)

	_, err = d.Publish(context.Background(), "greeter", english{})
	require.ErrorIs(t, err, ErrAlreadyPublished)
	require.Equal(t, 1, d.Len())
}

// === Unit Tests: Lookup ===

func TestGet_Errors(t *testing.T) {
	d := New()
	_, err := Get[greeter](d, "missing")
	require.ErrorIs(t, err, ErrNotPublished)

	_, err = d.Publish(context.Background(), "number", 42)
	require.NoError(t, err)
	_, err = Get[greeter](d, "number")
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestDirectory_List_Sorted(t *testing.T) {
	d := New()
	for _, id := range []string{"zeta", "alpha", "mid"} {
		_, err := d.Publish(context.Background(), id, english{})
		require.NoError(t, err)
	}

	regs := d.List()
	require.Len(t, regs, 3)
	require.Equal(t, "alpha", regs[0].Interface)
	require.Equal(t, "mid", regs[1].Interface)
	require.Equal(t, "zeta", regs[2].Interface)
}

// === Unit Tests: Withdraw ===

func TestDirectory_Withdraw(t *testing.T) {
	d := New()
	reg, err := d.Publish(context.Background(), "greeter", english{})
	require.NoError(t, err)

	require.True(t, d.Withdraw(reg))
	require.False(t, d.Withdraw(reg), "second withdraw is a no-op")
	_, ok := d.Lookup("greeter")
	require.False(t, ok)
}

func TestDirectory_Withdraw_StaleRegistrationIgnored(t *testing.T) {
	d := New()
	old, err := d.Publish(context.Background(), "greeter", english{})
	require.NoError(t, err)
	require.True(t, d.Withdraw(old))

	fresh, err := d.Publish(context.Background(), "greeter", english{})
	require.NoError(t, err)

	require.False(t, d.Withdraw(old))
	got, ok := d.Registration("greeter")
	require.True(t, ok)
	require.Equal(t, fresh.ID, got.ID)
}

// === Unit Tests: Events ===

func TestDirectory_Subscribe(t *testing.T) {
	d := New()
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := d.Subscribe(ctx)

	reg, err := d.Publish(context.Background(), "greeter", english{})
	require.NoError(t, err)
	d.Withdraw(reg)

	for _, want := range []pubsub.EventType{pubsub.PublishedEvent, pubsub.WithdrawnEvent} {
		select {
		case ev := <-ch:
			require.Equal(t, want, ev.Type)
			require.Equal(t, reg.ID, ev.Payload.ID)
		case <-time.After(time.Second):
			require.Failf(t, "timeout", "waiting for %s", want)
		}
	}
}

// === Concurrency Tests ===

func TestDirectory_ConcurrentPublishSameID(t *testing.T) {
	d := New()
	const n = 16

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Publish(context.Background(), "greeter", english{}); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, success)
	require.Equal(t, 1, d.Len())
}
