package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_outcomes_total"}, []string{"kind", "outcome"})
}

func TestGuard_Order(t *testing.T) {
	var calls []string
	g := NewGuard(nil, nil)

	outcome, err := g.Run(context.Background(), Entry{
		Kind: "debt",
		Key:  "k1",
		Apply: func(context.Context) error {
			calls = append(calls, "apply")
			return nil
		},
		MarkProcessed: func(context.Context) error {
			calls = append(calls, "mark")
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, []string{"apply", "mark"}, calls)
}

func TestGuard_SkipsProcessed(t *testing.T) {
	g := NewGuard(nil, nil)
	outcome, err := g.Run(context.Background(), Entry{
		Kind:      "debt",
		Key:       "k1",
		Processed: true,
		Apply: func(context.Context) error {
			t.Fatal("apply must not run for a processed entry")
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, Skipped, outcome)
}

func TestGuard_FailureLeavesFlagUnset(t *testing.T) {
	g := NewGuard(nil, nil)
	marked := false
	boom := errors.New("boom")

	outcome, err := g.Run(context.Background(), Entry{
		Kind:          "settlement",
		Key:           "k1",
		Apply:         func(context.Context) error { return boom },
		MarkProcessed: func(context.Context) error { marked = true; return nil },
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Failed, outcome)
	assert.False(t, marked)
}

func TestGuard_Deferred(t *testing.T) {
	counter := newCounter()
	g := NewGuard(counter, nil)
	marked := false

	outcome, err := g.Run(context.Background(), Entry{
		Kind:          "settlement",
		Key:           "k1",
		Apply:         func(context.Context) error { return fmt.Errorf("no default account: %w", ErrDeferred) },
		MarkProcessed: func(context.Context) error { marked = true; return nil },
	})
	assert.ErrorIs(t, err, ErrDeferred)
	assert.Equal(t, Deferred, outcome)
	assert.False(t, marked)
}

func TestGuard_ContainsPanics(t *testing.T) {
	g := NewGuard(nil, nil)
	outcome, err := g.Run(context.Background(), Entry{
		Kind:  "debt",
		Key:   "k1",
		Apply: func(context.Context) error { panic("bad payload") },
	})
	assert.Error(t, err)
	assert.Equal(t, Failed, outcome)

	// The key is released after a panic.
	outcome, err = g.Run(context.Background(), Entry{Kind: "debt", Key: "k1", Apply: func(context.Context) error { return nil }})
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
}

func TestGuard_ConcurrentDeliveriesApplyOnce(t *testing.T) {
	g := NewGuard(nil, nil)
	release := make(chan struct{})
	started := make(chan struct{})
	var mu sync.Mutex
	applied := 0

	first := make(chan Outcome, 1)
	go func() {
		outcome, _ := g.Run(context.Background(), Entry{
			Kind: "debt",
			Key:  "k1",
			Apply: func(context.Context) error {
				close(started)
				<-release
				mu.Lock()
				applied++
				mu.Unlock()
				return nil
			},
		})
		first <- outcome
	}()

	<-started
	outcome, err := g.Run(context.Background(), Entry{
		Kind:  "debt",
		Key:   "k1",
		Apply: func(context.Context) error { t.Error("duplicate apply"); return nil },
	})
	require.NoError(t, err)
	assert.Equal(t, InFlight, outcome)

	// Same key under another kind is independent.
	outcome, err = g.Run(context.Background(), Entry{Kind: "settlement", Key: "k1", Apply: func(context.Context) error { return nil }})
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)

	close(release)
	assert.Equal(t, Applied, <-first)
	assert.Equal(t, 1, applied)
}
