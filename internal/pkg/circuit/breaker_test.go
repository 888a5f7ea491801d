package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("test", threshold, cooldown)
	cb.now = clock.Now
	return cb, clock
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)
	for i := 0; i < 2; i++ {
		require.True(t, cb.Allow())
		cb.RecordFailure()
	}
	assert.Equal(t, StateClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Minute)
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(time.Minute)
	assert.True(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.False(t, cb.Allow(), "second caller must wait for the probe")

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Second)
	cb.RecordFailure()
	clock.Advance(2 * time.Second)
	require.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestExecuteSkipsUncountedErrors(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Minute)
	blocked := errors.New("blocked")
	err := cb.Execute(func() error { return blocked }, func(err error) bool { return !errors.Is(err, blocked) })
	assert.ErrorIs(t, err, blocked)
	assert.Equal(t, StateClosed, cb.State())

	err = cb.Execute(func() error { return errors.New("down") }, nil)
	assert.Error(t, err)
	assert.ErrorIs(t, cb.Execute(func() error { return nil }, nil), ErrOpen)
}

func TestStateChangeHandler(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Minute)
	got := make(chan State, 1)
	cb.SetStateChangeHandler(func(_ string, _, to State, _ int) { got <- to })
	cb.RecordFailure()
	select {
	case to := <-got:
		assert.Equal(t, StateOpen, to)
	case <-time.After(time.Second):
		t.Fatal("handler not invoked")
	}
}
