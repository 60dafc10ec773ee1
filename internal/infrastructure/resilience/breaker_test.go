package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBind = errors.New("bind failed")

// fakeClock is advanced by hand so tests never sleep
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func tripAfter(n uint32) func(Counts) bool {
	return func(c Counts) bool { return c.ConsecutiveFailures >= n }
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		requests      []bool // true = success
		expectedState State
	}{
		{"stays closed on successes", []bool{true, true, true}, StateClosed},
		{"opens after consecutive failures", []bool{false, false, false}, StateOpen},
		{"success resets the streak", []bool{false, false, true, false, false}, StateClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			breaker := New("test", Settings{ReadyToTrip: tripAfter(3), Now: newFakeClock().Now})
			for _, ok := range tt.requests {
				_ = breaker.Execute(func() error {
					if ok {
						return nil
					}
					return errBind
				})
			}
			assert.Equal(t, tt.expectedState, breaker.State())
		})
	}
}

func TestBreakerCounts(t *testing.T) {
	breaker := New("test", Settings{Now: newFakeClock().Now})

	require.NoError(t, breaker.Execute(func() error { return nil }))
	counts := breaker.Counts()
	assert.Equal(t, uint32(1), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)

	assert.ErrorIs(t, breaker.Execute(func() error { return errBind }), errBind)
	counts = breaker.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
	assert.Equal(t, uint32(0), counts.ConsecutiveSuccesses)
}

func TestBreakerOpenRejectsWithoutCalling(t *testing.T) {
	breaker := New("test", Settings{ReadyToTrip: tripAfter(2), Now: newFakeClock().Now})
	for i := 0; i < 2; i++ {
		_ = breaker.Execute(func() error { return errBind })
	}
	require.Equal(t, StateOpen, breaker.State())

	called := false
	err := breaker.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	breaker := New("test", Settings{
		MaxRequests: 2,
		Timeout:     time.Second,
		ReadyToTrip: tripAfter(2),
		Now:         clock.Now,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	for i := 0; i < 2; i++ {
		_ = breaker.Execute(func() error { return errBind })
	}
	clock.Advance(2 * time.Second)
	require.Equal(t, StateHalfOpen, breaker.State())

	for i := 0; i < 2; i++ {
		require.NoError(t, breaker.Execute(func() error { return nil }))
	}
	assert.Equal(t, StateClosed, breaker.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	breaker := New("test", Settings{Timeout: time.Second, ReadyToTrip: tripAfter(1), Now: clock.Now})

	_ = breaker.Execute(func() error { return errBind })
	clock.Advance(2 * time.Second)
	require.Equal(t, StateHalfOpen, breaker.State())

	_ = breaker.Execute(func() error { return errBind })
	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreakerIsFailureClassifier(t *testing.T) {
	errCaller := errors.New("caller mistake")
	breaker := New("test", Settings{
		ReadyToTrip: tripAfter(1),
		IsFailure:   func(err error) bool { return err != nil && !errors.Is(err, errCaller) },
		Now:         newFakeClock().Now,
	})

	assert.ErrorIs(t, breaker.Execute(func() error { return errCaller }), errCaller)
	assert.Equal(t, StateClosed, breaker.State())
}

func TestGroupIsolatesKeys(t *testing.T) {
	group := NewGroup(Settings{ReadyToTrip: tripAfter(1), Now: newFakeClock().Now})

	_ = group.Execute("bad::Provider", func() error { return errBind })
	require.NoError(t, group.Execute("good::Provider", func() error { return nil }))

	states := group.States()
	assert.Equal(t, StateOpen, states["bad::Provider"])
	assert.Equal(t, StateClosed, states["good::Provider"])

	group.Reset("bad::Provider")
	assert.Equal(t, StateClosed, group.Get("bad::Provider").State())
}
