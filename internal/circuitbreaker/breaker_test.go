package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/callwatch/internal/metrics"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func transitions(t *testing.T, key, from, to string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.BreakerTransitionsTotal.WithLabelValues(key, from, to).Write(&m))
	return m.GetCounter().GetValue()
}

func newTestBreaker(threshold int, open time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 5, 14, 12, 0, 0, 0, time.UTC)}
	b := New(threshold, open)
	b.now = clock.now
	return b, clock
}

func TestBreaker_AllowWhenClosed(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)
	assert.True(t, b.Allow("audit_store"))
	assert.Equal(t, StateClosed, b.State("audit_store"))
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)

	b.RecordFailure("audit_store")
	b.RecordFailure("audit_store")
	assert.True(t, b.Allow("audit_store"), "still closed before threshold")

	b.RecordFailure("audit_store")
	assert.False(t, b.Allow("audit_store"))
	assert.Equal(t, StateOpen, b.State("audit_store"))
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)

	b.RecordFailure("k")
	b.RecordFailure("k")
	b.RecordSuccess("k")
	b.RecordFailure("k")
	b.RecordFailure("k")
	assert.Equal(t, StateClosed, b.State("k"))
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker(2, time.Second)

	b.RecordFailure("k")
	b.RecordFailure("k")
	require.False(t, b.Allow("k"))

	clock.advance(999 * time.Millisecond)
	assert.False(t, b.Allow("k"))

	clock.advance(time.Millisecond)
	assert.True(t, b.Allow("k"), "one probe after openDuration")
	assert.Equal(t, StateHalfOpen, b.State("k"))
	assert.False(t, b.Allow("k"), "second request while probing")
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(2, time.Second)

	b.RecordFailure("k")
	b.RecordFailure("k")
	clock.advance(time.Second)
	require.True(t, b.Allow("k"))

	b.RecordSuccess("k")
	assert.Equal(t, StateClosed, b.State("k"))
	assert.True(t, b.Allow("k"))
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(2, time.Second)

	b.RecordFailure("k")
	b.RecordFailure("k")
	clock.advance(time.Second)
	require.True(t, b.Allow("k"))

	b.RecordFailure("k")
	assert.Equal(t, StateOpen, b.State("k"))
	assert.False(t, b.Allow("k"))
}

func TestBreaker_KeysIndependent(t *testing.T) {
	b, _ := newTestBreaker(1, time.Second)

	b.RecordFailure("a")
	assert.False(t, b.Allow("a"))
	assert.True(t, b.Allow("b"))
}

func TestBreaker_Do(t *testing.T) {
	b, clock := newTestBreaker(2, time.Second)
	boom := errors.New("connection refused")
	calls := 0
	failing := func() error { calls++; return boom }

	assert.ErrorIs(t, b.Do("k", failing), boom)
	assert.ErrorIs(t, b.Do("k", failing), boom)
	assert.ErrorIs(t, b.Do("k", failing), ErrOpen)
	assert.Equal(t, 2, calls, "fn not called while open")

	clock.advance(time.Second)
	require.NoError(t, b.Do("k", func() error { return nil }))
	assert.Equal(t, StateClosed, b.State("k"))
}

func TestBreaker_Transitions(t *testing.T) {
	b, clock := newTestBreaker(1, time.Second)

	var got []string
	b.OnTransition(func(key string, from, to State) {
		got = append(got, key+":"+from.String()+"->"+to.String())
	})

	before := transitions(t, "t", "closed", "open")

	b.RecordFailure("t")
	clock.advance(time.Second)
	b.Allow("t")
	b.RecordSuccess("t")

	assert.Equal(t, []string{"t:closed->open", "t:open->half_open", "t:half_open->closed"}, got)
	assert.Equal(t, before+1, transitions(t, "t", "closed", "open"))
}

func TestBreaker_Defaults(t *testing.T) {
	b := New(0, 0)
	assert.Equal(t, 5, b.threshold)
	assert.Equal(t, 30*time.Second, b.openDuration)
}

func TestBreaker_Concurrent(t *testing.T) {
	b := New(1000, time.Second)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				b.Allow("k")
				b.RecordFailure("k")
				b.RecordSuccess("k")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, StateClosed, b.State("k"))
}
