package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New(3, 10*time.Second).WithClock(c.now)

	for i := 0; i < 2; i++ {
		require.True(t, b.TryAcquire())
		b.OnFailure()
	}
	assert.Equal(t, Closed, b.State())
	assert.True(t, b.Ready())

	require.True(t, b.TryAcquire())
	b.OnFailure()
	assert.Equal(t, Open, b.State())
	assert.False(t, b.Ready())
	assert.False(t, b.TryAcquire())
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New(1, 10*time.Second).WithClock(c.now)

	b.OnFailure()
	require.Equal(t, Open, b.State())

	c.advance(11 * time.Second)
	assert.True(t, b.Ready())
	require.True(t, b.TryAcquire())
	assert.Equal(t, HalfOpen, b.State())
	assert.False(t, b.TryAcquire(), "second probe must wait")
	assert.False(t, b.Ready())

	b.OnFailure()
	assert.Equal(t, Open, b.State())
	assert.False(t, b.TryAcquire())

	c.advance(11 * time.Second)
	require.True(t, b.TryAcquire())
	b.OnSuccess()
	assert.Equal(t, Closed, b.State())
	assert.True(t, b.TryAcquire())
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := New(2, time.Second)

	b.OnFailure()
	b.OnSuccess()
	b.OnFailure()
	assert.Equal(t, Closed, b.State())

	b.OnFailure()
	assert.Equal(t, Open, b.State())
	assert.Equal(t, "open", b.State().String())
}
