package util

import (
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULIDSameMillisecondIsIncreasing(t *testing.T) {
	now := time.Now()
	prev := NewULID(now)
	for i := 0; i < 1000; i++ {
		next := NewULID(now)
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestNewULIDConcurrentUnique(t *testing.T) {
	const n = 64
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, n*100)
		wg   sync.WaitGroup
	)
	for g := 0; g < n; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := NewULID(time.Now())
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n*100)
}

func TestNewULIDEncodesTimestamp(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id, err := ulid.Parse(NewULID(at))
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(at), id.Time())
}
