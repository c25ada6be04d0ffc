package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Factor: 2, Cap: 5 * time.Minute}

	tests := []struct {
		n    int
		want time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{9, 256 * time.Second},
		{10, 5 * time.Minute},
		{500, 5 * time.Minute},
		{0, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.n), "n=%d", tt.n)
	}
}

func TestBackoffDefaults(t *testing.T) {
	assert.Equal(t, time.Second, Backoff{}.Delay(1))
	assert.Equal(t, 5*time.Minute, Backoff{}.Delay(64))
}

func TestLocalWakerCoalesces(t *testing.T) {
	w := NewLocalWaker()
	ctx := context.Background()
	ch := w.Listen(ctx)

	w.Notify(ctx)
	w.Notify(ctx)
	w.Notify(ctx)

	<-ch
	select {
	case <-ch:
		t.Fatal("signals should coalesce")
	default:
	}
}
