package relay

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmehdipour/asset-lifecycle/internal/breaker"
	"github.com/jmehdipour/asset-lifecycle/internal/broker"
	"github.com/jmehdipour/asset-lifecycle/internal/model"
)

// memOutbox mirrors the MySQL claim semantics in memory.
type memOutbox struct {
	mu   sync.Mutex
	rows map[string]*model.OutboxRow
	now  func() time.Time
}

func newMemOutbox(now func() time.Time) *memOutbox {
	return &memOutbox{rows: map[string]*model.OutboxRow{}, now: now}
}

func (m *memOutbox) Enqueue(_ context.Context, _ *sqlx.Tx, env model.Envelope) (model.OutboxRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, _ := env.Marshal()
	at := m.now()
	row := model.OutboxRow{
		EventID: env.EventID, EventType: env.Type, RoutingKey: env.RoutingKey(), Payload: b,
		Status: model.OutboxPending, CreatedAt: at, UpdatedAt: at,
	}
	m.rows[env.EventID] = &row
	return row, nil
}

func (m *memOutbox) ClaimBatch(_ context.Context, limit int, now time.Time, lease time.Duration) ([]model.OutboxRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*model.OutboxRow
	for _, r := range m.rows {
		switch {
		case r.Status == model.OutboxPending:
			due = append(due, r)
		case (r.Status == model.OutboxFailed || r.Status == model.OutboxSending) &&
			r.NextAttemptAt != nil && !r.NextAttemptAt.After(now):
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	until := now.Add(lease)
	out := make([]model.OutboxRow, 0, len(due))
	for _, r := range due {
		r.Status = model.OutboxSending
		r.NextAttemptAt = &until
		out = append(out, *r)
	}
	return out, nil
}

func (m *memOutbox) MarkSent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[id]
	at := m.now()
	r.Status, r.SentAt, r.NextAttemptAt, r.LastError = model.OutboxSent, &at, nil, nil
	return nil
}

func (m *memOutbox) MarkFailed(_ context.Context, id string, attempt int, next time.Time, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[id]
	if r.Status != model.OutboxSending {
		return nil
	}
	r.Status, r.AttemptCount, r.NextAttemptAt, r.LastError = model.OutboxFailed, attempt, &next, &lastErr
	return nil
}

func (m *memOutbox) MarkExhausted(_ context.Context, id string, attempt int, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[id]
	if r.Status != model.OutboxSending {
		return nil
	}
	r.Status, r.AttemptCount, r.NextAttemptAt, r.LastError = model.OutboxFailed, attempt, nil, &lastErr
	return nil
}

func (m *memOutbox) Release(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[id]
	if r.Status != model.OutboxSending {
		return nil
	}
	at := m.now()
	r.NextAttemptAt = &at
	if r.AttemptCount == 0 {
		r.Status = model.OutboxPending
	} else {
		r.Status = model.OutboxFailed
	}
	return nil
}

func (m *memOutbox) CountExhausted(context.Context) (int, error) {
	rows, _ := m.ListFailed(context.Background(), 1000)
	return len(rows), nil
}

func (m *memOutbox) ListFailed(_ context.Context, _ int) ([]model.OutboxRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.OutboxRow
	for _, r := range m.rows {
		if r.Status == model.OutboxFailed && r.NextAttemptAt == nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memOutbox) Requeue(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.Status != model.OutboxFailed || r.NextAttemptAt != nil {
		return false, nil
	}
	r.Status, r.AttemptCount, r.LastError = model.OutboxPending, 0, nil
	return true, nil
}

func (m *memOutbox) get(id string) model.OutboxRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[id]
}

// flakyProducer fails the first failN publishes.
type flakyProducer struct {
	mu        sync.Mutex
	failN     int
	calls     int
	delivered []broker.Message
}

func (p *flakyProducer) Publish(_ context.Context, m broker.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failN {
		return broker.ErrDelivery
	}
	p.delivered = append(p.delivered, m)
	return nil
}

func (p *flakyProducer) Close() error { return nil }

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func setup(t *testing.T, failN int) (*Relay, *memOutbox, *flakyProducer, *testClock) {
	t.Helper()
	clk := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	ob := newMemOutbox(clk.Now)
	prod := &flakyProducer{failN: failN}

	r := New(ob, prod, zap.NewNop())
	r.Now = clk.Now
	r.Backoff = Backoff{Base: time.Second, Factor: 2, Cap: time.Minute}
	return r, ob, prod, clk
}

func enqueue(t *testing.T, ob *memOutbox, asset, emp int64) model.Envelope {
	t.Helper()
	env, err := model.NewCheckoutEvent(asset, emp)
	require.NoError(t, err)
	_, err = ob.Enqueue(context.Background(), nil, env)
	require.NoError(t, err)
	return env
}

func TestRelayRetriesThenSends(t *testing.T) {
	r, ob, prod, clk := setup(t, 2)
	env := enqueue(t, ob, 1, 7)
	ctx := context.Background()

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	row := ob.get(env.EventID)
	assert.Equal(t, model.OutboxFailed, row.Status)
	assert.Equal(t, 1, row.AttemptCount)
	require.NotNil(t, row.NextAttemptAt)
	assert.Equal(t, clk.Now().Add(time.Second), *row.NextAttemptAt)

	// not due yet
	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clk.Advance(time.Second)
	_, err = r.RunOnce(ctx)
	require.NoError(t, err)
	row = ob.get(env.EventID)
	assert.Equal(t, model.OutboxFailed, row.Status)
	assert.Equal(t, 2, row.AttemptCount)
	assert.Equal(t, clk.Now().Add(2*time.Second), *row.NextAttemptAt)

	clk.Advance(2 * time.Second)
	_, err = r.RunOnce(ctx)
	require.NoError(t, err)
	row = ob.get(env.EventID)
	assert.Equal(t, model.OutboxSent, row.Status)
	assert.NotNil(t, row.SentAt)

	require.Len(t, prod.delivered, 1)
	got := prod.delivered[0]
	assert.Equal(t, env.EventID, got.ID)
	assert.Equal(t, "1", got.Key)
	assert.Equal(t, "asset.checked.out", got.RoutingKey)

	decoded, err := model.DecodeEnvelope(got.Body)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, decoded.EventID)

	// SENT rows are never claimed again
	clk.Advance(time.Hour)
	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 3, prod.calls)
}

func TestRelayExhaustsAfterMaxAttempts(t *testing.T) {
	r, ob, prod, clk := setup(t, 100)
	r.MaxAttempts = 3
	env := enqueue(t, ob, 2, 7)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := r.RunOnce(ctx)
		require.NoError(t, err)
		clk.Advance(time.Minute)
	}

	row := ob.get(env.EventID)
	assert.Equal(t, model.OutboxFailed, row.Status)
	assert.Equal(t, 3, row.AttemptCount)
	assert.Nil(t, row.NextAttemptAt)
	require.NotNil(t, row.LastError)

	clk.Advance(time.Hour)
	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 3, prod.calls)

	cnt, _ := ob.CountExhausted(ctx)
	assert.Equal(t, 1, cnt)

	ok, err := ob.Requeue(ctx, env.EventID)
	require.NoError(t, err)
	require.True(t, ok)
	prod.failN = 0
	_, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxSent, ob.get(env.EventID).Status)
}

func TestRelayBreakerReleasesRemainingRows(t *testing.T) {
	r, ob, prod, clk := setup(t, 1)
	br := breaker.New(1, 30*time.Second).WithClock(clk.Now)
	r.Breaker = br

	first := enqueue(t, ob, 1, 7)
	clk.Advance(time.Millisecond)
	second := enqueue(t, ob, 2, 7)
	clk.Advance(time.Millisecond)
	third := enqueue(t, ob, 3, 7)
	ctx := context.Background()

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, prod.calls)
	assert.Equal(t, breaker.Open, br.State())

	assert.Equal(t, model.OutboxFailed, ob.get(first.EventID).Status)
	assert.Equal(t, model.OutboxPending, ob.get(second.EventID).Status)
	assert.Equal(t, model.OutboxPending, ob.get(third.EventID).Status)
	assert.Equal(t, 0, ob.get(second.EventID).AttemptCount)

	// open breaker: no claim at all
	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clk.Advance(31 * time.Second)
	_, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, breaker.Closed, br.State())
	for _, id := range []string{first.EventID, second.EventID, third.EventID} {
		assert.Equal(t, model.OutboxSent, ob.get(id).Status)
	}
}

func TestRelayReclaimsExpiredLease(t *testing.T) {
	r, ob, prod, clk := setup(t, 0)
	r.ClaimLease = time.Minute
	env := enqueue(t, ob, 4, 7)
	ctx := context.Background()

	// a relay that died after claiming
	_, err := ob.ClaimBatch(ctx, 10, clk.Now(), time.Minute)
	require.NoError(t, err)

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clk.Advance(time.Minute)
	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.OutboxSent, ob.get(env.EventID).Status)
	assert.Len(t, prod.delivered, 1)
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	r, ob, prod, _ := setup(t, 0)
	r.PollInterval = 10 * time.Millisecond
	waker := NewLocalWaker()
	r.Wake = waker
	env := enqueue(t, ob, 5, 7)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	waker.Notify(ctx)
	require.Eventually(t, func() bool {
		return ob.get(env.EventID).Status == model.OutboxSent
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}

	prod.mu.Lock()
	defer prod.mu.Unlock()
	assert.Len(t, prod.delivered, 1)
}

func TestRelayRunRequiresDeps(t *testing.T) {
	r := &Relay{}
	err := r.Run(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}
