package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmehdipour/asset-lifecycle/internal/model"
	"github.com/jmehdipour/asset-lifecycle/internal/repository"
)

type fakeEventLog struct {
	mu      sync.Mutex
	batches [][]model.AuditRecord
	err     error
}

func (f *fakeEventLog) InsertBatch(_ context.Context, recs []model.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	cp := append([]model.AuditRecord(nil), recs...)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeEventLog) List(context.Context, repository.EventLogFilter) ([]model.AuditRecord, error) {
	return nil, nil
}

func (f *fakeEventLog) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestAuditWriterFlushesBySize(t *testing.T) {
	repo := &fakeEventLog{}
	w := NewAuditWriter(repo, zap.NewNop(), 2, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { w.Run(ctx); close(done) }()

	for i := 0; i < 4; i++ {
		w.Record(model.AuditRecord{EventID: string(rune('a' + i)), Outcome: model.OutcomeApplied})
	}

	require.Eventually(t, func() bool { return repo.total() == 4 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	repo.mu.Lock()
	defer repo.mu.Unlock()
	for _, b := range repo.batches {
		assert.LessOrEqual(t, len(b), 2)
	}
}

func TestAuditWriterFlushesOnShutdown(t *testing.T) {
	repo := &fakeEventLog{}
	w := NewAuditWriter(repo, zap.NewNop(), 100, time.Hour)

	w.Record(model.AuditRecord{EventID: "a"})
	w.Record(model.AuditRecord{EventID: "b"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Run(ctx)

	assert.Equal(t, 2, repo.total())
}

func TestAuditWriterDropsWhenSaturated(t *testing.T) {
	repo := &fakeEventLog{err: errors.New("clickhouse down")}
	w := NewAuditWriter(repo, zap.NewNop(), 1, time.Hour)

	// buffer holds batchSize*4; the rest is dropped without blocking
	for i := 0; i < 10; i++ {
		w.Record(model.AuditRecord{EventID: "x"})
	}
	assert.Len(t, w.in, 4)
}
