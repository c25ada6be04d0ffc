package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/asset-lifecycle/internal/metrics"
	"github.com/jmehdipour/asset-lifecycle/internal/model"
	"github.com/jmehdipour/asset-lifecycle/internal/repository"
)

// AuditWriter batches consumer outcomes into the ClickHouse event log with a
// size/time based flush. The log is best effort: when the buffer is full or a
// flush fails, records are dropped and counted.
type AuditWriter struct {
	Repo      repository.CHEventsRepository
	Log       *zap.Logger
	BatchSize int
	BatchWait time.Duration

	in chan model.AuditRecord
}

var _ AuditSink = (*AuditWriter)(nil)

func NewAuditWriter(repo repository.CHEventsRepository, log *zap.Logger, batchSize int, batchWait time.Duration) *AuditWriter {
	if batchSize <= 0 {
		batchSize = 200
	}
	if batchWait <= 0 {
		batchWait = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditWriter{
		Repo:      repo,
		Log:       log,
		BatchSize: batchSize,
		BatchWait: batchWait,
		in:        make(chan model.AuditRecord, batchSize*4),
	}
}

func (w *AuditWriter) Record(rec model.AuditRecord) {
	select {
	case w.in <- rec:
	default:
		metrics.AuditDropped.Inc()
	}
}

// Run flushes until ctx is cancelled, then drains what is buffered.
func (w *AuditWriter) Run(ctx context.Context) {
	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	buf := make([]model.AuditRecord, 0, w.BatchSize)

	flush := func(ctx context.Context) {
		if len(buf) == 0 {
			return
		}
		if err := w.Repo.InsertBatch(ctx, buf); err != nil {
			metrics.AuditDropped.Add(float64(len(buf)))
			w.Log.Warn("event log flush failed", zap.Int("records", len(buf)), zap.Error(err))
		} else {
			w.Log.Debug("event log flushed", zap.Int("records", len(buf)))
		}
		buf = buf[:0]
	}

	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		drain:
			for {
				select {
				case rec := <-w.in:
					buf = append(buf, rec)
				default:
					break drain
				}
			}
			flush(fctx)
			cancel()
			return

		case rec := <-w.in:
			buf = append(buf, rec)
			if len(buf) >= w.BatchSize {
				flush(ctx)
			}

		case <-tick.C:
			flush(ctx)
		}
	}
}
