package pipeline

import (
	"context"
	"log/slog"
	"time"

	"fleet-monitor/fuel-analytics/internal/domain"
	"fleet-monitor/fuel-analytics/internal/metrics"
)

// ReadingBatchWriter persists a batch of readings in one round trip.
type ReadingBatchWriter interface {
	BatchInsertReadings(ctx context.Context, readings []*domain.Reading) error
}

// DBWriter accumulates readings and flushes them to TimescaleDB either when
// the batch fills or on the flush interval, whichever comes first.
type DBWriter struct {
	ch        <-chan *domain.Reading
	db        ReadingBatchWriter
	batchSize int
	flushMS   int
	log       *slog.Logger
}

func NewDBWriter(
	ch <-chan *domain.Reading,
	db ReadingBatchWriter,
	batchSize int,
	flushMS int,
	log *slog.Logger,
) *DBWriter {
	if log == nil {
		log = slog.Default()
	}
	return &DBWriter{
		ch:        ch,
		db:        db,
		batchSize: batchSize,
		flushMS:   flushMS,
		log:       log,
	}
}

func (w *DBWriter) Run(ctx context.Context) {
	batch := make([]*domain.Reading, 0, w.batchSize)
	ticker := time.NewTicker(time.Duration(w.flushMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-w.ch:
			if !ok {
				if len(batch) > 0 {
					// ctx is likely already canceled during shutdown; the
					// final flush gets its own deadline.
					flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					w.flush(flushCtx, batch)
					cancel()
				}
				return
			}
			batch = append(batch, r)
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			if len(batch) > 0 {
				w.flush(context.Background(), batch)
			}
			return
		}
	}
}

func (w *DBWriter) flush(ctx context.Context, batch []*domain.Reading) {
	err := w.db.BatchInsertReadings(ctx, batch)
	if err != nil {
		w.log.Warn("reading batch insert failed, retrying",
			"batch", len(batch), "error", err)
		time.Sleep(500 * time.Millisecond)
		err = w.db.BatchInsertReadings(ctx, batch)
		if err != nil {
			w.log.Error("reading batch insert permanently failed",
				"batch", len(batch), "error", err)
			metrics.DBWriteFailures.Add(int64(len(batch)))
			return
		}
	}
	metrics.DBWriteSuccess.Add(int64(len(batch)))
}
