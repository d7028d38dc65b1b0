package pipeline

import (
	"context"
	"log/slog"
	"time"

	"fleet-monitor/fuel-analytics/internal/domain"
)

// StateStore keeps the per-device live fuel snapshot current.
type StateStore interface {
	UpdateFuelState(ctx context.Context, r *domain.Reading) error
}

// StateWriter pushes calibrated levels into Redis so dashboards read the
// latest value without touching the database.
type StateWriter struct {
	ch    <-chan *domain.Reading
	state StateStore
	log   *slog.Logger
}

func NewStateWriter(ch <-chan *domain.Reading, state StateStore, log *slog.Logger) *StateWriter {
	if log == nil {
		log = slog.Default()
	}
	return &StateWriter{ch: ch, state: state, log: log}
}

func (w *StateWriter) Run(ctx context.Context) {
	batch := make([]*domain.Reading, 0, 100) // Redis is fast, fixed batch fine
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-w.ch:
			if !ok {
				w.flushBatch(context.Background(), batch)
				return
			}
			batch = append(batch, r)
			if len(batch) >= 100 {
				w.flushBatch(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flushBatch(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			w.flushBatch(ctx, batch)
			return
		}
	}
}

func (w *StateWriter) flushBatch(ctx context.Context, batch []*domain.Reading) {
	for _, r := range batch {
		if err := w.state.UpdateFuelState(ctx, r); err != nil {
			w.log.Warn("fuel state update failed",
				"device_id", r.DeviceID, "error", err)
		}
	}
}
