package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"fleet-monitor/fuel-analytics/internal/domain"
	"fleet-monitor/fuel-analytics/internal/metrics"
)

// History lists recently active devices and returns their stored readings.
type History interface {
	ActiveDevices(ctx context.Context, since time.Time) ([]string, error)
	ReadingsInRange(ctx context.Context, deviceID string, from, to time.Time) ([]*domain.Reading, error)
}

// WarmStart replays recent stored readings through the engine before live
// traffic is accepted. Without it a restart empties every detection window
// and fills or drains in progress at that moment go unnoticed.
type WarmStart struct {
	history History
	engine  Engine
	window  time.Duration
	log     *slog.Logger
}

func NewWarmStart(history History, engine Engine, window time.Duration, log *slog.Logger) *WarmStart {
	if log == nil {
		log = slog.Default()
	}
	return &WarmStart{history: history, engine: engine, window: window, log: log}
}

// Run replays every device active within the window. Devices replay in
// parallel; each device's readings replay in stored order. A failing device
// is logged and skipped so one bad actor cannot block startup.
func (w *WarmStart) Run(ctx context.Context) error {
	cutoff := time.Now().Add(-w.window)
	devices, err := w.history.ActiveDevices(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("active device scan: %w", err)
	}
	if len(devices) == 0 {
		w.log.Info("warm start: no recent devices, starting cold")
		return nil
	}

	start := time.Now()
	var replayed atomic.Int64

	var wg sync.WaitGroup
	for _, deviceID := range devices {
		wg.Add(1)
		go func(deviceID string) {
			defer wg.Done()
			n, err := w.replayDevice(ctx, deviceID, cutoff)
			replayed.Add(int64(n))
			if err != nil {
				w.log.Warn("warm start: device replay aborted",
					"device_id", deviceID, "replayed", n, "error", err)
			}
		}(deviceID)
	}
	wg.Wait()

	metrics.BackfillReadings.Add(replayed.Load())
	w.log.Info("warm start complete",
		"devices", len(devices),
		"readings", replayed.Load(),
		"took", time.Since(start).Round(time.Millisecond))
	return nil
}

func (w *WarmStart) replayDevice(ctx context.Context, deviceID string, cutoff time.Time) (int, error) {
	readings, err := w.history.ReadingsInRange(ctx, deviceID, cutoff, time.Now())
	if err != nil {
		return 0, err
	}

	for i, r := range readings {
		if result := w.engine.Process(ctx, r, domain.ModeBackfill); result.Err != nil {
			return i, result.Err
		}
	}
	return len(readings), nil
}
