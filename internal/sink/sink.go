// Package sink fans confirmed fuel activities out to their consumers:
// TimescaleDB for history, Redis for dedup and live subscribers, Kafka for
// downstream services and the websocket hub for dashboards. Delivery is
// asynchronous so detection never waits on a slow consumer.
package sink

import (
	"context"
	"log/slog"

	"fleet-monitor/fuel-analytics/internal/domain"
	"fleet-monitor/fuel-analytics/internal/fuel"
	"fleet-monitor/fuel-analytics/internal/metrics"
)

// Target delivers one activity to a single destination. Deliver must be safe
// for sequential reuse; the fanout loop never calls it concurrently.
type Target interface {
	Name() string
	Deliver(ctx context.Context, a *domain.FuelActivity) error
}

// Queue buffers detected activities between the engine and the fanout
// worker. Publish never blocks: when the buffer is full the activity is
// dropped and counted, matching how the ingest channels behave under load.
type Queue struct {
	ch chan *domain.FuelActivity
}

var _ fuel.ActivitySink = (*Queue)(nil)

func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan *domain.FuelActivity, size)}
}

func (q *Queue) Publish(_ context.Context, a *domain.FuelActivity) {
	metrics.ActivitiesDetected.Add(1)
	select {
	case q.ch <- a:
	default:
		metrics.ActivityChannelDrops.Add(1)
	}
}

// Close stops intake. The fanout worker drains what is already buffered and
// then returns.
func (q *Queue) Close() {
	close(q.ch)
}

// Fanout drains the queue and hands each activity to every target in order.
// A target failure is logged and skipped; one broken destination must not
// starve the others.
type Fanout struct {
	queue   *Queue
	targets []Target
	log     *slog.Logger
}

func NewFanout(queue *Queue, log *slog.Logger, targets ...Target) *Fanout {
	if log == nil {
		log = slog.Default()
	}
	return &Fanout{queue: queue, targets: targets, log: log}
}

func (f *Fanout) Run(ctx context.Context) {
	for {
		select {
		case a, ok := <-f.queue.ch:
			if !ok {
				return
			}
			f.deliver(context.Background(), a)

		case <-ctx.Done():
			return
		}
	}
}

func (f *Fanout) deliver(ctx context.Context, a *domain.FuelActivity) {
	f.log.Info("fuel activity",
		"device_id", a.DeviceID,
		"sensor_id", a.SensorID,
		"type", a.Type,
		"volume_liters", a.Volume)

	for _, t := range f.targets {
		if err := t.Deliver(ctx, a); err != nil {
			f.log.Error("activity delivery failed",
				"target", t.Name(),
				"device_id", a.DeviceID,
				"sensor_id", a.SensorID,
				"type", a.Type,
				"error", err)
		}
	}
}
