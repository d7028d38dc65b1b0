package sink

import (
	"context"
	"log/slog"

	"fleet-monitor/fuel-analytics/internal/domain"
)

// ActivityPublisher is the Redis surface the fanout needs: a dedup window
// keyed by (device, sensor, type) and a per-device pub/sub channel.
type ActivityPublisher interface {
	CheckActivityDedup(ctx context.Context, a *domain.FuelActivity) (bool, error)
	SetActivityDedup(ctx context.Context, a *domain.FuelActivity) error
	PublishActivity(ctx context.Context, a *domain.FuelActivity) error
}

// RedisTarget publishes activities to live subscribers, suppressing repeats
// of the same event within the dedup window. Detection re-confirms an event
// on every reading while the level keeps settling; subscribers want one
// notification, not one per sample.
type RedisTarget struct {
	redis ActivityPublisher
	log   *slog.Logger
}

func NewRedisTarget(redis ActivityPublisher, log *slog.Logger) *RedisTarget {
	if log == nil {
		log = slog.Default()
	}
	return &RedisTarget{redis: redis, log: log}
}

func (t *RedisTarget) Name() string { return "redis" }

func (t *RedisTarget) Deliver(ctx context.Context, a *domain.FuelActivity) error {
	isDuplicate, err := t.redis.CheckActivityDedup(ctx, a)
	if err != nil {
		return err
	}
	if isDuplicate {
		return nil
	}

	if err := t.redis.PublishActivity(ctx, a); err != nil {
		return err
	}

	// Dedup is set only after a successful publish so a transient failure
	// does not swallow the event entirely.
	if err := t.redis.SetActivityDedup(ctx, a); err != nil {
		t.log.Warn("activity dedup set failed",
			"device_id", a.DeviceID, "sensor_id", a.SensorID, "error", err)
	}
	return nil
}
