package sink

import (
	"context"

	"fleet-monitor/fuel-analytics/internal/domain"
)

// ActivityInserter persists one activity row. Inserts are idempotent on the
// activity id, so a redelivery after a partial fanout is harmless.
type ActivityInserter interface {
	InsertActivity(ctx context.Context, a *domain.FuelActivity) error
}

// TimescaleTarget writes activities to the fuel_activities hypertable.
type TimescaleTarget struct {
	db ActivityInserter
}

func NewTimescaleTarget(db ActivityInserter) *TimescaleTarget {
	return &TimescaleTarget{db: db}
}

func (t *TimescaleTarget) Name() string { return "timescale" }

func (t *TimescaleTarget) Deliver(ctx context.Context, a *domain.FuelActivity) error {
	return t.db.InsertActivity(ctx, a)
}
