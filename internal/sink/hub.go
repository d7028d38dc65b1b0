package sink

import (
	"context"

	"fleet-monitor/fuel-analytics/internal/domain"
)

// Broadcaster pushes an activity to every connected websocket client.
type Broadcaster interface {
	BroadcastActivity(a *domain.FuelActivity)
}

// HubTarget feeds the live dashboard. Broadcast is best-effort; clients that
// cannot keep up are dropped by the hub, not retried here.
type HubTarget struct {
	hub Broadcaster
}

func NewHubTarget(hub Broadcaster) *HubTarget {
	return &HubTarget{hub: hub}
}

func (t *HubTarget) Name() string { return "websocket" }

func (t *HubTarget) Deliver(_ context.Context, a *domain.FuelActivity) error {
	t.hub.BroadcastActivity(a)
	return nil
}
