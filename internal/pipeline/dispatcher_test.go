package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/fuel-analytics/internal/domain"
	"fleet-monitor/fuel-analytics/internal/metrics"
)

func testReading(device string, i int) *domain.Reading {
	return &domain.Reading{
		DeviceID:  device,
		SensorID:  1,
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute),
	}
}

func TestDispatcherKeepsDeviceOnOneShard(t *testing.T) {
	d := NewDispatcher(4, 40)

	for i := 0; i < 10; i++ {
		d.Dispatch(testReading("truck-481", i))
	}

	occupied := 0
	for _, ch := range d.shards {
		if len(ch) > 0 {
			occupied++
			assert.Equal(t, 10, len(ch))
		}
	}
	assert.Equal(t, 1, occupied)
}

func TestDispatcherPreservesArrivalOrder(t *testing.T) {
	d := NewDispatcher(2, 20)
	for i := 0; i < 5; i++ {
		d.Dispatch(testReading("truck-481", i))
	}
	d.Close()

	shard := d.shards[shardIndex("truck-481", len(d.shards))]
	i := 0
	for r := range shard {
		assert.Equal(t, testReading("truck-481", i).Timestamp, r.Timestamp)
		i++
	}
	assert.Equal(t, 5, i)
}

func TestDispatcherDropsWhenShardFull(t *testing.T) {
	d := NewDispatcher(1, 2)
	before := metrics.IngestQueueDrops.Load()

	for i := 0; i < 3; i++ {
		d.Dispatch(testReading("truck-481", i))
	}

	assert.Equal(t, before+1, metrics.IngestQueueDrops.Load())
	assert.Equal(t, 2, len(d.shards[0]))
}

func TestDispatcherBoundsAreSane(t *testing.T) {
	d := NewDispatcher(0, 0)
	require.Len(t, d.shards, 1)
	assert.Equal(t, 1, cap(d.shards[0]))
}

func TestShardIndexIsStable(t *testing.T) {
	first := shardIndex("truck-481", 8)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, shardIndex("truck-481", 8))
	}
	assert.GreaterOrEqual(t, first, 0)
	assert.Less(t, first, 8)
}
