package pipeline

import (
	"hash/fnv"

	"fleet-monitor/fuel-analytics/internal/domain"
	"fleet-monitor/fuel-analytics/internal/metrics"
)

// Dispatcher routes incoming readings onto per-shard queues. A device always
// hashes to the same shard, so its readings are processed in arrival order
// even though shards run in parallel.
type Dispatcher struct {
	shards []chan *domain.Reading
}

// NewDispatcher spreads capacity readings of buffer across shardCount
// queues.
func NewDispatcher(shardCount, capacity int) *Dispatcher {
	if shardCount < 1 {
		shardCount = 1
	}
	shardSize := capacity / shardCount
	if shardSize < 1 {
		shardSize = 1
	}
	shards := make([]chan *domain.Reading, shardCount)
	for i := range shards {
		shards[i] = make(chan *domain.Reading, shardSize)
	}
	return &Dispatcher{shards: shards}
}

// Dispatch enqueues a reading onto its device's shard. When the shard is
// full the reading is dropped and counted rather than blocking the caller;
// ingest latency matters more than a lossless queue here.
func (d *Dispatcher) Dispatch(r *domain.Reading) {
	select {
	case d.shards[shardIndex(r.DeviceID, len(d.shards))] <- r:
	default:
		metrics.IngestQueueDrops.Add(1)
	}
}

// Close stops intake. Shard workers drain what is buffered and then exit.
func (d *Dispatcher) Close() {
	for _, ch := range d.shards {
		close(ch)
	}
}

func shardIndex(deviceID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(deviceID))
	return int(h.Sum32() % uint32(n))
}
