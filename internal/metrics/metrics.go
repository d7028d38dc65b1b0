package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	ReadingsReceived     atomic.Int64
	ReadingsProcessed    atomic.Int64
	ReadingsSkipped      atomic.Int64
	ReadingsFailed       atomic.Int64
	ReadingsRejected     atomic.Int64
	IngestQueueDrops     atomic.Int64
	ActivitiesDetected   atomic.Int64
	ActivityChannelDrops atomic.Int64
	BackfillReadings     atomic.Int64
	DBWriteSuccess       atomic.Int64
	DBWriteFailures      atomic.Int64
	DBChannelDrops       atomic.Int64
	StateChannelDrops    atomic.Int64

	skipReasons sync.Map // reason -> *atomic.Int64
)

// ReadingSkipped counts one skipped reading, both in the total and in its
// reason bucket.
func ReadingSkipped(reason string) {
	ReadingsSkipped.Add(1)
	v, _ := skipReasons.LoadOrStore(reason, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "fuel_readings_received_total %d\n", ReadingsReceived.Load())
	fmt.Fprintf(w, "fuel_readings_processed_total %d\n", ReadingsProcessed.Load())
	fmt.Fprintf(w, "fuel_readings_skipped_total %d\n", ReadingsSkipped.Load())
	for _, rc := range skipCounts() {
		fmt.Fprintf(w, "fuel_readings_skipped{reason=%q} %d\n", rc.reason, rc.n)
	}
	fmt.Fprintf(w, "fuel_readings_failed_total %d\n", ReadingsFailed.Load())
	fmt.Fprintf(w, "fuel_readings_rejected_total %d\n", ReadingsRejected.Load())
	fmt.Fprintf(w, "fuel_ingest_queue_drops_total %d\n", IngestQueueDrops.Load())
	fmt.Fprintf(w, "fuel_activities_detected_total %d\n", ActivitiesDetected.Load())
	fmt.Fprintf(w, "fuel_activity_channel_drops_total %d\n", ActivityChannelDrops.Load())
	fmt.Fprintf(w, "fuel_backfill_readings_total %d\n", BackfillReadings.Load())
	fmt.Fprintf(w, "fuel_db_write_success_total %d\n", DBWriteSuccess.Load())
	fmt.Fprintf(w, "fuel_db_write_failures_total %d\n", DBWriteFailures.Load())
	fmt.Fprintf(w, "fuel_db_channel_drops_total %d\n", DBChannelDrops.Load())
	fmt.Fprintf(w, "fuel_state_channel_drops_total %d\n", StateChannelDrops.Load())
}

type skipCount struct {
	reason string
	n      int64
}

func skipCounts() []skipCount {
	var out []skipCount
	skipReasons.Range(func(k, v any) bool {
		out = append(out, skipCount{reason: k.(string), n: v.(*atomic.Int64).Load()})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].reason < out[j].reason })
	return out
}
