package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"fleet-monitor/fuel-analytics/internal/domain"
	"fleet-monitor/fuel-analytics/internal/fuel"
	"fleet-monitor/fuel-analytics/internal/metrics"
)

// Engine runs one reading through decode, calibration, smoothing and
// detection. Satisfied by *fuel.Engine.
type Engine interface {
	Process(ctx context.Context, r *domain.Reading, mode domain.ProcessMode) fuel.Result
}

// Processor drives the engine: one worker per dispatcher shard, each feeding
// results onward to the database and live-state writers.
type Processor struct {
	dispatcher *Dispatcher
	engine     Engine
	dbChan     chan<- *domain.Reading
	stateChan  chan<- *domain.Reading
	log        *slog.Logger
}

func NewProcessor(
	dispatcher *Dispatcher,
	engine Engine,
	dbChan chan<- *domain.Reading,
	stateChan chan<- *domain.Reading,
	log *slog.Logger,
) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		dispatcher: dispatcher,
		engine:     engine,
		dbChan:     dbChan,
		stateChan:  stateChan,
		log:        log,
	}
}

// Run blocks until every shard is drained and closed, or ctx is canceled.
func (p *Processor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, shard := range p.dispatcher.shards {
		wg.Add(1)
		go func(ch <-chan *domain.Reading) {
			defer wg.Done()
			p.drain(ctx, ch)
		}(shard)
	}
	wg.Wait()
}

func (p *Processor) drain(ctx context.Context, ch <-chan *domain.Reading) {
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return
			}
			p.handle(context.Background(), r)

		case <-ctx.Done():
			return
		}
	}
}

func (p *Processor) handle(ctx context.Context, r *domain.Reading) {
	result := p.engine.Process(ctx, r, domain.ModeLive)

	switch {
	case result.Err != nil:
		metrics.ReadingsFailed.Add(1)
		p.log.Error("reading processing failed",
			"device_id", r.DeviceID, "sensor_id", r.SensorID, "error", result.Err)
	case result.Skip != fuel.SkipNone:
		metrics.ReadingSkipped(string(result.Skip))
	default:
		metrics.ReadingsProcessed.Add(1)
	}

	// Every reading is persisted, level or not; raw history is what makes
	// recalibration and postmortems possible.
	select {
	case p.dbChan <- r:
	default:
		metrics.DBChannelDrops.Add(1)
	}

	if r.FuelLevel != nil {
		select {
		case p.stateChan <- r:
		default:
			metrics.StateChannelDrops.Add(1)
		}
	}
}
