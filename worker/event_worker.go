package worker

import (
	"context"
	"hash/fnv"
	"log"
	"sync"

	"reachflow/orchestrator"
	"reachflow/utils"
)

// EventWorker fans the webhook ingestion queue out to a pool of consumers so
// one lead's slow advancement never stalls another's. Events for the same
// lead identity always land on the same consumer, which keeps a single
// lead's deliveries in order; the per-lead lock and the state version check
// arbitrate everything else.
type EventWorker struct {
	Engine  *orchestrator.Engine
	Queue   <-chan orchestrator.CanonicalEvent
	Workers int
	Logger  *log.Logger
}

func NewEventWorker(engine *orchestrator.Engine, queue <-chan orchestrator.CanonicalEvent, workers int, logger *log.Logger) *EventWorker {
	if workers < 1 {
		workers = 1
	}
	return &EventWorker{
		Engine:  engine,
		Queue:   queue,
		Workers: workers,
		Logger:  logger,
	}
}

func (ew *EventWorker) Start(ctx context.Context) {
	ew.Logger.Printf("Event worker started with %d consumers", ew.Workers)

	shards := make([]chan orchestrator.CanonicalEvent, ew.Workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan orchestrator.CanonicalEvent, 64)
		wg.Add(1)
		go func(events <-chan orchestrator.CanonicalEvent) {
			defer wg.Done()
			ew.consume(ctx, events)
		}(shards[i])
	}

	for {
		select {
		case <-ctx.Done():
			ew.Logger.Println("Event worker shutting down...")
			for _, shard := range shards {
				close(shard)
			}
			wg.Wait()
			return
		case ev := <-ew.Queue:
			shards[shardFor(ev, len(shards))] <- ev
		}
	}
}

func (ew *EventWorker) consume(ctx context.Context, events <-chan orchestrator.CanonicalEvent) {
	for ev := range events {
		if err := ew.Engine.HandleEvent(ctx, ev); err != nil {
			ew.Logger.Printf("Error handling %s event %s: %v", ev.Platform, ev.ReceiptID, err)
			utils.LogError(err, "event_handling_failed", map[string]interface{}{
				"platform":   ev.Platform,
				"event_type": ev.Type,
				"receipt_id": ev.ReceiptID,
			})
		}
	}
}

func shardFor(ev orchestrator.CanonicalEvent, n int) int {
	h := fnv.New32a()
	h.Write([]byte(ev.Identity()))
	return int(h.Sum32() % uint32(n))
}
