package worker

import (
	"context"
	"log"
	"time"

	"reachflow/orchestrator"
)

// SweepWorker periodically advances active leads whose current step sat
// past its wait window without a platform event.
type SweepWorker struct {
	Engine   *orchestrator.Engine
	Interval time.Duration
	Logger   *log.Logger
}

func NewSweepWorker(engine *orchestrator.Engine, interval time.Duration, logger *log.Logger) *SweepWorker {
	return &SweepWorker{
		Engine:   engine,
		Interval: interval,
		Logger:   logger,
	}
}

func (sw *SweepWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	time.Sleep(10 * time.Second)

	sw.Logger.Println("Sweep worker started")

	ticker := time.NewTicker(sw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.Logger.Println("Sweep worker shutting down...")
			return
		case <-ticker.C:
			started := time.Now()
			sw.Engine.Sweep(ctx)
			sw.Logger.Printf("Sweep pass finished in %s", time.Since(started).Round(time.Millisecond))
		}
	}
}
