package workers

import (
	"context"
	"log"
	"sync"

	"github.com/khromalabs/ainara-sub000/internal/application/services"
)

// DecayWorker applies memory relevance decay off the turn path. Requests
// arriving while a run is in flight coalesce into at most one queued run;
// the engine additionally single-flights concurrent executions.
type DecayWorker struct {
	engine *services.MemoryEngine
	kick   chan struct{}
	quit   chan struct{}
	wg     sync.WaitGroup
}

func NewDecayWorker(engine *services.MemoryEngine) *DecayWorker {
	return &DecayWorker{
		engine: engine,
		kick:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
}

func (w *DecayWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-w.quit:
				return
			case <-ctx.Done():
				return
			case <-w.kick:
				if err := w.engine.Decay(ctx); err != nil {
					log.Printf("warning: memory decay failed: %v", err)
				}
			}
		}
	}()
}

// Stop waits for the current run to complete.
func (w *DecayWorker) Stop() {
	close(w.quit)
	w.wg.Wait()
}

// Submit requests a decay run. Never blocks.
func (w *DecayWorker) Submit() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}
