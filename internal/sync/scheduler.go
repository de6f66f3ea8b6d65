// internal/sync/scheduler.go
package sync

import (
	"context"
	"log"
	"sync"
	"time"
)

// Scheduler runs full batch passes on a fixed interval while the server is
// up. A zero interval disables it.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewScheduler(engine *Engine, interval time.Duration) *Scheduler {
	return &Scheduler{engine: engine, interval: interval}
}

func (s *Scheduler) Start() {
	if s.interval <= 0 {
		log.Println("⏸️ [SCHED] interval sync disabled")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)
	log.Printf("⏰ [SCHED] interval sync every %s", s.interval)
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.engine.Sync(ctx, "all", Options{Mode: ModeFull, Policy: PolicyManual})
			if err != nil {
				log.Printf("❌ [SCHED] sync pass failed: %v", err)
				continue
			}
			if !res.Clean() {
				log.Printf("⚠️ [SCHED] pass left errors=%d unresolved_conflicts=%d", res.Errors, res.UnresolvedConflicts)
			}
		}
	}
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
}
