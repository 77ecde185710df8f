package consolidation

import (
	"context"
	"log"
	"time"
)

// DefaultInterval is the gap between automatic maintenance passes.
const DefaultInterval = 15 * time.Minute

// Scheduler drives the engine: a periodic ticker plus on-demand kicks
// (session close, manual CLI run). Passes never overlap; a kick during a
// running pass coalesces into one follow-up.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	kick     chan struct{}
}

// NewScheduler wraps an engine. interval <= 0 means the default.
func NewScheduler(engine *Engine, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		engine:   engine,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests a pass outside the regular interval. Non-blocking.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run loops until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runPass(ctx)
		case <-s.kick:
			s.runPass(ctx)
		case <-ctx.Done():
			log.Printf("consolidation: scheduler stopping")
			return
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context) {
	if _, err := s.engine.Run(ctx); err != nil {
		log.Printf("consolidation: pass failed: %v", err)
	}
}
