package session

import (
	"context"
	"time"

	"github.com/koopa0/parley/internal/log"
)

// Sweeper periodically removes sessions that have not been touched for longer
// than the configured retention age.
type Sweeper struct {
	store    *Store
	interval time.Duration
	maxAge   time.Duration
	logger   log.Logger
}

// NewSweeper creates a retention sweeper. interval controls how often the
// sweep runs; maxAge is the retention threshold on updated_at.
func NewSweeper(store *Store, interval, maxAge time.Duration, logger log.Logger) *Sweeper {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger,
	}
}

// Run blocks until ctx is canceled, sweeping on each tick. Callers must track
// the goroutine with a WaitGroup for clean shutdown.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce executes a single sweep cycle.
func (s *Sweeper) runOnce(ctx context.Context) {
	if n, err := s.store.Sweep(ctx, s.maxAge); err != nil {
		s.logger.Warn("session sweep failed", "error", err)
	} else if n > 0 {
		s.logger.Info("expired stale sessions", "count", n)
	}
}
