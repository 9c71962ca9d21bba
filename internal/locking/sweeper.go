package locking

import (
	"time"

	"github.com/rs/zerolog"
)

// Sweepable is implemented by lock tables that can drop expired entries.
type Sweepable interface {
	// SweepExpired removes expired locks and returns how many were removed.
	SweepExpired() int
}

// Sweeper periodically sweeps expired locks so an idle server does not keep
// dead entries around. Every Manager operation also sweeps lazily.
type Sweeper struct {
	table    Sweepable
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSweeper creates a sweeper that runs at the given interval.
func NewSweeper(table Sweepable, interval time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		table:    table,
		interval: interval,
		logger:   logger.With().Str("component", "lock-sweeper").Logger(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins sweeping in a background goroutine.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop signals the sweeper to stop and waits for it to finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Sweeper) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			s.logger.Info().Msg("lock sweeper stopped")
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	if count := s.table.SweepExpired(); count > 0 {
		s.logger.Info().
			Int("removedCount", count).
			Msg("swept expired locks")
	}
}
