package service

import (
	"context"
	"log"
	"sync"
	"time"

	"rustshop-api/internal/repository"
)

// SweeperConfig holds configuration for the reclaim sweeper.
type SweeperConfig struct {
	// ReclaimAfter is how long an entry may sit in delivering before it is
	// returned to pending. A crashed client that claimed but never
	// acknowledged leaves entries stuck until this window elapses.
	ReclaimAfter time.Duration

	// SweepInterval is how often the sweep runs.
	SweepInterval time.Duration
}

// DefaultSweeperConfig returns default sweeper configuration.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		ReclaimAfter:  10 * time.Minute,
		SweepInterval: 1 * time.Minute,
	}
}

// Sweeper periodically reclaims stale delivering entries. The protocol is
// at-least-once: an entry reclaimed here may already have been applied
// in-game by a client that crashed before acknowledging, so delivery
// commands must tolerate a second attempt.
type Sweeper struct {
	queue     repository.QueueRepository
	config    SweeperConfig
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
}

// NewSweeper creates a new reclaim sweeper.
func NewSweeper(queue repository.QueueRepository, config SweeperConfig) *Sweeper {
	if config.ReclaimAfter == 0 {
		config.ReclaimAfter = 10 * time.Minute
	}
	if config.SweepInterval == 0 {
		config.SweepInterval = 1 * time.Minute
	}

	return &Sweeper{
		queue:  queue,
		config: config,
		stopCh: make(chan struct{}),
	}
}

// Start begins the background sweep loop.
func (s *Sweeper) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.SweepInterval)
	s.mu.Unlock()

	log.Printf("[Sweeper] Started - interval: %v, reclaim after: %v",
		s.config.SweepInterval, s.config.ReclaimAfter)

	go s.run()
}

func (s *Sweeper) run() {
	for {
		select {
		case <-s.ticker.C:
			s.Sweep(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Sweep runs one reclaim pass and returns how many entries were recovered.
func (s *Sweeper) Sweep(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-s.config.ReclaimAfter)
	reclaimed, err := s.queue.ReclaimStale(ctx, cutoff)
	if err != nil {
		log.Printf("[Sweeper] Sweep error: %v", err)
		return 0
	}
	if reclaimed > 0 {
		log.Printf("[Sweeper] Reclaimed %d stale delivering entries (older than %v)",
			reclaimed, s.config.ReclaimAfter)
	}
	return reclaimed
}

// Stop halts the sweep loop.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		s.isRunning = false
		s.mu.Unlock()
		close(s.stopCh)
	})
	log.Printf("[Sweeper] Stopped")
}
