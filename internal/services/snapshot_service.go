package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Snapshotter persists in-memory state.
type Snapshotter interface {
	Save() error
}

// SnapshotService saves the knock store on an interval and once more on Stop.
type SnapshotService struct {
	interval time.Duration
	target   Snapshotter
	logger   zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewSnapshotService creates a SnapshotService. A non-positive interval only saves on Stop.
func NewSnapshotService(interval time.Duration, target Snapshotter, logger zerolog.Logger) *SnapshotService {
	return &SnapshotService{
		interval: interval,
		target:   target,
		logger:   logger,
	}
}

// Start launches the periodic save loop.
func (s *SnapshotService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("snapshot service is already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	if s.interval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ticker := time.NewTicker(s.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := s.target.Save(); err != nil {
						s.logger.Error().Err(err).Msg("Periodic knock snapshot failed")
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	s.logger.Info().Dur("interval_ms", s.interval).Msg("SnapshotService started")
	return nil
}

// Stop ends the loop and writes a final snapshot.
func (s *SnapshotService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return errors.New("snapshot service is not running")
	}

	s.cancel()
	s.wg.Wait()
	s.running = false

	if err := s.target.Save(); err != nil {
		s.logger.Error().Err(err).Msg("Final knock snapshot failed")
		return err
	}
	s.logger.Info().Msg("SnapshotService stopped")
	return nil
}
