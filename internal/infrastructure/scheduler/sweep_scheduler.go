package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sweeper is the work a SweepScheduler runs on every tick.
type Sweeper interface {
	Sweep(ctx context.Context) int
}

// SweepScheduler runs a Sweeper on a fixed interval. A tick that fires while
// the previous sweep is still running is skipped.
type SweepScheduler struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *zap.SugaredLogger

	running  atomic.Bool
	inFlight sync.WaitGroup
	skipped  atomic.Int64
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

type Config struct {
	Interval time.Duration
}

func NewSweepScheduler(sweeper Sweeper, cfg Config, logger *zap.SugaredLogger) *SweepScheduler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}

	return &SweepScheduler{
		sweeper:  sweeper,
		interval: cfg.Interval,
		logger:   logger,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start blocks until ctx is cancelled or Stop is called. It returns only
// after the sweep in flight, if any, has finished.
func (s *SweepScheduler) Start(ctx context.Context) {
	defer close(s.done)
	defer s.inFlight.Wait()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Infow("liveness sweep scheduled", "interval", s.interval.String())

	for {
		select {
		case <-ticker.C:
			if !s.acquire() {
				continue
			}
			s.inFlight.Add(1)
			go func() {
				defer s.inFlight.Done()
				s.sweep(ctx)
			}()
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs one sweep on the calling goroutine unless one is already
// in flight. It reports whether the sweep ran.
func (s *SweepScheduler) RunOnce(ctx context.Context) bool {
	if !s.acquire() {
		return false
	}
	s.sweep(ctx)
	return true
}

func (s *SweepScheduler) acquire() bool {
	if s.running.CompareAndSwap(false, true) {
		return true
	}
	s.skipped.Add(1)
	s.logger.Debugw("skipping liveness sweep, previous run still in progress")
	return false
}

// sweep runs with the running flag held and releases it.
func (s *SweepScheduler) sweep(ctx context.Context) {
	defer s.running.Store(false)

	start := time.Now()
	evicted := s.sweeper.Sweep(ctx)
	if evicted > 0 {
		s.logger.Infow("liveness sweep finished", "evicted", evicted, "duration", time.Since(start).String())
	} else {
		s.logger.Debugw("liveness sweep finished", "evicted", 0)
	}
}

// Skipped counts ticks dropped because a sweep was still running.
func (s *SweepScheduler) Skipped() int64 {
	return s.skipped.Load()
}

// Stop ends the loop and waits for Start to return, including any sweep the
// loop started. It is safe to call more than once but must not be called
// before Start.
func (s *SweepScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	<-s.done
}
