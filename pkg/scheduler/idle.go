package scheduler

import (
	"context"
	"time"
)

// idleCheckDuration computes how long until the next idle sweep should run.
// The caller must hold the scheduler lock. Returns a negative duration if no
// unused entry exists, zero if one is already past its idle timeout.
func (s *Scheduler) idleCheckDuration() time.Duration {
	var oldest time.Time
	for _, e := range s.loaded {
		if e.pending() || e.refs != 0 {
			continue
		}
		if oldest.IsZero() || e.lastUse.Before(oldest) {
			oldest = e.lastUse
		}
	}
	if oldest.IsZero() {
		return -1 * time.Second
	}
	if remaining := s.idleTimeout - time.Since(oldest); remaining < 0 {
		return 0
	} else {
		return remaining + 100*time.Millisecond
	}
}

// evictIdleLocked evicts every unused entry that has sat idle past
// idleTimeout. The caller must hold the scheduler lock.
func (s *Scheduler) evictIdleLocked() {
	now := time.Now()
	for name, e := range s.loaded {
		if e.pending() || e.refs != 0 {
			continue
		}
		if now.Sub(e.lastUse) > s.idleTimeout {
			s.evictLocked(name)
		}
	}
}

func stopAndDrainTimer(timer *time.Timer) {
	timer.Stop()
	select {
	case <-timer.C:
	default:
	}
}

// Run drives background idle-model eviction until ctx is cancelled, at
// which point every resident entry is stopped before Run returns. Intended
// to be launched as one errgroup.Group worker by pkg/supervisor, matching
// the teacher's Scheduler.Run.
func (s *Scheduler) Run(ctx context.Context) error {
	idleTimer := time.NewTimer(0)
	if !idleTimer.Stop() {
		<-idleTimer.C
	}
	defer idleTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.Unload(context.Background(), nil)
			return nil
		case <-idleTimer.C:
			if s.lock(ctx) {
				s.evictIdleLocked()
				if next := s.idleCheckDuration(); next >= 0 {
					idleTimer.Reset(next)
				}
				s.unlock()
			}
		case <-s.idleCheck:
			if s.lock(ctx) {
				stopAndDrainTimer(idleTimer)
				if next := s.idleCheckDuration(); next >= 0 {
					idleTimer.Reset(next)
				}
				s.unlock()
			}
		}
	}
}
