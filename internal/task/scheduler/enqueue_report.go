package scheduler

import (
	"errors"
	"time"

	"funbot/internal/task/engine"
	logx "funbot/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// reportEnqueueError counts a tick of j that never ran and logs why.
func (s *Service) reportEnqueueError(j Job, err error) {
	if err == nil {
		return
	}
	name := j.ID()
	s.enqMu.Lock()
	s.missed[j]++
	s.enqMu.Unlock()

	// A delivery still running from the previous tick is normal.
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("schedule trigger skipped", logx.String("schedule", name), logx.Err(err))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	s.log.Warn("schedule failed to enqueue task", logx.String("schedule", name), logx.Err(err))
}
