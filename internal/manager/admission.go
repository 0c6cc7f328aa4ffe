package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/ysm446/sd-to-wan-prompt/internal/errs"
)

// reserveLocked takes a queue place on s without blocking. With a zero queue
// depth only the running generation has a place. Caller holds mu.
func (m *Manager) reserveLocked(s *slot, presetID string) error {
	select {
	case s.queueCh <- struct{}{}:
		return nil
	default:
	}
	queueRejections.Inc()
	if m.maxQueueDepth == 0 {
		return errs.Busy("submit", presetID, "a generation is already running")
	}
	return errs.Busy("submit", presetID, fmt.Sprintf("queue full (%d waiting)", m.maxQueueDepth))
}

// acquire waits for the single in-flight place, in arrival order. On
// failure the queue place is given back.
func (m *Manager) acquire(ctx context.Context, s *slot, presetID string) error {
	// Fast path: respect an already-canceled context
	if ctx.Err() != nil {
		<-s.queueCh
		return errs.Cancelled("submit", presetID)
	}
	timer := time.NewTimer(m.maxWait)
	defer timer.Stop()
	select {
	case s.genCh <- struct{}{}:
		return nil
	case <-ctx.Done():
		<-s.queueCh
		return errs.Cancelled("submit", presetID)
	case <-timer.C:
		<-s.queueCh
		queueRejections.Inc()
		return errs.Busy("submit", presetID, fmt.Sprintf("waited %s for the running generation", m.maxWait))
	}
}

// release gives back the in-flight place and the queue place.
func (s *slot) release() {
	<-s.genCh
	<-s.queueCh
}
