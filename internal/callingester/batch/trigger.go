package batch

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// SizeTrigger flushes once the buffer has grown to the batch size. It is checked on the consume path
// after every append and does no suppression of its own: a redundant request finds the buffer
// already drained and does nothing.
type SizeTrigger struct {
	flusher   *Flusher
	threshold int
}

func NewSizeTrigger(flusher *Flusher, threshold int) *SizeTrigger {
	return &SizeTrigger{flusher: flusher, threshold: threshold}
}

// Check requests a flush if size, the buffer size observed right after an append, has reached the
// threshold.
func (t *SizeTrigger) Check(ctx context.Context, size int) error {
	if size < t.threshold {
		return nil
	}
	_, err := t.flusher.RequestFlush(ctx, TriggerSize)
	return err
}

// TimeTrigger wakes up every tick interval, independently of message traffic, and flushes if the
// flush interval has passed since the last flush and there is something to flush.
type TimeTrigger struct {
	flusher      *Flusher
	tickInterval time.Duration
	clock        clock.WithTicker
}

func NewTimeTrigger(flusher *Flusher, tickInterval time.Duration, clock clock.WithTicker) *TimeTrigger {
	return &TimeTrigger{flusher: flusher, tickInterval: tickInterval, clock: clock}
}

// Run blocks until ctx is done.
func (t *TimeTrigger) Run(ctx context.Context) error {
	ticker := t.clock.NewTicker(t.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping time trigger")
			return nil
		case <-ticker.C():
			// Failures are logged and counted by the flusher. The next tick carries on regardless.
			_, _ = t.flusher.FlushIfDue(ctx)
		}
	}
}
