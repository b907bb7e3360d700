package batch

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/callrelay/callrelay/internal/callingester/codec"
	"github.com/callrelay/callrelay/internal/callingester/metrics"
	"github.com/callrelay/callrelay/internal/callingester/model"
	"github.com/callrelay/callrelay/internal/common/logging"
)

// Trigger names what asked for a flush.
type Trigger string

const (
	TriggerSize     Trigger = "size"
	TriggerTime     Trigger = "time"
	TriggerShutdown Trigger = "shutdown"
	TriggerManual   Trigger = "manual"
)

// ErrBufferFull is returned by Append when the buffer holds the configured maximum number of records.
var ErrBufferFull = errors.New("buffer is at capacity")

// Sink persists one batch of rows, all or nothing.
type Sink interface {
	Write(ctx context.Context, rows []*model.StoredRow) (int, error)
}

// FlushResult describes one flush. Batch is empty when there was nothing to flush, in which case
// the sink was not called.
type FlushResult struct {
	Trigger Trigger
	Batch   []*model.BufferedRecord
	Written int
	Err     error
}

// FlushHook is called after every non-empty flush, whether or not the batch was stored. Hooks run
// one flush at a time, in flush order.
type FlushHook func(ctx context.Context, result FlushResult)

// Flusher owns the buffer. Records enter through Append and leave only through a flush, which
// drains the whole buffer and resets the last flush time in one critical section, then writes the
// drained batch without holding the buffer lock. At most one flush is in flight at a time: a flush
// requested while another is running waits for it and then flushes whatever has accumulated since.
// A batch that fails to store is reported and never put back into the buffer.
//
// Once drained, a batch is written and its hooks are run under a context that keeps the values of
// the caller's context but not its cancellation, bounded by the write timeout instead. Cancelling
// a caller therefore never abandons records that have already left the buffer.
type Flusher struct {
	// Guards buffer and lastFlush. Never held across I/O.
	mu        sync.Mutex
	buffer    *Buffer
	lastFlush time.Time
	// Held for the duration of a flush, including its hooks.
	flushMu sync.Mutex

	sink          Sink
	flushInterval time.Duration
	maxBuffered   int
	writeTimeout  time.Duration
	hooks         []FlushHook
	clock         clock.PassiveClock
	metrics       *metrics.Metrics
}

// NewFlusher creates a Flusher writing to sink. A maxBuffered of zero leaves the buffer unbounded.
func NewFlusher(
	sink Sink,
	flushInterval time.Duration,
	maxBuffered int,
	writeTimeout time.Duration,
	clock clock.PassiveClock,
	m *metrics.Metrics,
) *Flusher {
	return &Flusher{
		buffer:        NewBuffer(),
		lastFlush:     clock.Now(),
		sink:          sink,
		flushInterval: flushInterval,
		maxBuffered:   maxBuffered,
		writeTimeout:  writeTimeout,
		clock:         clock,
		metrics:       m,
	}
}

// OnFlushed registers a hook to run after each non-empty flush.
func (f *Flusher) OnFlushed(hook FlushHook) {
	f.flushMu.Lock()
	defer f.flushMu.Unlock()
	f.hooks = append(f.hooks, hook)
}

// Append adds record to the buffer and returns the buffer size immediately afterwards.
func (f *Flusher) Append(record *model.BufferedRecord) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.maxBuffered > 0 && f.buffer.Size() >= f.maxBuffered {
		return f.buffer.Size(), ErrBufferFull
	}
	if record.Buffered.IsZero() {
		record.Buffered = f.clock.Now()
	}
	f.buffer.Append(record)
	f.metrics.SetBuffered(f.buffer.Size())
	return f.buffer.Size(), nil
}

// Size returns the number of records currently buffered.
func (f *Flusher) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buffer.Size()
}

// RequestFlush flushes everything currently buffered. The returned error is the storage failure of
// this flush, if any.
func (f *Flusher) RequestFlush(ctx context.Context, trigger Trigger) (FlushResult, error) {
	return f.flush(ctx, trigger, func() bool { return true })
}

// FlushIfDue flushes if the buffer is non-empty and at least the flush interval has passed since
// the last flush, or since the Flusher was created if there has not been one.
func (f *Flusher) FlushIfDue(ctx context.Context) (FlushResult, error) {
	return f.flush(ctx, TriggerTime, func() bool {
		return !f.buffer.IsEmpty() && f.clock.Since(f.lastFlush) >= f.flushInterval
	})
}

func (f *Flusher) flush(ctx context.Context, trigger Trigger, due func() bool) (FlushResult, error) {
	f.flushMu.Lock()
	defer f.flushMu.Unlock()

	result := FlushResult{Trigger: trigger, Batch: f.drain(due)}
	if len(result.Batch) == 0 {
		return result, nil
	}

	ctx, cancel := context.WithTimeout(detached{ctx}, f.writeTimeout)
	defer cancel()

	logger := log.WithFields(log.Fields{
		logging.CorrelationId: logging.SystemCorrelationId,
		"trigger":             trigger,
		"records":             len(result.Batch),
	})
	start := time.Now()
	result.Written, result.Err = f.write(ctx, result.Batch)
	if result.Err != nil {
		f.metrics.RecordFlushFailure(string(trigger), len(result.Batch))
		logging.WithStacktrace(logger, result.Err).Error("Flush failed; batch dropped")
	} else {
		f.metrics.RecordFlush(string(trigger), len(result.Batch), time.Since(start).Seconds())
		f.metrics.RecordStored(result.Written)
		logger.WithField("duration", time.Since(start)).Info("Flushed batch")
	}

	for _, hook := range f.hooks {
		hook(ctx, result)
	}
	return result, result.Err
}

// drain empties the buffer and resets the last flush time if due reports true. due is evaluated
// under the buffer lock.
func (f *Flusher) drain(due func() bool) []*model.BufferedRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !due() {
		return nil
	}
	batch := f.buffer.Drain()
	f.lastFlush = f.clock.Now()
	f.metrics.SetBuffered(0)
	return batch
}

func (f *Flusher) write(ctx context.Context, batch []*model.BufferedRecord) (int, error) {
	rows, err := codec.Encode(batch, f.clock.Now())
	if err != nil {
		return 0, errors.WithMessage(err, "error encoding batch")
	}
	return f.sink.Write(ctx, rows)
}

// detached carries the values of its parent but not its deadline or cancellation.
type detached struct {
	parent context.Context
}

func (d detached) Deadline() (time.Time, bool)       { return time.Time{}, false }
func (d detached) Done() <-chan struct{}             { return nil }
func (d detached) Err() error                        { return nil }
func (d detached) Value(key interface{}) interface{} { return d.parent.Value(key) }
