package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbd888/callwatch/internal/circuitbreaker"
	"github.com/mbd888/callwatch/internal/metrics"
	"github.com/mbd888/callwatch/internal/retry"
)

const (
	recorderChanSize         = 4096
	defaultRecorderBatchSize = 100
	defaultRecorderFlush     = 500 * time.Millisecond

	// storeBreakerKey names the audit store in the recorder's breaker.
	storeBreakerKey = "audit_store"
)

// Recorder asynchronously batches audit records into a Store so that turn
// scoring never waits on the database.
type Recorder struct {
	store      Store
	logger     *slog.Logger
	ch         chan *Record
	stop       chan struct{}
	done       chan struct{}
	batchSize  int
	flushEvery time.Duration
	policy     retry.Policy
	breaker    *circuitbreaker.Breaker
	running    atomic.Bool
	dropped    atomic.Int64
	written    atomic.Int64
}

// NewRecorder creates a recorder with default batching.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:      store,
		logger:     logger,
		ch:         make(chan *Record, recorderChanSize),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		batchSize:  defaultRecorderBatchSize,
		flushEvery: defaultRecorderFlush,
		policy:     retry.Policy{Attempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second},
	}
}

// WithBatching overrides the batch size and flush interval.
func (r *Recorder) WithBatching(size int, every time.Duration) *Recorder {
	if size > 0 {
		r.batchSize = size
	}
	if every > 0 {
		r.flushEvery = every
	}
	return r
}

// WithRetry overrides the retry policy used for each batch.
func (r *Recorder) WithRetry(p retry.Policy) *Recorder {
	r.policy = p
	return r
}

// WithBreaker stops batches from reaching the store while it keeps failing.
// Batches rejected by an open circuit are dropped.
func (r *Recorder) WithBreaker(b *circuitbreaker.Breaker) *Recorder {
	r.breaker = b
	return r
}

// StoreState reports the breaker state of the audit store. Without a
// breaker the store is always reported closed.
func (r *Recorder) StoreState() circuitbreaker.State {
	if r.breaker == nil {
		return circuitbreaker.StateClosed
	}
	return r.breaker.State(storeBreakerKey)
}

// Enqueue hands a record to the writer. Non-blocking: drops the record and
// counts it if the buffer is full.
func (r *Recorder) Enqueue(rec *Record) bool {
	select {
	case r.ch <- rec:
		return true
	default:
		r.drop(1)
		return false
	}
}

// Dropped returns the number of records that were never persisted.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Written returns the number of records persisted.
func (r *Recorder) Written() int64 { return r.written.Load() }

// Running reports whether the writer loop is active.
func (r *Recorder) Running() bool { return r.running.Load() }

// Start drains the buffer and flushes batches until ctx is done or Stop is
// called. Call in a goroutine.
func (r *Recorder) Start(ctx context.Context) {
	r.running.Store(true)
	defer func() {
		r.running.Store(false)
		close(r.done)
	}()

	ticker := time.NewTicker(r.flushEvery)
	defer ticker.Stop()

	var buf []*Record
	for {
		select {
		case <-ctx.Done():
			r.flush(r.drain(buf))
			return
		case <-r.stop:
			r.flush(r.drain(buf))
			return
		case rec := <-r.ch:
			buf = append(buf, rec)
			if len(buf) >= r.batchSize {
				r.flush(buf)
				buf = nil
			}
		case <-ticker.C:
			if len(buf) > 0 {
				r.flush(buf)
				buf = nil
			}
		}
	}
}

// Stop signals the writer to flush what it holds and waits for it to exit
// or for ctx to expire.
func (r *Recorder) Stop(ctx context.Context) error {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain moves whatever is still buffered in the channel into buf.
func (r *Recorder) drain(buf []*Record) []*Record {
	for {
		select {
		case rec := <-r.ch:
			buf = append(buf, rec)
		default:
			return buf
		}
	}
}

func (r *Recorder) flush(buf []*Record) {
	if len(buf) == 0 {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic in recorder flush", "panic", fmt.Sprint(p))
			r.drop(len(buf))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.write(ctx, buf); err != nil {
		r.logger.Error("recorder flush failed", "error", err, "count", len(buf))
		r.drop(len(buf))
		return
	}
	r.written.Add(int64(len(buf)))
}

// write appends buf with retries, through the breaker when one is set.
// Unknown calls are permanent errors and do not count against the store.
func (r *Recorder) write(ctx context.Context, buf []*Record) error {
	attempt := func() error {
		return r.policy.Do(ctx, func() error {
			err := r.store.AppendRecords(ctx, buf)
			if errors.Is(err, ErrCallNotFound) {
				return retry.Permanent(err)
			}
			return err
		})
	}
	if r.breaker == nil {
		return attempt()
	}

	var writeErr error
	err := r.breaker.Do(storeBreakerKey, func() error {
		writeErr = attempt()
		if errors.Is(writeErr, ErrCallNotFound) {
			return nil
		}
		return writeErr
	})
	if err != nil {
		return err
	}
	return writeErr
}

func (r *Recorder) drop(n int) {
	r.dropped.Add(int64(n))
	metrics.RecorderDroppedTotal.Add(float64(n))
}
