package batch

import (
	"context"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/dgnsrekt/unitsync/internal/queue"
	"github.com/dgnsrekt/unitsync/internal/unit"
)

const (
	DefaultFlushInterval = 2 * time.Second
	DefaultPollInterval  = 5 * time.Millisecond
)

// Store is the write side the batcher flushes into.
type Store interface {
	BulkUpsert(ctx context.Context, units []unit.Unit) error
	BulkDelete(ctx context.Context, ids []uint64) error
}

// FlushResult describes one flush attempt.
type FlushResult struct {
	Updated  int
	Deleted  int
	Duration time.Duration
	Err      error
}

// Observer is notified of batcher activity. Calls happen on the batcher
// goroutine and must not block.
type Observer interface {
	Dequeued(u unit.Unit)
	Flushed(r FlushResult)
}

// Batcher drains a queue, coalesces units per id and periodically writes the
// result to a Store.
type Batcher struct {
	store         Store
	clock         clock.PassiveClock
	flushInterval time.Duration
	pollInterval  time.Duration
	observers     []Observer
	logger        *zap.Logger
}

type Option func(*Batcher)

func WithClock(c clock.PassiveClock) Option {
	return func(b *Batcher) { b.clock = c }
}

func WithFlushInterval(d time.Duration) Option {
	return func(b *Batcher) {
		if d > 0 {
			b.flushInterval = d
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(b *Batcher) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

func WithObserver(o Observer) Option {
	return func(b *Batcher) {
		if o != nil {
			b.observers = append(b.observers, o)
		}
	}
}

func NewBatcher(store Store, logger *zap.Logger, opts ...Option) *Batcher {
	b := &Batcher{
		store:         store,
		clock:         clock.RealClock{},
		flushInterval: DefaultFlushInterval,
		pollInterval:  DefaultPollInterval,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run consumes q until ctx is cancelled. Units that were accumulated but not
// yet flushed when ctx ends are dropped along with the epoch.
func (b *Batcher) Run(ctx context.Context, q *queue.Queue) error {
	acc := newAccumulator()
	lastFlush := b.clock.Now()

	poll := time.NewTimer(b.pollInterval)
	defer poll.Stop()

	b.logger.Debug("batcher started",
		zap.Duration("flushInterval", b.flushInterval),
		zap.Duration("pollInterval", b.pollInterval),
	)

	for {
		if ctx.Err() != nil {
			b.stop(acc)
			return nil
		}

		if u, ok := q.TryPop(); ok {
			acc.add(u)
			for _, o := range b.observers {
				o.Dequeued(u)
			}
		} else {
			poll.Reset(b.pollInterval)
			select {
			case <-ctx.Done():
				b.stop(acc)
				return nil
			case <-poll.C:
			}
		}

		if b.clock.Since(lastFlush) <= b.flushInterval {
			continue
		}
		if b.flush(ctx, acc) {
			lastFlush = b.clock.Now()
		}
	}
}

// flush writes updates then deletes. State is only cleared when both writes
// succeed; otherwise the same batch is retried on the next iteration.
func (b *Batcher) flush(ctx context.Context, acc *accumulator) bool {
	if acc.empty() {
		return true
	}

	start := time.Now()
	updates := acc.pendingUpdates()
	deletes := acc.pendingDeletes()

	err := b.write(ctx, updates, deletes)
	result := FlushResult{
		Updated:  len(updates),
		Deleted:  len(deletes),
		Duration: time.Since(start),
		Err:      err,
	}

	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		b.logger.Warn("flush failed, retaining batch",
			zap.Int("updated", result.Updated),
			zap.Int("deleted", result.Deleted),
			zap.Error(err),
		)
		b.notify(result)
		return false
	}

	acc.reset()
	b.logger.Info("flushed batch",
		zap.Int("updated", result.Updated),
		zap.Int("deleted", result.Deleted),
		zap.Duration("duration", result.Duration),
	)
	b.notify(result)
	return true
}

func (b *Batcher) write(ctx context.Context, updates []unit.Unit, deletes []uint64) error {
	if len(updates) > 0 {
		if err := b.store.BulkUpsert(ctx, updates); err != nil {
			return err
		}
	}
	if len(deletes) > 0 {
		if err := b.store.BulkDelete(ctx, deletes); err != nil {
			return err
		}
	}
	return nil
}

func (b *Batcher) notify(r FlushResult) {
	for _, o := range b.observers {
		o.Flushed(r)
	}
}

func (b *Batcher) stop(acc *accumulator) {
	b.logger.Debug("batcher stopping",
		zap.Int("droppedUpdates", len(acc.updates)),
		zap.Int("droppedDeletes", len(acc.deletes)),
	)
}
