package epoch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/unitsync/internal/queue"
)

// Task is one of the two long-lived halves of an epoch: the event source or
// the batcher. Both receive the epoch's queue.
type Task interface {
	Run(ctx context.Context, q *queue.Queue) error
}

// Clearer wipes the persisted state at the start of every epoch.
type Clearer interface {
	Clear(ctx context.Context) error
}

// Observer is notified when epochs begin and end.
type Observer interface {
	EpochStarted(id string, q *queue.Queue)
	EpochEnded(id string, discarded int, err error)
}

// Supervisor runs one connection epoch at a time until its context ends.
type Supervisor struct {
	source   Task
	batcher  Task
	store    Clearer
	limiter  *rate.Limiter
	observer Observer
	logger   *zap.Logger
}

type Option func(*Supervisor)

// WithRestartLimit bounds how often new epochs may start.
func WithRestartLimit(perSecond float64, burst int) Option {
	return func(s *Supervisor) {
		if perSecond <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithObserver(o Observer) Option {
	return func(s *Supervisor) { s.observer = o }
}

func NewSupervisor(source, batcher Task, store Clearer, logger *zap.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		source:  source,
		batcher: batcher,
		store:   store,
		limiter: rate.NewLimiter(rate.Limit(1), 3),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run loops over epochs. It returns nil once ctx is done, or the first error
// from clearing the store or from an epoch task.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			s.logger.Info("supervisor stopping")
			return nil
		}

		if err := s.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			return fmt.Errorf("waiting for restart limiter: %w", err)
		}

		if err := s.runEpoch(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			return err
		}
	}
}

func (s *Supervisor) runEpoch(ctx context.Context) error {
	id := uuid.New().String()
	logger := s.logger.With(zap.String("epoch", id))
	start := time.Now()

	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing store: %w", err)
	}

	q := queue.New()
	if s.observer != nil {
		s.observer.EpochStarted(id, q)
	}
	logger.Info("epoch started")

	g, gctx := errgroup.WithContext(ctx)
	epochCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	// Whichever task returns first tears the other one down.
	g.Go(func() error {
		defer cancel()
		if err := s.source.Run(epochCtx, q); err != nil {
			return fmt.Errorf("source: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		if err := s.batcher.Run(epochCtx, q); err != nil {
			return fmt.Errorf("batcher: %w", err)
		}
		return nil
	})

	err := g.Wait()
	discarded := q.Len()
	if s.observer != nil {
		s.observer.EpochEnded(id, discarded, err)
	}

	fields := []zap.Field{
		zap.Duration("duration", time.Since(start)),
		zap.Int("discardedQueued", discarded),
	}
	if err != nil {
		logger.Error("epoch ended with error", append(fields, zap.Error(err))...)
		return err
	}
	logger.Info("epoch ended", fields...)
	return nil
}
