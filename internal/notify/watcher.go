package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/unitsync/internal/batch"
	"github.com/dgnsrekt/unitsync/internal/unit"
)

const sendTimeout = 30 * time.Second

// Watcher turns batcher flush results into notifications. It alerts once when
// the number of consecutive failures reaches the threshold and again when a
// flush succeeds after that alert.
type Watcher struct {
	notifier  Notifier
	threshold int
	logger    *zap.Logger

	mu       sync.Mutex
	failures int
	since    time.Time
	alerted  bool

	wg sync.WaitGroup
}

func NewWatcher(n Notifier, threshold int, logger *zap.Logger) *Watcher {
	if threshold < 1 {
		threshold = 1
	}
	return &Watcher{notifier: n, threshold: threshold, logger: logger}
}

func (w *Watcher) Dequeued(unit.Unit) {}

func (w *Watcher) Flushed(r batch.FlushResult) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if r.Err != nil {
		if w.failures == 0 {
			w.since = time.Now()
		}
		w.failures++
		if w.failures == w.threshold && !w.alerted {
			w.alerted = true
			report := FailureReport{
				Failures: w.failures,
				Since:    w.since,
				Updated:  r.Updated,
				Deleted:  r.Deleted,
				Err:      r.Err,
			}
			w.dispatch("flush failing", func(ctx context.Context) error {
				return w.notifier.SendFlushFailing(ctx, report)
			})
		}
		return
	}

	if w.alerted {
		report := RecoveryReport{
			Failures: w.failures,
			Outage:   time.Since(w.since),
			Updated:  r.Updated,
			Deleted:  r.Deleted,
		}
		w.dispatch("flush recovered", func(ctx context.Context) error {
			return w.notifier.SendFlushRecovered(ctx, report)
		})
	}
	w.failures = 0
	w.alerted = false
}

// Wait blocks until in-flight notifications have been sent.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

// dispatch sends asynchronously; Wait collects pending sends.
func (w *Watcher) dispatch(kind string, send func(ctx context.Context) error) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := send(ctx); err != nil {
			w.logger.Warn("notification not delivered", zap.String("kind", kind), zap.Error(err))
		}
	}()
}
