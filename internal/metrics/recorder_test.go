package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dgnsrekt/unitsync/internal/batch"
	"github.com/dgnsrekt/unitsync/internal/queue"
	"github.com/dgnsrekt/unitsync/internal/unit"
)

func TestRecorder_EpochLifecycle(t *testing.T) {
	r := NewRecorder()
	q := queue.New()
	q.Push(unit.Unit{ID: 1})
	q.Push(unit.Unit{ID: 2})

	r.EpochStarted("epoch-a", q)
	s := r.Snapshot()
	if !s.EpochRunning || s.EpochID != "epoch-a" || s.Epochs != 1 {
		t.Errorf("unexpected status after start: %+v", s)
	}
	if s.QueueDepth != 2 {
		t.Errorf("expected queue depth 2, got %d", s.QueueDepth)
	}

	r.EpochEnded("epoch-a", 2, errors.New("lost"))
	s = r.Snapshot()
	if s.EpochRunning {
		t.Error("expected epoch to be marked stopped")
	}
	if s.QueueDepth != 0 {
		t.Errorf("expected no queue depth between epochs, got %d", s.QueueDepth)
	}
	if got := testutil.ToFloat64(r.depth); got != 0 {
		t.Errorf("expected queue_depth gauge 0 between epochs, got %v", got)
	}
	if got := testutil.ToFloat64(r.discarded); got != 2 {
		t.Errorf("expected 2 discarded, got %v", got)
	}
	if got := testutil.ToFloat64(r.epochErrors); got != 1 {
		t.Errorf("expected 1 epoch error, got %v", got)
	}

	// A stale end for an older epoch does not flip the new one.
	r.EpochStarted("epoch-b", queue.New())
	r.EpochEnded("epoch-a", 0, nil)
	if s := r.Snapshot(); !s.EpochRunning || s.QueueDepth != 0 {
		t.Errorf("unexpected status for epoch-b: %+v", s)
	}
}

func TestRecorder_Flushes(t *testing.T) {
	r := NewRecorder()

	r.Dequeued(unit.Unit{ID: 1})
	r.Dequeued(unit.Unit{ID: 1, Deleted: true})
	if got := testutil.ToFloat64(r.dequeued.WithLabelValues("delete")); got != 1 {
		t.Errorf("expected 1 delete dequeued, got %v", got)
	}

	r.Flushed(batch.FlushResult{Updated: 3, Deleted: 1, Err: errors.New("down"), Duration: time.Millisecond})
	r.Flushed(batch.FlushResult{Updated: 3, Deleted: 1, Err: errors.New("down"), Duration: time.Millisecond})
	s := r.Snapshot()
	if s.ConsecutiveFailures != 2 || s.LastFlushError != "down" || s.RetainedUpdates != 3 {
		t.Errorf("unexpected status after failures: %+v", s)
	}
	if got := testutil.ToFloat64(r.retainedDeletes); got != 1 {
		t.Errorf("expected 1 retained delete, got %v", got)
	}

	r.Flushed(batch.FlushResult{Updated: 3, Deleted: 1, Duration: time.Millisecond})
	s = r.Snapshot()
	if s.ConsecutiveFailures != 0 || s.LastFlushError != "" || s.LastFlush.IsZero() || s.Dequeued != 2 {
		t.Errorf("unexpected status after success: %+v", s)
	}
	if got := testutil.ToFloat64(r.unitsUpserted); got != 3 {
		t.Errorf("expected 3 upserted, got %v", got)
	}
	if got := testutil.ToFloat64(r.flushes.WithLabelValues("failure")); got != 2 {
		t.Errorf("expected 2 failed flushes, got %v", got)
	}
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.EpochStarted("x", queue.New())

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"unitsync_epochs_total 1", "unitsync_queue_depth 0"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
