package batch

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/dgnsrekt/unitsync/internal/queue"
	"github.com/dgnsrekt/unitsync/internal/unit"
)

var errStoreDown = errors.New("store unavailable")

type mockStore struct {
	mu       sync.Mutex
	failing  bool
	upserts  [][]unit.Unit
	deletes  [][]uint64
	ops      []string
	attempts int
}

func (m *mockStore) setFailing(failing bool) {
	m.mu.Lock()
	m.failing = failing
	m.mu.Unlock()
}

func (m *mockStore) BulkUpsert(ctx context.Context, units []unit.Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	m.ops = append(m.ops, "upsert")
	if m.failing {
		return errStoreDown
	}
	m.upserts = append(m.upserts, units)
	return nil
}

func (m *mockStore) BulkDelete(ctx context.Context, ids []uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "delete")
	if m.failing {
		return errStoreDown
	}
	m.deletes = append(m.deletes, ids)
	return nil
}

func (m *mockStore) order() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.ops)
}

func (m *mockStore) calls() ([][]unit.Unit, [][]uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]unit.Unit(nil), m.upserts...), append([][]uint64(nil), m.deletes...)
}

type recordingObserver struct {
	dequeued chan unit.Unit
	flushed  chan FlushResult
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		dequeued: make(chan unit.Unit, 4096),
		flushed:  make(chan FlushResult, 4096),
	}
}

func (r *recordingObserver) Dequeued(u unit.Unit) {
	select {
	case r.dequeued <- u:
	default:
	}
}

func (r *recordingObserver) Flushed(res FlushResult) {
	select {
	case r.flushed <- res:
	default:
	}
}

func (r *recordingObserver) waitDequeued(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.dequeued:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d of %d dequeues", i, n)
		}
	}
}

func (r *recordingObserver) waitFlush(t *testing.T) FlushResult {
	t.Helper()
	select {
	case res := <-r.flushed:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for flush")
	}
	return FlushResult{}
}

type harness struct {
	store  *mockStore
	clock  *testingclock.FakeClock
	obs    *recordingObserver
	queue  *queue.Queue
	cancel context.CancelFunc
	done   chan error
}

func startBatcher(t *testing.T, logger *zap.Logger) *harness {
	t.Helper()
	h := &harness{
		store: &mockStore{},
		clock: testingclock.NewFakeClock(time.Now()),
		obs:   newRecordingObserver(),
		queue: queue.New(),
		done:  make(chan error, 1),
	}
	b := NewBatcher(h.store, logger,
		WithClock(h.clock),
		WithPollInterval(time.Millisecond),
		WithObserver(h.obs),
	)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- b.Run(ctx, h.queue) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func TestAccumulator_LastWriteWins(t *testing.T) {
	acc := newAccumulator()
	acc.add(unit.Unit{ID: 1, X: 1})
	acc.add(unit.Unit{ID: 2, X: 5})
	acc.add(unit.Unit{ID: 1, X: 2})
	acc.add(unit.Unit{ID: 1, X: 3, Kind: "tank"})

	updates := acc.pendingUpdates()
	if len(updates) != 2 {
		t.Fatalf("expected 2 pending updates, got %d", len(updates))
	}
	if updates[0].ID != 1 || updates[0].X != 3 || updates[0].Kind != "tank" {
		t.Errorf("expected last write for id 1, got %+v", updates[0])
	}
	if updates[1].ID != 2 {
		t.Errorf("expected updates ordered by id, got %+v", updates)
	}
}

func TestAccumulator_DuplicateDeletesKept(t *testing.T) {
	acc := newAccumulator()
	acc.add(unit.Unit{ID: 3, Deleted: true})
	acc.add(unit.Unit{ID: 3, Deleted: true})

	deletes := acc.pendingDeletes()
	if len(deletes) != 2 || deletes[0] != 3 || deletes[1] != 3 {
		t.Errorf("expected [3 3], got %v", deletes)
	}

	acc.reset()
	if !acc.empty() {
		t.Error("expected accumulator to be empty after reset")
	}
	if len(deletes) != 2 {
		t.Error("reset must not alter a batch handed to the store")
	}
}

func TestBatcher_UpdateThenDelete(t *testing.T) {
	h := startBatcher(t, zap.NewNop())

	h.queue.Push(unit.Unit{ID: 1, X: 10, Y: 20})
	h.queue.Push(unit.Unit{ID: 1, Deleted: true})
	h.obs.waitDequeued(t, 2)

	h.clock.Step(DefaultFlushInterval + time.Millisecond)
	res := h.obs.waitFlush(t)
	if res.Err != nil {
		t.Fatalf("unexpected flush error: %v", res.Err)
	}

	upserts, deletes := h.store.calls()
	if len(deletes) != 1 || len(deletes[0]) != 1 || deletes[0][0] != 1 {
		t.Fatalf("expected id 1 in a single delete call, got %v", deletes)
	}
	if len(upserts) != 1 {
		t.Fatalf("expected one upsert call, got %d", len(upserts))
	}
	if ops := h.store.order(); !slices.Equal(ops, []string{"upsert", "delete"}) {
		t.Errorf("expected updates written before deletes, got %v", ops)
	}
}

func TestBatcher_ThousandDistinctUpdates(t *testing.T) {
	h := startBatcher(t, zap.NewNop())

	for i := 1; i <= 1000; i++ {
		h.queue.Push(unit.Unit{ID: uint64(i), X: float64(i)})
	}
	h.obs.waitDequeued(t, 1000)

	h.clock.Step(DefaultFlushInterval + time.Millisecond)
	res := h.obs.waitFlush(t)
	if res.Err != nil || res.Updated != 1000 || res.Deleted != 0 {
		t.Fatalf("unexpected flush result: %+v", res)
	}

	upserts, deletes := h.store.calls()
	if len(upserts) != 1 || len(upserts[0]) != 1000 {
		t.Fatalf("expected exactly one upsert of 1000 units, got %d calls", len(upserts))
	}
	if len(deletes) != 0 {
		t.Errorf("expected no delete calls, got %d", len(deletes))
	}
}

func TestBatcher_NoFlushBeforeInterval(t *testing.T) {
	h := startBatcher(t, zap.NewNop())

	h.queue.Push(unit.Unit{ID: 9})
	h.obs.waitDequeued(t, 1)
	h.clock.Step(DefaultFlushInterval / 2)
	time.Sleep(20 * time.Millisecond)

	if upserts, _ := h.store.calls(); len(upserts) != 0 {
		t.Errorf("expected no flush before the interval elapsed, got %d", len(upserts))
	}
}

func TestBatcher_FailedFlushRetainsBatch(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	h := startBatcher(t, zap.New(core))
	h.store.setFailing(true)

	h.queue.Push(unit.Unit{ID: 1, X: 1})
	h.queue.Push(unit.Unit{ID: 2, Deleted: true})
	h.obs.waitDequeued(t, 2)

	h.clock.Step(DefaultFlushInterval + time.Millisecond)
	if res := h.obs.waitFlush(t); !errors.Is(res.Err, errStoreDown) {
		t.Fatalf("expected store error, got %v", res.Err)
	}
	if logs.FilterMessage("flush failed, retaining batch").Len() == 0 {
		t.Error("expected a warning for the failed flush")
	}

	// Folded into the retained batch while the store is still down.
	h.queue.Push(unit.Unit{ID: 3, X: 3})
	h.obs.waitDequeued(t, 1)
	h.store.setFailing(false)

	var res FlushResult
	for res = h.obs.waitFlush(t); res.Err != nil; res = h.obs.waitFlush(t) {
	}
	if res.Updated != 2 || res.Deleted != 1 {
		t.Fatalf("expected retained batch plus new unit, got %+v", res)
	}

	upserts, deletes := h.store.calls()
	if len(upserts) != 1 || upserts[0][0].ID != 1 || upserts[0][1].ID != 3 {
		t.Errorf("unexpected upserts: %+v", upserts)
	}
	if len(deletes) != 1 || deletes[0][0] != 2 {
		t.Errorf("unexpected deletes: %v", deletes)
	}
}

func TestBatcher_CancelDropsPendingWithoutFlush(t *testing.T) {
	h := startBatcher(t, zap.NewNop())

	h.queue.Push(unit.Unit{ID: 5})
	h.obs.waitDequeued(t, 1)

	h.cancel()
	select {
	case err := <-h.done:
		if err != nil {
			t.Errorf("expected nil on cancellation, got %v", err)
		}
		h.done <- err
	case <-time.After(time.Second):
		t.Fatal("batcher did not stop after cancellation")
	}

	if upserts, _ := h.store.calls(); len(upserts) != 0 {
		t.Errorf("expected no final flush, got %d upserts", len(upserts))
	}
}
