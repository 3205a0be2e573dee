package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/unitsync/internal/batch"
	"github.com/dgnsrekt/unitsync/internal/config"
)

type captured struct {
	path   string
	header http.Header
	body   string
}

func ntfyServer(t *testing.T, status int) (*httptest.Server, <-chan captured) {
	t.Helper()
	reqs := make(chan captured, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		reqs <- captured{path: r.URL.Path, header: r.Header.Clone(), body: string(body)}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, reqs
}

func testConfig(server string) config.NotifyConfig {
	return config.NotifyConfig{
		Enabled:  true,
		Server:   server + "/",
		Topic:    "unitsync-alerts",
		Priority: "default",
		Tags:     "satellite",
		Token:    "tk_secret",
	}
}

func TestClient_SendFlushFailing(t *testing.T) {
	srv, reqs := ntfyServer(t, http.StatusOK)
	c := NewClient(testConfig(srv.URL), zap.NewNop())

	err := c.SendFlushFailing(context.Background(), FailureReport{
		Failures: 5,
		Since:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Updated:  10,
		Deleted:  2,
		Err:      errors.New("connection refused"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := <-reqs
	if req.path != "/unitsync-alerts" {
		t.Errorf("expected topic path, got %q", req.path)
	}
	if req.header.Get("Priority") != "high" {
		t.Errorf("expected high priority, got %q", req.header.Get("Priority"))
	}
	if req.header.Get("Tags") != "satellite,warning" {
		t.Errorf("unexpected tags %q", req.header.Get("Tags"))
	}
	if req.header.Get("Authorization") != "Bearer tk_secret" {
		t.Errorf("expected bearer token, got %q", req.header.Get("Authorization"))
	}
	for _, want := range []string{"Consecutive failures: 5", "2026-01-02T03:04:05Z", "Retained updates: 10", "connection refused"} {
		if !strings.Contains(req.body, want) {
			t.Errorf("body missing %q:\n%s", want, req.body)
		}
	}
}

func TestClient_NonSuccessStatus(t *testing.T) {
	srv, _ := ntfyServer(t, http.StatusForbidden)
	c := NewClient(testConfig(srv.URL), zap.NewNop())

	if err := c.SendFatal(context.Background(), errors.New("boom")); err == nil {
		t.Error("expected error for 403 response")
	}
}

func TestNew_DisabledIsNoop(t *testing.T) {
	n := New(config.NotifyConfig{Enabled: false}, zap.NewNop())
	if _, ok := n.(*NoopNotifier); !ok {
		t.Fatalf("expected NoopNotifier, got %T", n)
	}
	if err := n.SendFatal(context.Background(), errors.New("x")); err != nil {
		t.Errorf("noop returned %v", err)
	}
}

type recordingNotifier struct {
	mu        sync.Mutex
	failing   []FailureReport
	recovered []RecoveryReport
}

func (r *recordingNotifier) SendFlushFailing(_ context.Context, report FailureReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing = append(r.failing, report)
	return nil
}

func (r *recordingNotifier) SendFlushRecovered(_ context.Context, report RecoveryReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recovered = append(r.recovered, report)
	return nil
}

func (r *recordingNotifier) SendFatal(context.Context, error) error { return nil }

func (r *recordingNotifier) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failing), len(r.recovered)
}

func TestWatcher_AlertsOncePerStreak(t *testing.T) {
	rec := &recordingNotifier{}
	w := NewWatcher(rec, 3, zap.NewNop())
	errDown := errors.New("store down")

	w.Flushed(batch.FlushResult{Err: errDown})
	w.Flushed(batch.FlushResult{Err: errDown})
	w.Wait()
	if f, _ := rec.counts(); f != 0 {
		t.Fatalf("expected no alert below threshold, got %d", f)
	}

	for i := 0; i < 5; i++ {
		w.Flushed(batch.FlushResult{Updated: 4, Err: errDown})
	}
	w.Wait()
	if f, _ := rec.counts(); f != 1 {
		t.Fatalf("expected exactly one alert per streak, got %d", f)
	}
	if rec.failing[0].Failures != 3 || rec.failing[0].Updated != 4 {
		t.Errorf("unexpected report: %+v", rec.failing[0])
	}

	w.Flushed(batch.FlushResult{Updated: 4, Deleted: 1})
	w.Wait()
	if _, r := rec.counts(); r != 1 {
		t.Fatalf("expected a recovery notification, got %d", r)
	}
	if rec.recovered[0].Failures != 7 {
		t.Errorf("expected 7 failed attempts in recovery report, got %d", rec.recovered[0].Failures)
	}

	// A second streak alerts again.
	for i := 0; i < 3; i++ {
		w.Flushed(batch.FlushResult{Err: errDown})
	}
	w.Wait()
	if f, _ := rec.counts(); f != 2 {
		t.Errorf("expected a new alert for a new streak, got %d", f)
	}
}

func TestWatcher_NoRecoveryWithoutAlert(t *testing.T) {
	rec := &recordingNotifier{}
	w := NewWatcher(rec, 5, zap.NewNop())

	w.Flushed(batch.FlushResult{Err: errors.New("blip")})
	w.Flushed(batch.FlushResult{Updated: 1})
	w.Wait()

	if f, r := rec.counts(); f != 0 || r != 0 {
		t.Errorf("expected no notifications, got %d failing %d recovered", f, r)
	}
}
