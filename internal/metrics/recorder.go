package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgnsrekt/unitsync/internal/batch"
	"github.com/dgnsrekt/unitsync/internal/epoch"
	"github.com/dgnsrekt/unitsync/internal/queue"
	"github.com/dgnsrekt/unitsync/internal/unit"
)

const namespace = "unitsync"

var (
	_ batch.Observer = (*Recorder)(nil)
	_ epoch.Observer = (*Recorder)(nil)
)

// Status is the JSON view served by the admin /status endpoint.
type Status struct {
	EpochID             string    `json:"epochId"`
	EpochRunning        bool      `json:"epochRunning"`
	EpochStarted        time.Time `json:"epochStarted"`
	Epochs              int       `json:"epochs"`
	QueueDepth          int       `json:"queueDepth"`
	Dequeued            uint64    `json:"dequeued"`
	LastFlush           time.Time `json:"lastFlush"`
	LastFlushError      string    `json:"lastFlushError,omitempty"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	RetainedUpdates     int       `json:"retainedUpdates"`
	RetainedDeletes     int       `json:"retainedDeletes"`
}

// Recorder observes the supervisor and the batcher and exposes what it sees
// as Prometheus metrics and a Status snapshot.
type Recorder struct {
	registry *prometheus.Registry

	epochs          prometheus.Counter
	epochErrors     prometheus.Counter
	discarded       prometheus.Counter
	dequeued        *prometheus.CounterVec
	flushes         *prometheus.CounterVec
	flushDuration   prometheus.Histogram
	unitsUpserted   prometheus.Counter
	unitsDeleted    prometheus.Counter
	retainedUpdates prometheus.Gauge
	retainedDeletes prometheus.Gauge
	depth           prometheus.GaugeFunc

	queue    atomic.Pointer[queue.Queue]
	dequeues atomic.Uint64

	mu     sync.Mutex
	status Status
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		epochs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "epochs_total",
			Help:      "Number of epochs started.",
		}),
		epochErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "epoch_errors_total",
			Help:      "Number of epochs that ended with an error.",
		}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_discarded_total",
			Help:      "Events left in the queue when an epoch ended.",
		}),
		dequeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dequeued_total",
			Help:      "Events taken off the queue by the batcher.",
		}, []string{"op"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Flush attempts by result.",
		}, []string{"result"}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time spent writing a batch to the store.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		unitsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_upserted_total",
			Help:      "Units written by successful flushes.",
		}),
		unitsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_deleted_total",
			Help:      "Delete ids sent by successful flushes.",
		}),
		retainedUpdates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retained_updates",
			Help:      "Updates held after the last failed flush.",
		}),
		retainedDeletes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retained_deletes",
			Help:      "Deletes held after the last failed flush.",
		}),
	}

	r.depth = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Events waiting in the current epoch's queue.",
	}, func() float64 { return float64(r.queueDepth()) })

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.epochs, r.epochErrors, r.discarded, r.dequeued, r.flushes, r.flushDuration,
		r.unitsUpserted, r.unitsDeleted, r.retainedUpdates, r.retainedDeletes, r.depth,
	)
	return r
}

func (r *Recorder) EpochStarted(id string, q *queue.Queue) {
	r.queue.Store(q)
	r.epochs.Inc()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.EpochID = id
	r.status.EpochRunning = true
	r.status.EpochStarted = time.Now()
	r.status.Epochs++
}

func (r *Recorder) EpochEnded(id string, discarded int, err error) {
	r.discarded.Add(float64(discarded))
	if err != nil {
		r.epochErrors.Inc()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.EpochID == id {
		r.status.EpochRunning = false
		r.queue.Store(nil)
	}
}

func (r *Recorder) Dequeued(u unit.Unit) {
	r.dequeues.Add(1)
	if u.Deleted {
		r.dequeued.WithLabelValues("delete").Inc()
		return
	}
	r.dequeued.WithLabelValues("update").Inc()
}

func (r *Recorder) Flushed(res batch.FlushResult) {
	r.flushDuration.Observe(res.Duration.Seconds())

	r.mu.Lock()
	defer r.mu.Unlock()

	if res.Err != nil {
		r.flushes.WithLabelValues("failure").Inc()
		r.retainedUpdates.Set(float64(res.Updated))
		r.retainedDeletes.Set(float64(res.Deleted))
		r.status.ConsecutiveFailures++
		r.status.LastFlushError = res.Err.Error()
		r.status.RetainedUpdates = res.Updated
		r.status.RetainedDeletes = res.Deleted
		return
	}

	r.flushes.WithLabelValues("success").Inc()
	r.unitsUpserted.Add(float64(res.Updated))
	r.unitsDeleted.Add(float64(res.Deleted))
	r.retainedUpdates.Set(0)
	r.retainedDeletes.Set(0)
	r.status.ConsecutiveFailures = 0
	r.status.LastFlush = time.Now()
	r.status.LastFlushError = ""
	r.status.RetainedUpdates = 0
	r.status.RetainedDeletes = 0
}

// Snapshot returns the current status.
func (r *Recorder) Snapshot() Status {
	r.mu.Lock()
	s := r.status
	r.mu.Unlock()

	s.QueueDepth = r.queueDepth()
	s.Dequeued = r.dequeues.Load()
	return s
}

// Handler serves the recorder's registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) queueDepth() int {
	if q := r.queue.Load(); q != nil {
		return q.Len()
	}
	return 0
}
