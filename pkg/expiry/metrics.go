package expiry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records what the pipeline decided. Implementations must be safe
// for concurrent use.
type Metrics interface {
	Scheduled(delaySeconds int32)
	Rescheduled()
	Cancelled()
	Expired()
	Skipped(reason Outcome)
	NotifyFailed()
	QueueDepth(queue string, n int64)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) Scheduled(int32)          {}
func (NopMetrics) Rescheduled()             {}
func (NopMetrics) Cancelled()               {}
func (NopMetrics) Expired()                 {}
func (NopMetrics) Skipped(Outcome)          {}
func (NopMetrics) NotifyFailed()            {}
func (NopMetrics) QueueDepth(string, int64) {}

// PromMetrics records pipeline counters and queue depth gauges in Prometheus.
type PromMetrics struct {
	scheduled    prometheus.Counter
	rescheduled  prometheus.Counter
	cancelled    prometheus.Counter
	expired      prometheus.Counter
	skipped      *prometheus.CounterVec
	notifyFailed prometheus.Counter
	delay        prometheus.Histogram
	depth        *prometheus.GaugeVec
}

// NewPromMetrics registers the pipeline collectors on reg.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	f := promauto.With(reg)
	return &PromMetrics{
		scheduled: f.NewCounter(prometheus.CounterOpts{
			Name: "taskexpiry_scheduled_total",
			Help: "Expiry messages sent for newly created tasks",
		}),
		rescheduled: f.NewCounter(prometheus.CounterOpts{
			Name: "taskexpiry_rescheduled_total",
			Help: "Expiry messages sent again because the deadline lay beyond one delay window",
		}),
		cancelled: f.NewCounter(prometheus.CounterOpts{
			Name: "taskexpiry_cancelled_total",
			Help: "Tasks that left Pending before expiring",
		}),
		expired: f.NewCounter(prometheus.CounterOpts{
			Name: "taskexpiry_expired_total",
			Help: "Tasks moved to Expired",
		}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskexpiry_skipped_total",
			Help: "Expiry messages discarded without a status change",
		}, []string{"reason"}),
		notifyFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "taskexpiry_notify_failed_total",
			Help: "Expiry notifications that could not be published",
		}),
		delay: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskexpiry_delay_seconds",
			Help:    "Delay requested for expiry messages",
			Buckets: []float64{0, 1, 10, 60, 300, 600, 900},
		}),
		depth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "taskexpiry_queue_depth",
			Help: "Number of messages in each part of the expiry queue",
		}, []string{"queue"}),
	}
}

func (m *PromMetrics) Scheduled(delaySeconds int32) {
	m.scheduled.Inc()
	m.delay.Observe(float64(delaySeconds))
}

func (m *PromMetrics) Rescheduled() {
	m.rescheduled.Inc()
}

func (m *PromMetrics) Cancelled() {
	m.cancelled.Inc()
}

func (m *PromMetrics) Expired() {
	m.expired.Inc()
}

func (m *PromMetrics) Skipped(reason Outcome) {
	m.skipped.WithLabelValues(string(reason)).Inc()
}

func (m *PromMetrics) NotifyFailed() {
	m.notifyFailed.Inc()
}

func (m *PromMetrics) QueueDepth(queue string, n int64) {
	m.depth.WithLabelValues(queue).Set(float64(n))
}
