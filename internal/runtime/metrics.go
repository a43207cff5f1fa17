package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ServiceMetrics tracks request and event statistics of a Service.
type ServiceMetrics struct {
	mu sync.RWMutex

	// Per-kind counts
	kindCounts map[string]*RequestKindMetrics
	events     map[string]uint64

	// Prometheus collectors
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	eventsTotal      *prometheus.CounterVec
	queryExpirations prometheus.Counter
	gauges           []prometheus.Collector

	registerer prometheus.Registerer
	registered bool
}

// RequestKindMetrics holds the counts for one request kind.
type RequestKindMetrics struct {
	Succeeded     uint64    `json:"succeeded"`
	Errored       uint64    `json:"errored"`
	Failed        uint64    `json:"failed"`
	LastRequestAt time.Time `json:"last_request_at,omitempty"`
}

// MetricsSnapshot provides a point-in-time view of the service metrics.
type MetricsSnapshot struct {
	TotalRequests uint64                         `json:"total_requests"`
	Kinds         map[string]*RequestKindMetrics `json:"kinds"`
	Events        map[string]uint64              `json:"events"`
	CollectedAt   time.Time                      `json:"collected_at"`
}

// newCounterVec creates a new counter vec with the standard resflow namespace.
func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resflow",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newGaugeFunc(name, help string, f func() float64) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "resflow",
			Name:      name,
			Help:      help,
		},
		f,
	)
}

// NewServiceMetrics creates a new metrics collector. A nil registerer uses
// prometheus.DefaultRegisterer.
func NewServiceMetrics(registerer prometheus.Registerer) *ServiceMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ServiceMetrics{
		kindCounts:    make(map[string]*RequestKindMetrics),
		events:        make(map[string]uint64),
		registerer:    registerer,
		requestsTotal: newCounterVec("requests_total", "Total number of handled requests", []string{"kind", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "resflow",
				Name:      "request_duration_seconds",
				Help:      "Time from handler invocation to its return",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		eventsTotal: newCounterVec("events_total", "Total number of published resource events", []string{"event"}),
		queryExpirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "resflow",
			Name:      "query_expirations_total",
			Help:      "Total number of query event subscriptions that expired",
		}),
	}
}

// observeScheduler adds gauges reading the live state of the service.
func (m *ServiceMetrics) observeScheduler(activeGroups, queuedTasks, querySubscriptions func() float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges = append(m.gauges,
		newGaugeFunc("active_groups", "Number of groups with queued or running tasks", activeGroups),
		newGaugeFunc("queued_tasks", "Number of tasks waiting for their group", queuedTasks),
		newGaugeFunc("query_subscriptions", "Number of active query event subscriptions", querySubscriptions),
	)
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *ServiceMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.requestsTotal,
		m.requestDuration,
		m.eventsTotal,
		m.queryExpirations,
	}
	collectors = append(collectors, m.gauges...)

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			// Check if it's already registered (not an error)
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordRequest records a finished request.
func (m *ServiceMetrics) RecordRequest(kind, outcome string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.getOrCreateKindMetrics(kind)
	switch outcome {
	case outcomeSuccess:
		metrics.Succeeded++
	case outcomeError:
		metrics.Errored++
	default:
		metrics.Failed++
	}
	metrics.LastRequestAt = time.Now()

	m.requestsTotal.WithLabelValues(kind, outcome).Inc()
	m.requestDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordEvent records a published event. Custom events share one label.
func (m *ServiceMetrics) RecordEvent(event string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events[event]++
	m.eventsTotal.WithLabelValues(event).Inc()
}

// RecordQueryExpiration records an expired query event subscription.
func (m *ServiceMetrics) RecordQueryExpiration() {
	m.queryExpirations.Inc()
}

// GetSnapshot returns a point-in-time snapshot of the metrics.
func (m *ServiceMetrics) GetSnapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := MetricsSnapshot{
		Kinds:       make(map[string]*RequestKindMetrics, len(m.kindCounts)),
		Events:      make(map[string]uint64, len(m.events)),
		CollectedAt: time.Now(),
	}
	for kind, metrics := range m.kindCounts {
		c := *metrics
		snapshot.Kinds[kind] = &c
		snapshot.TotalRequests += c.Succeeded + c.Errored + c.Failed
	}
	for event, n := range m.events {
		snapshot.Events[event] = n
	}
	return snapshot
}

func (m *ServiceMetrics) getOrCreateKindMetrics(kind string) *RequestKindMetrics {
	if metrics, ok := m.kindCounts[kind]; ok {
		return metrics
	}
	metrics := &RequestKindMetrics{}
	m.kindCounts[kind] = metrics
	return metrics
}

// Reset resets all metrics (useful for testing).
func (m *ServiceMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.kindCounts = make(map[string]*RequestKindMetrics)
	m.events = make(map[string]uint64)
	m.requestsTotal.Reset()
	m.requestDuration.Reset()
	m.eventsTotal.Reset()
}
