package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Status derives from the rolling error rate of an operation class
type Status int

const (
	StatusHealthy Status = iota
	StatusWarning
	StatusCritical
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusWarning:
		return "warning"
	case StatusCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Status thresholds: warning at 10% rolling error rate, critical at 25%.
// Fewer than minSamples observations always reads healthy.
const (
	warningErrorRate  = 0.10
	criticalErrorRate = 0.25
	minSamples        = 10
)

// ErrorEntry is one recent failure kept for operator inspection
type ErrorEntry struct {
	Operation string    `json:"operation"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// ClassReport is the health snapshot of one operation class
type ClassReport struct {
	Class        OperationClass `json:"class"`
	Status       string         `json:"status"`
	Total        int64          `json:"total"`
	Succeeded    int64          `json:"succeeded"`
	Failed       int64          `json:"failed"`
	ErrorRate    float64        `json:"errorRate"`
	RecentErrors []ErrorEntry   `json:"recentErrors,omitempty"`
}

// Report is the overall health snapshot served at /health
type Report struct {
	Status  string        `json:"status"`
	Classes []ClassReport `json:"classes"`
}

const recentErrorCap = 10

// classMetrics tracks one operation class
type classMetrics struct {
	window       *slidingWindow
	total        int64
	succeeded    int64
	failed       int64
	recentErrors []ErrorEntry
}

// HealthMonitor keeps rolling per-class operation metrics and derives a
// health status from them. It is shared across tasks and guards its own
// state with a single mutex; it never takes another lock while held.
type HealthMonitor struct {
	mu      sync.Mutex
	classes map[OperationClass]*classMetrics
	logger  *zap.Logger

	opsTotal  *prometheus.CounterVec
	opLatency *prometheus.HistogramVec

	lastOverall Status
}

// NewHealthMonitor creates a monitor, registering its collectors
func NewHealthMonitor(reg prometheus.Registerer, logger *zap.Logger) *HealthMonitor {
	m := &HealthMonitor{
		classes: make(map[OperationClass]*classMetrics),
		logger:  logger,
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acs_operations_total",
			Help: "Operations per class and outcome",
		}, []string{"class", "outcome"}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "acs_operation_duration_seconds",
			Help:    "Operation latency per class",
			Buckets: prometheus.DefBuckets,
		}, []string{"class"}),
	}
	if reg != nil {
		reg.MustRegister(m.opsTotal, m.opLatency)
	}
	return m
}

func (m *HealthMonitor) class(c OperationClass) *classMetrics {
	cm, ok := m.classes[c]
	if !ok {
		cm = &classMetrics{window: newSlidingWindow(time.Minute)}
		m.classes[c] = cm
	}
	return cm
}

// Record registers one operation outcome
func (m *HealthMonitor) Record(class OperationClass, operation string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.opsTotal.WithLabelValues(string(class), outcome).Inc()
	m.opLatency.WithLabelValues(string(class)).Observe(duration.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()

	cm := m.class(class)
	cm.total++
	cm.window.record(err == nil)
	if err == nil {
		cm.succeeded++
		return
	}
	cm.failed++
	cm.recentErrors = append(cm.recentErrors, ErrorEntry{
		Operation: operation,
		Message:   err.Error(),
		At:        time.Now(),
	})
	if len(cm.recentErrors) > recentErrorCap {
		cm.recentErrors = cm.recentErrors[len(cm.recentErrors)-recentErrorCap:]
	}
}

func statusOf(stats windowStats) Status {
	if stats.total < minSamples {
		return StatusHealthy
	}
	rate := float64(stats.failures) / float64(stats.total)
	switch {
	case rate >= criticalErrorRate:
		return StatusCritical
	case rate >= warningErrorRate:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

// ClassStatus returns the current status of one operation class
func (m *HealthMonitor) ClassStatus(class OperationClass) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return statusOf(m.class(class).window.stats())
}

// Overall returns the worst status across classes
func (m *HealthMonitor) Overall() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	worst := StatusHealthy
	for _, cm := range m.classes {
		if s := statusOf(cm.window.stats()); s > worst {
			worst = s
		}
	}
	return worst
}

// Snapshot builds the full health report
func (m *HealthMonitor) Snapshot() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := Report{Status: StatusHealthy.String()}
	worst := StatusHealthy
	for class, cm := range m.classes {
		stats := cm.window.stats()
		status := statusOf(stats)
		if status > worst {
			worst = status
		}
		rate := 0.0
		if stats.total > 0 {
			rate = float64(stats.failures) / float64(stats.total)
		}
		report.Classes = append(report.Classes, ClassReport{
			Class:        class,
			Status:       status.String(),
			Total:        cm.total,
			Succeeded:    cm.succeeded,
			Failed:       cm.failed,
			ErrorRate:    rate,
			RecentErrors: append([]ErrorEntry(nil), cm.recentErrors...),
		})
	}
	report.Status = worst.String()
	return report
}

// StartSampler launches the background task that samples overall health
// each interval and logs state changes.
func (m *HealthMonitor) StartSampler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				current := m.Overall()
				m.mu.Lock()
				previous := m.lastOverall
				m.lastOverall = current
				m.mu.Unlock()
				if current != previous {
					m.logger.Warn("health status changed",
						zap.String("from", previous.String()),
						zap.String("to", current.String()),
					)
				}
			}
		}
	}()
}

// ----------------------------------------------------------------------
// Sliding window of success/failure buckets (1-second granularity)
// ----------------------------------------------------------------------

type slidingWindow struct {
	windowSize time.Duration
	buckets    []bucket
}

type bucket struct {
	timestamp time.Time
	successes int
	failures  int
}

type windowStats struct {
	total     int
	successes int
	failures  int
}

func newSlidingWindow(windowSize time.Duration) *slidingWindow {
	return &slidingWindow{windowSize: windowSize}
}

// record is called under the monitor's mutex
func (w *slidingWindow) record(success bool) {
	now := time.Now()
	w.cleanup(now)

	bucketTime := now.Truncate(time.Second)
	var current *bucket
	for i := range w.buckets {
		if w.buckets[i].timestamp.Equal(bucketTime) {
			current = &w.buckets[i]
			break
		}
	}
	if current == nil {
		w.buckets = append(w.buckets, bucket{timestamp: bucketTime})
		current = &w.buckets[len(w.buckets)-1]
	}
	if success {
		current.successes++
	} else {
		current.failures++
	}
}

func (w *slidingWindow) stats() windowStats {
	cutoff := time.Now().Add(-w.windowSize)
	stats := windowStats{}
	for _, b := range w.buckets {
		if b.timestamp.After(cutoff) {
			stats.successes += b.successes
			stats.failures += b.failures
		}
	}
	stats.total = stats.successes + stats.failures
	return stats
}

func (w *slidingWindow) cleanup(now time.Time) {
	cutoff := now.Add(-w.windowSize)
	i := 0
	for i < len(w.buckets) && w.buckets[i].timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.buckets = w.buckets[i:]
	}
}
