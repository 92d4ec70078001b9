package kernel

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the four hot paths the spec calls out for
// testability (§8): tick accounting, budget exhaustion, context
// switches, and mutex contention. A nil *Metrics is safe to call methods
// on (Kernel.metrics may be nil when the caller doesn't register a
// registry), so admission-control and scheduling logic never branch on
// "is metrics configured".
type Metrics struct {
	Ticks             prometheus.Counter
	ContextSwitches   prometheus.Counter
	BudgetExhausted   *prometheus.CounterVec // labeled by task slot
	PeriodReleases    *prometheus.CounterVec // labeled by task slot
	AdmissionRejected *prometheus.CounterVec // labeled by reason
	MutexWaitSeconds  *prometheus.HistogramVec
}

// NewMetrics registers the kernel's series on reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid collisions across
// test-local Kernels registering on the global default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "kernel_ticks_total",
			Help: "Total scheduler ticks processed.",
		}),
		ContextSwitches: factory.NewCounter(prometheus.CounterOpts{
			Name: "kernel_context_switches_total",
			Help: "Total deferred context switches serviced.",
		}),
		BudgetExhausted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kernel_budget_exhausted_total",
			Help: "Times a task's per-period compute budget reached zero.",
		}, []string{"slot"}),
		PeriodReleases: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kernel_period_releases_total",
			Help: "Times a task's period boundary released it to READY.",
		}, []string{"slot"}),
		AdmissionRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kernel_admission_rejected_total",
			Help: "Rejected thread_create/mutex_init calls by reason.",
		}, []string{"reason"}),
		MutexWaitSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kernel_mutex_wait_seconds",
			Help:    "Simulated tick-seconds a task waited BLOCKED on a mutex.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mutex"}),
	}
}

func (m *Metrics) tick() {
	if m == nil {
		return
	}
	m.Ticks.Inc()
}

func (m *Metrics) contextSwitch() {
	if m == nil {
		return
	}
	m.ContextSwitches.Inc()
}

func (m *Metrics) budgetExhausted(slot int) {
	if m == nil {
		return
	}
	m.BudgetExhausted.WithLabelValues(slotLabel(slot)).Inc()
}

func (m *Metrics) periodRelease(slot int) {
	if m == nil {
		return
	}
	m.PeriodReleases.WithLabelValues(slotLabel(slot)).Inc()
}

func (m *Metrics) admissionRejected(reason string) {
	if m == nil {
		return
	}
	m.AdmissionRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) mutexWait(mutex int, ticks int) {
	if m == nil {
		return
	}
	m.MutexWaitSeconds.WithLabelValues(slotLabel(mutex)).Observe(float64(ticks))
}

func slotLabel(slot int) string {
	if slot < 0 {
		return "idle"
	}
	return strconv.Itoa(slot)
}
