package metrics

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "enterprise_access"

// Allocation outcomes used as label values.
const (
	OutcomeAllocated  = "allocated"
	OutcomeIneligible = "ineligible"
	OutcomeLocked     = "locked"
	OutcomeError      = "error"
)

// Metrics exposes Prometheus collectors for policy evaluation and allocation.
type Metrics struct {
	allocationRequests  *prometheus.CounterVec
	allocationDuration  *prometheus.HistogramVec
	eligibilityFailures *prometheus.CounterVec
	assignmentsTouched  *prometheus.CounterVec
	redemptions         *prometheus.CounterVec
	lockContention      prometheus.Counter
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns the metrics registered with the global Prometheus registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNewMetrics registers the collectors with reg, reusing collectors that are
// already registered under the same name. Other registration errors panic.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		allocationRequests: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "requests_total",
			Help:      "Allocation requests by outcome.",
		}, []string{"outcome"})),
		allocationDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "duration_seconds",
			Help:      "Time spent evaluating and allocating under the policy lock.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"})),
		eligibilityFailures: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "eligibility_failures_total",
			Help:      "Denied evaluations by reason code.",
		}, []string{"reason"})),
		assignmentsTouched: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "assignments_total",
			Help:      "Assignments returned by allocation, by partition.",
		}, []string{"partition"})),
		redemptions: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redemption",
			Name:      "requests_total",
			Help:      "Assignment redemptions by outcome.",
		}, []string{"outcome"})),
		lockContention: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "contention_total",
			Help:      "Requests rejected because the policy lock was held.",
		})),
	}
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T) T {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return collector
}

// ObserveAllocation records one allocation request.
func (m *Metrics) ObserveAllocation(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.allocationRequests.WithLabelValues(outcome).Inc()
	m.allocationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if outcome == OutcomeLocked {
		m.lockContention.Inc()
	}
}

// IncEligibilityFailure counts a denial by reason code.
func (m *Metrics) IncEligibilityFailure(reason string) {
	if m == nil {
		return
	}
	m.eligibilityFailures.WithLabelValues(reason).Inc()
}

// AddAssignments counts allocation results per partition.
func (m *Metrics) AddAssignments(updated, created, noChange int) {
	if m == nil {
		return
	}
	m.assignmentsTouched.WithLabelValues("updated").Add(float64(updated))
	m.assignmentsTouched.WithLabelValues("created").Add(float64(created))
	m.assignmentsTouched.WithLabelValues("no_change").Add(float64(noChange))
}

// IncRedemption counts a redemption attempt.
func (m *Metrics) IncRedemption(outcome string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(outcome).Inc()
}

// Handler serves the metrics in g. A nil gatherer selects the default registry.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
