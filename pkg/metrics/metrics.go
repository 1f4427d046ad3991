package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "incredible_squaring"

// AggregatorMetrics are the collectors of the aggregator service. A nil *AggregatorMetrics is valid
// and records nothing.
type AggregatorMetrics struct {
	SignaturesTotal  *prometheus.CounterVec
	QuorumsReached   prometheus.Counter
	SubmissionsTotal *prometheus.CounterVec
	TasksCreated     *prometheus.CounterVec
	OpenTasks        prometheus.Gauge
}

func NewAggregatorMetrics(reg prometheus.Registerer) *AggregatorMetrics {
	factory := promauto.With(reg)
	return &AggregatorMetrics{
		SignaturesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "signatures_total",
			Help:      "Signed responses received, by outcome",
		}, []string{"outcome"}),
		QuorumsReached: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "quorums_reached_total",
			Help:      "Tasks whose signed stake crossed the threshold",
		}),
		SubmissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "submissions_total",
			Help:      "respondToTask submissions (status=success/failure)",
		}, []string{"status"}),
		TasksCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "tasks_created_total",
			Help:      "createNewTask transactions (status=success/failure)",
		}, []string{"status"}),
		OpenTasks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "open_tasks",
			Help:      "Tasks currently tracked by the aggregation engine",
		}),
	}
}

func (m *AggregatorMetrics) ObserveSignature(outcome string) {
	if m == nil {
		return
	}
	m.SignaturesTotal.WithLabelValues(outcome).Inc()
}

func (m *AggregatorMetrics) ObserveQuorumReached() {
	if m == nil {
		return
	}
	m.QuorumsReached.Inc()
}

func (m *AggregatorMetrics) ObserveSubmission(err error) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(statusLabel(err)).Inc()
}

func (m *AggregatorMetrics) ObserveTaskCreated(err error) {
	if m == nil {
		return
	}
	m.TasksCreated.WithLabelValues(statusLabel(err)).Inc()
}

func (m *AggregatorMetrics) SetOpenTasks(n int) {
	if m == nil {
		return
	}
	m.OpenTasks.Set(float64(n))
}

// ChallengerMetrics are the collectors of the challenger service.
type ChallengerMetrics struct {
	EventsTotal      *prometheus.CounterVec
	VerdictsTotal    *prometheus.CounterVec
	ChallengesRaised *prometheus.CounterVec
	TrackedTasks     prometheus.Gauge
}

func NewChallengerMetrics(reg prometheus.Registerer) *ChallengerMetrics {
	factory := promauto.With(reg)
	return &ChallengerMetrics{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "challenger",
			Name:      "events_total",
			Help:      "Task manager events processed, by event name",
		}, []string{"event"}),
		VerdictsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "challenger",
			Name:      "verdicts_total",
			Help:      "Evaluated task responses (verdict=clean/disputed)",
		}, []string{"verdict"}),
		ChallengesRaised: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "challenger",
			Name:      "challenges_raised_total",
			Help:      "raiseAndResolveChallenge transactions (status=success/failure)",
		}, []string{"status"}),
		TrackedTasks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "challenger",
			Name:      "tracked_tasks",
			Help:      "Task records held inside the challenge window",
		}),
	}
}

func (m *ChallengerMetrics) SetTrackedTasks(n int) {
	if m == nil {
		return
	}
	m.TrackedTasks.Set(float64(n))
}

func (m *ChallengerMetrics) ObserveEvent(event string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(event).Inc()
}

func (m *ChallengerMetrics) ObserveVerdict(verdict string) {
	if m == nil {
		return
	}
	m.VerdictsTotal.WithLabelValues(verdict).Inc()
}

func (m *ChallengerMetrics) ObserveChallenge(err error) {
	if m == nil {
		return
	}
	m.ChallengesRaised.WithLabelValues(statusLabel(err)).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
