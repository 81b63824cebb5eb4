package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	PipelineMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_messages_total",
			Help: "Total number of messages processed by the routing pipeline (count)",
		},
		[]string{"status"},
	)

	PipelineLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_latency_ms",
			Help:    "End-to-end pipeline latency from intake to publish in milliseconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 30000},
		},
		[]string{"path"},
	)

	PipelineStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_ms",
			Help:    "Per-stage processing duration in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250},
		},
		[]string{"stage"},
	)

	IntegrityRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integrity_rejections_total",
			Help: "Total number of messages rejected by the constitutional validator (count)",
		},
		[]string{"reason"},
	)

	ScoringDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scoring_duration_ms",
			Help:    "Impact scoring duration in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
		},
	)

	ScoringDegradedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scoring_degraded_total",
			Help: "Total number of messages scored without the semantic sub-score (count)",
		},
	)

	RoleDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "role_denials_total",
			Help: "Total number of actions denied by role separation enforcement (count)",
		},
		[]string{"role", "action"},
	)

	RoutingDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routing_decisions_total",
			Help: "Total number of routing decisions (count)",
		},
		[]string{"path"},
	)

	DeliberationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deliberation_requests_total",
			Help: "Total number of deliberation requests by terminal decision (count)",
		},
		[]string{"decision"},
	)

	DeliberationPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deliberation_pending",
			Help: "Number of deliberation requests currently pending (count)",
		},
	)

	DeliberationWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deliberation_wait_duration_ms",
			Help:    "Time deliberation requests spend waiting for a decision in milliseconds",
			Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"decision"},
	)

	PublishedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "published_events_total",
			Help: "Total number of events published to the tenant event log (count)",
		},
		[]string{"event_type"},
	)

	AuditEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_total",
			Help: "Total number of audit events emitted (count)",
		},
		[]string{"outcome"},
	)

	AuditEventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_events_dropped_total",
			Help: "Total number of audit events dropped because the sink was full (count)",
		},
	)

	AggregateHealthScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aggregate_health_score",
			Help: "Aggregate dependency health score (ratio, 0.0 to 1.0)",
		},
	)

	RecoveryStrategiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_strategies_total",
			Help: "Total number of recovery strategy activations (count)",
		},
		[]string{"strategy"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	IdentityCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "identity_cache_size",
			Help: "Number of identity bindings currently cached (count)",
		},
	)

	EscalationActiveRules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "escalation_active_rules",
			Help: "Number of active escalation rules (count)",
		},
	)

	VolumeTrackedSenders = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "volume_tracked_senders",
			Help: "Number of (tenant, agent) pairs with live volume counters (count)",
		},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"service", "database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"service", "database", "operation"},
	)
)

func RegisterPipelineMetrics() {
	prometheus.MustRegister(PipelineMessagesTotal)
	prometheus.MustRegister(PipelineLatency)
	prometheus.MustRegister(PipelineStageDuration)
	prometheus.MustRegister(IntegrityRejectionsTotal)
	prometheus.MustRegister(ScoringDuration)
	prometheus.MustRegister(ScoringDegradedTotal)
	prometheus.MustRegister(RoleDenialsTotal)
	prometheus.MustRegister(RoutingDecisionsTotal)
	prometheus.MustRegister(DeliberationRequestsTotal)
	prometheus.MustRegister(DeliberationPending)
	prometheus.MustRegister(DeliberationWaitDuration)
	prometheus.MustRegister(PublishedEventsTotal)
	prometheus.MustRegister(AuditEventsTotal)
	prometheus.MustRegister(AuditEventsDroppedTotal)
	prometheus.MustRegister(AggregateHealthScore)
	prometheus.MustRegister(RecoveryStrategiesTotal)
	prometheus.MustRegister(IdentityCacheSize)
	prometheus.MustRegister(EscalationActiveRules)
	prometheus.MustRegister(VolumeTrackedSenders)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(DLQMessagesTotal)
	prometheus.MustRegister(KafkaMessagesReadTotal)
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
	prometheus.MustRegister(KafkaWriteDuration)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterRegistryMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
	prometheus.MustRegister(DatabaseQueriesTotal)
	prometheus.MustRegister(DatabaseQueryDuration)
}

func ObservePipelineLatency(path string, duration time.Duration) {
	PipelineLatency.WithLabelValues(path).Observe(float64(duration.Microseconds()) / 1000.0)
}

func ObserveStageDuration(stage string, duration time.Duration) {
	PipelineStageDuration.WithLabelValues(stage).Observe(float64(duration.Microseconds()) / 1000.0)
}

func ObserveScoringDuration(duration time.Duration) {
	ScoringDuration.Observe(float64(duration.Microseconds()) / 1000.0)
}

func IncRoutingDecision(path string) {
	RoutingDecisionsTotal.WithLabelValues(path).Inc()
}

func ObserveDeliberationWait(decision string, duration time.Duration) {
	DeliberationWaitDuration.WithLabelValues(decision).Observe(float64(duration.Milliseconds()))
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func IncDatabaseQuery(service, database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(service, database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(service, database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(service, database, operation).Observe(float64(duration.Milliseconds()))
}

func SetIdentityCacheSize(count int) {
	IdentityCacheSize.Set(float64(count))
}

func SetEscalationActiveRules(count int) {
	EscalationActiveRules.Set(float64(count))
}

func SetVolumeTrackedSenders(count int) {
	VolumeTrackedSenders.Set(float64(count))
}

func SetAggregateHealth(score float64) {
	AggregateHealthScore.Set(score)
}

func IncRecoveryStrategy(strategy string) {
	RecoveryStrategiesTotal.WithLabelValues(strategy).Inc()
}
