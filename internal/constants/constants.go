package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
)

const (
	ShutdownTimeout = 5 * time.Second
)

// Pipeline stage names, used for metrics labels and tracing spans.
const (
	StageValidate  = "validate"
	StageScore     = "score"
	StageAuthorize = "authorize"
	StageRoute     = "route"
	StagePublish   = "publish"
)

// Routing path labels.
const (
	PathFast         = "fast"
	PathDeliberation = "deliberation"
	PathRejected     = "rejected"
)

// Tracked dependency names for breakers and the health aggregator.
const (
	DependencyPolicy   = "policy"
	DependencySemantic = "semantic"
	DependencyRedis    = "redis"
	DependencyKafka    = "kafka"
	DependencyIdentity = "identity"
	DependencyArchive  = "archive"
)

// Event types published on the tenant event log.
const (
	EventTypeDelivered = "message.delivered"
	EventTypeRejected  = "message.rejected"
	EventTypeTimedOut  = "message.timed_out"
)

const (
	CacheKeyPrefixToken = "token:"
)

const (
	DefaultInboundTopic = "agent_messages"
	DefaultAuditTopic   = "bus_audit"
)

const (
	DefaultLimit       = 100
	MaxLimit           = 1000
	DefaultTruncateLen = 100
)
