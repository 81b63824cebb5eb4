package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Constitution   ConstitutionConfig
	Scoring        ScoringConfig
	Routing        RoutingConfig
	Deliberation   DeliberationConfig
	Policy         PolicyConfig
	Semantic       SemanticConfig
	Identity       IdentityConfig
	Health         HealthConfig
	Recovery       RecoveryConfig
	Registry       RegistryConfig
	CircuitBreaker CircuitBreakerConfig
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig
	Redis         RedisConfig
	MongoDB       MongoDBConfig
	RunMigrations bool `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers           []string    `mapstructure:"brokers"`
	GroupID           string      `mapstructure:"group_id"`
	Namespace         string      `mapstructure:"namespace"`
	InboundTopic      string      `mapstructure:"inbound_topic"`
	AuditTopic        string      `mapstructure:"audit_topic"`
	ConfigUpdateTopic string      `mapstructure:"config_update_topic"`
	DLQTopic          string      `mapstructure:"dlq_topic"`
	Retry             RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ConstitutionConfig carries the injected constitutional hash. It is
// deployment configuration, never a compiled-in literal, so operators can
// rotate it without rebuilding.
type ConstitutionConfig struct {
	Hash string `mapstructure:"hash"`
}

type ScoringConfig struct {
	Weights         ScoreWeights       `mapstructure:"weights"`
	PermissionTiers PermissionTiers    `mapstructure:"permission_tiers"`
	Volume          VolumeConfig       `mapstructure:"volume"`
	Context         ContextScoreConfig `mapstructure:"context"`
}

type ScoreWeights struct {
	Semantic   float64 `mapstructure:"semantic"`
	Permission float64 `mapstructure:"permission"`
	Volume     float64 `mapstructure:"volume"`
	Context    float64 `mapstructure:"context"`
}

// PermissionTiers maps capability tiers to sub-scores. Policy constants, not
// business logic; defaults follow the documented breakpoints.
type PermissionTiers struct {
	Low    float64 `mapstructure:"low"`
	Medium float64 `mapstructure:"medium"`
	High   float64 `mapstructure:"high"`
}

type VolumeConfig struct {
	WindowSeconds    int                `mapstructure:"window_seconds"`
	DefaultThreshold float64            `mapstructure:"default_threshold"`
	TenantThresholds map[string]float64 `mapstructure:"tenant_thresholds"`
}

type ContextScoreConfig struct {
	BaselineWindowSeconds int     `mapstructure:"baseline_window_seconds"`
	DeviationCap          float64 `mapstructure:"deviation_cap"`
}

type RoutingConfig struct {
	// DeliberationThreshold is the composite score at or above which a message
	// is routed to the deliberation path.
	DeliberationThreshold float64 `mapstructure:"deliberation_threshold"`
	WorkerCount           int     `mapstructure:"worker_count"`
	LaneDepth             int     `mapstructure:"lane_depth"`
}

type DeliberationConfig struct {
	DecisionWait   time.Duration `mapstructure:"decision_wait"`
	EscalationWait time.Duration `mapstructure:"escalation_wait"`
	MaxPending     int           `mapstructure:"max_pending"`
	Token          TokenConfig   `mapstructure:"token"`
	ReloadSeconds  int           `mapstructure:"reload_seconds"`
}

type TokenConfig struct {
	SigningKey string        `mapstructure:"signing_key"`
	TTL        time.Duration `mapstructure:"ttl"`
}

type PolicyConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type SemanticConfig struct {
	Endpoint   string            `mapstructure:"endpoint"`
	Timeout    time.Duration     `mapstructure:"timeout"`
	References []ReferenceVector `mapstructure:"references"`
}

type ReferenceVector struct {
	Label  string    `mapstructure:"label"`
	Vector []float64 `mapstructure:"vector"`
}

type IdentityConfig struct {
	ReloadIntervalSeconds int           `mapstructure:"reload_interval_seconds"`
	BindingTTL            time.Duration `mapstructure:"binding_ttl"`
}

type HealthConfig struct {
	SampleIntervalSeconds int                `mapstructure:"sample_interval_seconds"`
	DependencyWeights     map[string]float64 `mapstructure:"dependency_weights"`
	DegradedThreshold     float64            `mapstructure:"degraded_threshold"`
	UnhealthyThreshold    float64            `mapstructure:"unhealthy_threshold"`
}

type RecoveryConfig struct {
	HealthThreshold float64     `mapstructure:"health_threshold"`
	Retry           RetryConfig `mapstructure:"retry"`
}

type RegistryConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	MaxRequests         uint32        `mapstructure:"max_requests"`
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
	FailureRatio        float64       `mapstructure:"failure_ratio"`
	MinRequests         uint32        `mapstructure:"min_requests"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
