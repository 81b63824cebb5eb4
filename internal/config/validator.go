package config

import (
	"fmt"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errors = append(errors, err)
	}

	if err := validateConstitution(cfg.Constitution); err != nil {
		errors = append(errors, err)
	}

	if err := validateScoring(cfg.Scoring); err != nil {
		errors = append(errors, err)
	}

	if err := validateRouting(cfg.Routing); err != nil {
		errors = append(errors, err)
	}

	if err := validateDeliberation(cfg.Deliberation); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type == "" {
		return &ValidationError{
			Field:   "broker.type",
			Message: "broker type is required",
		}
	}

	if cfg.Type != "kafka" {
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka)", cfg.Type),
		}
	}

	return validateKafka(cfg.Kafka)
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	if cfg.Namespace == "" {
		return &ValidationError{
			Field:   "broker.kafka.namespace",
			Message: "topic namespace is required",
		}
	}

	if cfg.Retry.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.Retry.MaxInterval > 0 && cfg.Retry.InitialInterval > 0 && cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	return nil
}

func validateConstitution(cfg ConstitutionConfig) error {
	if cfg.Hash == "" {
		return &ValidationError{
			Field:   "constitution.hash",
			Message: "constitutional hash is required",
		}
	}
	return nil
}

func validateScoring(cfg ScoringConfig) error {
	sum := cfg.Weights.Semantic + cfg.Weights.Permission + cfg.Weights.Volume + cfg.Weights.Context
	if sum <= 0 {
		return &ValidationError{
			Field:   "scoring.weights",
			Message: "at least one scoring weight must be positive",
		}
	}

	for field, v := range map[string]float64{
		"scoring.permission_tiers.low":    cfg.PermissionTiers.Low,
		"scoring.permission_tiers.medium": cfg.PermissionTiers.Medium,
		"scoring.permission_tiers.high":   cfg.PermissionTiers.High,
	} {
		if v < 0 || v > 1 {
			return &ValidationError{
				Field:   field,
				Message: fmt.Sprintf("tier score must be in [0,1], got %v", v),
			}
		}
	}

	if cfg.Volume.WindowSeconds <= 0 {
		return &ValidationError{
			Field:   "scoring.volume.window_seconds",
			Message: "volume window must be positive",
		}
	}

	if cfg.Volume.DefaultThreshold <= 0 {
		return &ValidationError{
			Field:   "scoring.volume.default_threshold",
			Message: "volume threshold must be positive",
		}
	}

	return nil
}

func validateRouting(cfg RoutingConfig) error {
	if cfg.DeliberationThreshold <= 0 || cfg.DeliberationThreshold > 1 {
		return &ValidationError{
			Field:   "routing.deliberation_threshold",
			Message: fmt.Sprintf("threshold must be in (0,1], got %v", cfg.DeliberationThreshold),
		}
	}

	if cfg.WorkerCount <= 0 {
		return &ValidationError{
			Field:   "routing.worker_count",
			Message: "worker count must be positive",
		}
	}

	return nil
}

func validateDeliberation(cfg DeliberationConfig) error {
	if cfg.DecisionWait <= 0 {
		return &ValidationError{
			Field:   "deliberation.decision_wait",
			Message: "decision wait bound must be positive",
		}
	}

	if cfg.MaxPending <= 0 {
		return &ValidationError{
			Field:   "deliberation.max_pending",
			Message: "max pending must be positive",
		}
	}

	return nil
}
