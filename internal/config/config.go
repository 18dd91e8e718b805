// Package config provides configuration loading for agentflow.
//
// Configuration is read from an optional YAML file and then overridden by
// AGENTFLOW_* environment variables. Defaults fill whatever is still unset.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete agentflow configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Pool          PoolConfig          `koanf:"pool"`
	Budget        BudgetConfig        `koanf:"budget"`
	Handoff       HandoffConfig       `koanf:"handoff"`
	Capabilities  CapabilitiesConfig  `koanf:"capabilities"`
	Events        EventsConfig        `koanf:"events"`
	Backend       BackendConfig       `koanf:"backend"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
}

// ServerConfig holds the validation API server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// PoolConfig bounds the agent pool.
type PoolConfig struct {
	// MaxConcurrentAgents is the per-type ceiling on live agents.
	MaxConcurrentAgents int `koanf:"max_concurrent_agents"`
	// AgentTimeout bounds a single backend call. Zero disables the deadline.
	AgentTimeout Duration `koanf:"agent_timeout"`
}

// BudgetConfig holds the token budget table used when building isolated contexts.
type BudgetConfig struct {
	Baseline   int            `koanf:"baseline"`
	PhaseBonus map[string]int `koanf:"phase_bonus"`
}

// HandoffConfig controls handoff compression between stages.
type HandoffConfig struct {
	TargetTokens int  `koanf:"target_tokens"`
	MaxResources int  `koanf:"max_resources"`
	ScrubSecrets bool `koanf:"scrub_secrets"`
}

// CapabilitiesConfig declares which external capabilities are available.
type CapabilitiesConfig struct {
	Available []string `koanf:"available"`
	// File is an optional TOML file listing available capabilities.
	File  string `koanf:"file"`
	Watch bool   `koanf:"watch"`
}

// EventsConfig configures the progress event sink.
type EventsConfig struct {
	NATSURL string `koanf:"nats_url"`
	Subject string `koanf:"subject"`
}

// Backend kinds.
const (
	BackendHTTP     = "http"
	BackendLLM      = "llm"
	BackendTemporal = "temporal"
)

// BackendConfig configures the task-execution backend.
type BackendConfig struct {
	// Kind selects the backend: http, llm or temporal.
	Kind      string   `koanf:"kind"`
	URL       string   `koanf:"url"`
	APIKey    Secret   `koanf:"api_key"`
	RateLimit float64  `koanf:"rate_limit"`
	Burst     int      `koanf:"burst"`
	Timeout   Duration `koanf:"timeout"`

	LLM      LLMConfig      `koanf:"llm"`
	Temporal TemporalConfig `koanf:"temporal"`
}

// LLMConfig configures the OpenAI-compatible completion backend.
type LLMConfig struct {
	BaseURL     string  `koanf:"base_url"`
	Model       string  `koanf:"model"`
	APIKey      Secret  `koanf:"api_key"`
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`
}

// TemporalConfig configures durable task dispatch through Temporal.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
	// MaxAttempts bounds activity attempts. The default of 1 disables retries.
	MaxAttempts int32 `koanf:"max_attempts"`
	// Executor is the backend kind workers run tasks with: http or llm.
	Executor string `koanf:"executor"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	Endpoint        string `koanf:"endpoint"`
	Protocol        string `koanf:"protocol"`
	Insecure        bool   `koanf:"insecure"`
}

// LoggingConfig holds the subset of logging options exposed through config files.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown timeout is not positive
//   - Pool ceiling, budget baseline or handoff target is not positive
//   - Backend rate limit is negative
//   - Backend kind or Temporal executor is unknown
//   - Service name is empty (when telemetry is enabled)
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Pool.MaxConcurrentAgents < 1 {
		return fmt.Errorf("pool.max_concurrent_agents must be >= 1, got %d", c.Pool.MaxConcurrentAgents)
	}
	if c.Budget.Baseline < 1 {
		return fmt.Errorf("budget.baseline must be >= 1, got %d", c.Budget.Baseline)
	}
	for phase, bonus := range c.Budget.PhaseBonus {
		if bonus < 0 {
			return fmt.Errorf("budget.phase_bonus[%s] must be >= 0, got %d", phase, bonus)
		}
	}
	if c.Handoff.TargetTokens < 1 {
		return fmt.Errorf("handoff.target_tokens must be >= 1, got %d", c.Handoff.TargetTokens)
	}
	if c.Backend.RateLimit < 0 {
		return fmt.Errorf("backend.rate_limit must be >= 0, got %f", c.Backend.RateLimit)
	}
	switch c.Backend.Kind {
	case BackendHTTP, BackendLLM, BackendTemporal:
	default:
		return fmt.Errorf("invalid backend.kind: %q (want http, llm or temporal)", c.Backend.Kind)
	}
	switch c.Backend.Temporal.Executor {
	case BackendHTTP, BackendLLM:
	default:
		return fmt.Errorf("invalid backend.temporal.executor: %q (want http or llm)", c.Backend.Temporal.Executor)
	}
	if c.Backend.Temporal.MaxAttempts < 1 {
		return fmt.Errorf("backend.temporal.max_attempts must be >= 1, got %d", c.Backend.Temporal.MaxAttempts)
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Pool.MaxConcurrentAgents == 0 {
		cfg.Pool.MaxConcurrentAgents = 3
	}
	if cfg.Pool.AgentTimeout == 0 {
		cfg.Pool.AgentTimeout = Duration(5 * time.Minute)
	}

	if cfg.Budget.Baseline == 0 {
		cfg.Budget.Baseline = 4000
	}
	if cfg.Budget.PhaseBonus == nil {
		cfg.Budget.PhaseBonus = map[string]int{
			"analysis":       1000,
			"design":         2000,
			"planning":       1000,
			"implementation": 4000,
			"testing":        2000,
			"refactoring":    2000,
		}
	}

	if cfg.Handoff.TargetTokens == 0 {
		cfg.Handoff.TargetTokens = 500
	}
	if cfg.Handoff.MaxResources == 0 {
		cfg.Handoff.MaxResources = 10
	}

	if cfg.Events.Subject == "" {
		cfg.Events.Subject = "agentflow.events"
	}

	if cfg.Backend.Kind == "" {
		cfg.Backend.Kind = BackendHTTP
	}
	if cfg.Backend.Burst == 0 {
		cfg.Backend.Burst = 1
	}
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = Duration(2 * time.Minute)
	}
	if cfg.Backend.Temporal.HostPort == "" {
		cfg.Backend.Temporal.HostPort = "localhost:7233"
	}
	if cfg.Backend.Temporal.Namespace == "" {
		cfg.Backend.Temporal.Namespace = "default"
	}
	if cfg.Backend.Temporal.TaskQueue == "" {
		cfg.Backend.Temporal.TaskQueue = "agentflow-tasks"
	}
	if cfg.Backend.Temporal.MaxAttempts == 0 {
		cfg.Backend.Temporal.MaxAttempts = 1
	}
	if cfg.Backend.Temporal.Executor == "" {
		cfg.Backend.Temporal.Executor = BackendHTTP
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "agentflow"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
	}
	if cfg.Observability.Protocol == "" {
		cfg.Observability.Protocol = "grpc"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}
