// Package config provides configuration loading for issueforge.
//
// Values come from hardcoded defaults, an optional YAML file and
// ISSUEFORGE_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Execution modes.
const (
	ModeAuto       = "auto"
	ModeDelegated  = "delegated"
	ModeSequential = "sequential"
)

// Job runners backing the delegated execution path.
const (
	RunnerActions  = "actions"
	RunnerTemporal = "temporal"
)

// Agent providers.
const (
	AgentComment = "comment"
	AgentLLM     = "llm"
)

// Config holds the complete issueforge configuration.
type Config struct {
	GitHub     GitHubConfig     `koanf:"github"`
	Agent      AgentConfig      `koanf:"agent"`
	Correlator CorrelatorConfig `koanf:"correlator"`
	Execution  ExecutionConfig  `koanf:"execution"`
	Gate       GateConfig       `koanf:"gate"`
	Triggers   TriggerConfig    `koanf:"triggers"`
	Roster     RosterConfig     `koanf:"roster"`
	Retry      RetryConfig      `koanf:"retry"`
	Server     ServerConfig     `koanf:"server"`
	Temporal   TemporalConfig   `koanf:"temporal"`
	NATS       NATSConfig       `koanf:"nats"`
	Secrets    SecretsConfig    `koanf:"secrets"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// GitHubConfig holds GitHub API and webhook settings.
type GitHubConfig struct {
	Token         Secret `koanf:"token"`
	WebhookSecret Secret `koanf:"webhook_secret"`
	BaseURL       string `koanf:"base_url"`
	BotLogin      string `koanf:"bot_login"`
	DefaultBranch string `koanf:"default_branch"`
}

// AgentConfig selects and configures the agent backend.
type AgentConfig struct {
	Provider string   `koanf:"provider"`
	Model    string   `koanf:"model"`
	APIKey   Secret   `koanf:"api_key"`
	BaseURL  string   `koanf:"base_url"`
	Timeout  Duration `koanf:"timeout"`
}

// CorrelatorConfig bounds the comment polling protocol.
type CorrelatorConfig struct {
	PollInterval Duration `koanf:"poll_interval"`
	MaxAttempts  int      `koanf:"max_attempts"`
	ClockSkew    Duration `koanf:"clock_skew"`
}

// ExecutionConfig controls multi-unit phase execution.
type ExecutionConfig struct {
	Mode                string   `koanf:"mode"`
	Runner              string   `koanf:"runner"`
	PollInterval        Duration `koanf:"poll_interval"`
	MaxWait             Duration `koanf:"max_wait"`
	ResearchWorkflow    string   `koanf:"research_workflow"`
	DevelopmentWorkflow string   `koanf:"development_workflow"`
}

// GateConfig holds quality gate threshold and per-phase iteration budgets.
type GateConfig struct {
	Threshold          int `koanf:"threshold"`
	PlanIterations     int `koanf:"plan_iterations"`
	DevPlanIterations  int `koanf:"devplan_iterations"`
	ResearchIterations int `koanf:"research_iterations"`
	VerifyIterations   int `koanf:"verify_iterations"`
}

// TriggerConfig holds the label and keywords recognized on inbound events.
type TriggerConfig struct {
	Label          string `koanf:"label"`
	ApproveKeyword string `koanf:"approve_keyword"`
	RestartKeyword string `koanf:"restart_keyword"`
}

// RosterConfig is the agent roster used when a plan omits one.
type RosterConfig struct {
	Researchers []string `koanf:"researchers"`
	Developers  []string `koanf:"developers"`
	Verifiers   []string `koanf:"verifiers"`
}

// RetryConfig configures retry behavior for GitHub API calls.
type RetryConfig struct {
	MaxAttempts    int      `koanf:"max_attempts"`
	InitialBackoff Duration `koanf:"initial_backoff"`
	MaxBackoff     Duration `koanf:"max_backoff"`
}

// ServerConfig holds webhook server settings.
type ServerConfig struct {
	Addr            string   `koanf:"addr"`
	RateLimit       float64  `koanf:"rate_limit"`
	RateBurst       int      `koanf:"rate_burst"`
	MaxBodyBytes    int64    `koanf:"max_body_bytes"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// TemporalConfig holds Temporal client settings.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// NATSConfig holds event publishing settings. An empty URL disables publishing.
type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// SecretsConfig toggles scrubbing of agent output.
type SecretsConfig struct {
	Enabled bool `koanf:"enabled"`
}

// LoggingConfig is the subset of logging settings exposed to users.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// Default returns a configuration populated with production defaults.
func Default() *Config {
	return &Config{
		GitHub: GitHubConfig{
			DefaultBranch: "main",
			BotLogin:      "issueforge[bot]",
		},
		Agent: AgentConfig{
			Provider: AgentComment,
			Model:    "gpt-4o",
			Timeout:  Duration(5 * time.Minute),
		},
		Correlator: CorrelatorConfig{
			PollInterval: Duration(10 * time.Second),
			MaxAttempts:  30,
			ClockSkew:    Duration(time.Second),
		},
		Execution: ExecutionConfig{
			Mode:                ModeAuto,
			Runner:              RunnerActions,
			PollInterval:        Duration(15 * time.Second),
			MaxWait:             Duration(30 * time.Minute),
			ResearchWorkflow:    "research.yml",
			DevelopmentWorkflow: "development.yml",
		},
		Gate: GateConfig{
			Threshold:          95,
			PlanIterations:     5,
			DevPlanIterations:  3,
			ResearchIterations: 3,
			VerifyIterations:   5,
		},
		Triggers: TriggerConfig{
			Label:          "issueforge",
			ApproveKeyword: "approved",
			RestartKeyword: "restart",
		},
		Roster: RosterConfig{
			Researchers: []string{"architecture", "prior-art"},
			Developers:  []string{"backend"},
			Verifiers:   []string{"quality", "security"},
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: Duration(time.Second),
			MaxBackoff:     Duration(30 * time.Second),
		},
		Server: ServerConfig{
			Addr:            ":8080",
			RateLimit:       1,
			RateBurst:       10,
			MaxBodyBytes:    10 << 20,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "issueforge-units",
		},
		NATS: NATSConfig{
			SubjectPrefix: "issueforge",
		},
		Secrets: SecretsConfig{Enabled: true},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			ServiceName: "issueforge",
			SampleRate:  1.0,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Gate.Threshold < 1 || c.Gate.Threshold > 100 {
		errs = append(errs, fmt.Errorf("gate.threshold must be in [1,100], got %d", c.Gate.Threshold))
	}
	for name, n := range map[string]int{
		"gate.plan_iterations":     c.Gate.PlanIterations,
		"gate.devplan_iterations":  c.Gate.DevPlanIterations,
		"gate.research_iterations": c.Gate.ResearchIterations,
		"gate.verify_iterations":   c.Gate.VerifyIterations,
		"correlator.max_attempts":  c.Correlator.MaxAttempts,
		"retry.max_attempts":       c.Retry.MaxAttempts,
	} {
		if n < 1 {
			errs = append(errs, fmt.Errorf("%s must be >= 1, got %d", name, n))
		}
	}
	if c.Correlator.PollInterval.Duration() <= 0 {
		errs = append(errs, errors.New("correlator.poll_interval must be > 0"))
	}
	if c.Execution.PollInterval.Duration() <= 0 || c.Execution.MaxWait.Duration() <= 0 {
		errs = append(errs, errors.New("execution.poll_interval and execution.max_wait must be > 0"))
	}

	switch c.Execution.Mode {
	case ModeAuto, ModeDelegated, ModeSequential:
	default:
		errs = append(errs, fmt.Errorf("execution.mode must be one of auto, delegated, sequential, got %q", c.Execution.Mode))
	}
	switch c.Execution.Runner {
	case RunnerActions, RunnerTemporal:
	default:
		errs = append(errs, fmt.Errorf("execution.runner must be actions or temporal, got %q", c.Execution.Runner))
	}
	switch c.Agent.Provider {
	case AgentComment:
	case AgentLLM:
		if !c.Agent.APIKey.IsSet() {
			errs = append(errs, errors.New("agent.api_key is required for the llm provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("agent.provider must be comment or llm, got %q", c.Agent.Provider))
	}

	if c.Triggers.Label == "" || c.Triggers.ApproveKeyword == "" || c.Triggers.RestartKeyword == "" {
		errs = append(errs, errors.New("triggers.label, approve_keyword and restart_keyword are required"))
	}
	if len(c.Roster.Researchers) == 0 || len(c.Roster.Developers) == 0 || len(c.Roster.Verifiers) == 0 {
		errs = append(errs, errors.New("roster must name at least one researcher, developer and verifier"))
	}
	if c.Server.RateLimit <= 0 || c.Server.RateBurst < 1 {
		errs = append(errs, errors.New("server.rate_limit must be > 0 and server.rate_burst >= 1"))
	}

	return errors.Join(errs...)
}
