package config

import (
	"fmt"
	"os"
)

// Config is the full mcpilot configuration.
type Config struct {
	// Providers to spawn at startup.
	Providers []ProviderConfig `json:"providers" mapstructure:"providers"`

	// Planner backend.
	Planner PlannerConfig `json:"planner" mapstructure:"planner"`

	// Workflow policy.
	Policy PolicyConfig `json:"policy" mapstructure:"policy"`

	// Session behavior.
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Logging.
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics listener.
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
}

// ProviderConfig describes one provider process.
type ProviderConfig struct {
	ID             string   `json:"id" mapstructure:"id"`
	Command        string   `json:"command" mapstructure:"command"`
	Args           []string `json:"args" mapstructure:"args"`
	TimeoutSeconds int      `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// PlannerConfig selects and configures the planner backend.
type PlannerConfig struct {
	Provider     string  `json:"provider" mapstructure:"provider"` // anthropic, openai
	Model        string  `json:"model" mapstructure:"model"`
	APIKeyEnv    string  `json:"api_key_env" mapstructure:"api_key_env"`
	SystemPrompt string  `json:"system_prompt" mapstructure:"system_prompt"`
	MaxTokens    int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature"`
}

// PolicyConfig assigns tool classes and bounds the turn loop.
type PolicyConfig struct {
	// Classes maps tool name -> plain | validating | gated.
	Classes map[string]string `json:"classes" mapstructure:"classes"`
	// ClassFile optionally overrides Classes with a watched JSON file.
	ClassFile  string `json:"class_file" mapstructure:"class_file"`
	CycleLimit int    `json:"cycle_limit" mapstructure:"cycle_limit"`
	// StepTimeoutSeconds bounds each individual provider call.
	StepTimeoutSeconds int `json:"step_timeout_seconds" mapstructure:"step_timeout_seconds"`
}

// SessionConfig bounds and archives conversation history.
type SessionConfig struct {
	MaxHistory    int    `json:"max_history" mapstructure:"max_history"`
	TranscriptDir string `json:"transcript_dir" mapstructure:"transcript_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig holds the optional Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// DefaultConfig returns the defaults applied before loading.
func DefaultConfig() *Config {
	return &Config{
		Planner: PlannerConfig{
			Provider:  "anthropic",
			Model:     "claude-3-5-sonnet-20241022",
			APIKeyEnv: "ANTHROPIC_API_KEY",
			MaxTokens: 4096,
		},
		Policy: PolicyConfig{
			CycleLimit:         8,
			StepTimeoutSeconds: 30,
		},
		Session: SessionConfig{
			MaxHistory: 200,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9091",
		},
	}
}

// ResolveAPIKey reads the planner credential from the environment.
func (p PlannerConfig) ResolveAPIKey() string {
	env := p.APIKeyEnv
	if env == "" {
		switch p.Provider {
		case "openai":
			env = "OPENAI_API_KEY"
		default:
			env = "ANTHROPIC_API_KEY"
		}
	}
	return os.Getenv(env)
}

// Validate checks the configuration before startup.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider %d: id is required", i)
		}
		if p.Command == "" {
			return fmt.Errorf("provider %q: command is required", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
	}

	switch c.Planner.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unsupported planner provider %q", c.Planner.Provider)
	}
	if c.Planner.Model == "" {
		return fmt.Errorf("planner model is required")
	}
	if c.Planner.Temperature < 0 || c.Planner.Temperature > 1 {
		return fmt.Errorf("planner temperature must be between 0 and 1")
	}

	for name, class := range c.Policy.Classes {
		switch class {
		case "plain", "validating", "gated":
		default:
			return fmt.Errorf("tool %q: unknown class %q", name, class)
		}
	}
	if c.Policy.CycleLimit <= 0 {
		return fmt.Errorf("policy cycle_limit must be positive")
	}

	if c.Session.MaxHistory <= 0 {
		return fmt.Errorf("session max_history must be positive")
	}

	return nil
}
