// Package config loads runtime settings from environment variables
// prefixed RACCOON_.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Settings holds every configuration key the runtime reads, loaded from
// environment variables prefixed RACCOON_ (e.g. RACCOON_GRPC_PORT).
type Settings struct {
	GRPCPort        int `mapstructure:"grpc_port"`
	MaxWorkers      int `mapstructure:"max_workers"`
	MaxMessageSize  int `mapstructure:"max_message_size"`

	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	OpenAIAPIKey    string `mapstructure:"openai_api_key"`
	DefaultModel    string `mapstructure:"default_model"`

	E2BAPIKey          string `mapstructure:"e2b_api_key"`
	E2BBaseURL         string `mapstructure:"e2b_base_url"`
	SandboxTimeout     int    `mapstructure:"sandbox_timeout"`
	SandboxMaxCPU      int    `mapstructure:"sandbox_max_cpu"`
	SandboxMaxMemoryMB int    `mapstructure:"sandbox_max_memory_mb"`

	AgentTurnDeadline     int `mapstructure:"agent_turn_deadline"`
	ToolCallDeadline      int `mapstructure:"tool_call_deadline"`
	CodeExecutionDeadline int `mapstructure:"code_execution_deadline"`

	OTELEndpoint string `mapstructure:"otel_endpoint"`
	MetricsPort  int    `mapstructure:"metrics_port"`
}

// AgentTurnDeadlineDuration is AgentTurnDeadline as a time.Duration.
func (s Settings) AgentTurnDeadlineDuration() time.Duration {
	return time.Duration(s.AgentTurnDeadline) * time.Second
}

// ToolCallDeadlineDuration is ToolCallDeadline as a time.Duration.
func (s Settings) ToolCallDeadlineDuration() time.Duration {
	return time.Duration(s.ToolCallDeadline) * time.Second
}

// CodeExecutionDeadlineDuration is CodeExecutionDeadline as a time.Duration.
func (s Settings) CodeExecutionDeadlineDuration() time.Duration {
	return time.Duration(s.CodeExecutionDeadline) * time.Second
}

// SandboxTimeoutDuration is SandboxTimeout as a time.Duration.
func (s Settings) SandboxTimeoutDuration() time.Duration {
	return time.Duration(s.SandboxTimeout) * time.Second
}

// Load reads Settings from the environment, applying the defaults below to
// any RACCOON_-prefixed variable that is unset.
func Load() (Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("RACCOON")
	v.AutomaticEnv()

	defaults := map[string]any{
		"grpc_port":                50051,
		"max_workers":              10,
		"max_message_size":         52428800,
		"anthropic_api_key":        "",
		"openai_api_key":           "",
		"default_model":            "claude-sonnet-4-6",
		"e2b_api_key":              "",
		"e2b_base_url":             "https://api.e2b.dev",
		"sandbox_timeout":          300,
		"sandbox_max_cpu":          8,
		"sandbox_max_memory_mb":    8192,
		"agent_turn_deadline":      60,
		"tool_call_deadline":       20,
		"code_execution_deadline":  45,
		"otel_endpoint":            "",
		"metrics_port":             9090,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
		// AutomaticEnv only binds keys viper already knows about; explicit
		// BindEnv ensures RACCOON_<KEY> is read even before any Get call.
		if err := v.BindEnv(key); err != nil {
			return Settings{}, err
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, err
	}
	return s, nil
}
