// Package config loads the mcp-kubernetes-chat configuration file.
//
// Values come from three layers, later ones winning: built-in defaults, the
// YAML file (with ${VAR} expansion), then well-known environment variables.
// Command-line flags are applied on top by the cmd package.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/conversation"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/dispatch"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/llm"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/output"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/transport"
)

const (
	// FileName is looked up in the working directory.
	FileName = "mcp-kubernetes-chat.yaml"

	// DefaultModel is used when no deployment is configured.
	DefaultModel = "gpt-4o-mini"

	// DefaultTemperature matches the interactive chat default.
	DefaultTemperature = 0.7

	// DefaultServeAddr is the listen address of the serve command.
	DefaultServeAddr = ":8080"

	// DefaultSessionIdleTimeout terminates abandoned serve sessions.
	DefaultSessionIdleTimeout = 30 * time.Minute

	envValueTrue = "true"
)

// Config is the complete configuration.
type Config struct {
	Model      llm.Config             `yaml:"model"`
	Transports []transport.Descriptor `yaml:"transports"`

	// Kubeconfig is used to expand per_context transports and by the
	// contexts command. Empty uses the client-go default loading rules.
	Kubeconfig string `yaml:"kubeconfig"`

	Dispatch     DispatchConfig     `yaml:"dispatch"`
	Conversation ConversationConfig `yaml:"conversation"`
	Output       output.Config      `yaml:"output"`
	Transcript   TranscriptConfig   `yaml:"transcript"`
	Logging      LoggingConfig      `yaml:"logging"`
	Serve        ServeConfig        `yaml:"serve"`
}

// DispatchConfig bounds tool calls.
type DispatchConfig struct {
	// Timeout bounds one tool call including retries.
	Timeout time.Duration `yaml:"timeout"`

	// MaxConcurrency caps calls in flight per turn. Zero means unbounded.
	MaxConcurrency int `yaml:"max_concurrency"`

	Retry dispatch.RetryPolicy `yaml:"retry"`
}

// ConversationConfig configures the engine.
type ConversationConfig struct {
	SystemPrompt string        `yaml:"system_prompt"`
	TurnBudget   int           `yaml:"turn_budget"`
	ModelTimeout time.Duration `yaml:"model_timeout"`
	MaxHistory   int           `yaml:"max_history"`
}

// TranscriptConfig enables the SQLite transcript when Path is set.
type TranscriptConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServeConfig configures the HTTP session host.
type ServeConfig struct {
	Addr               string        `yaml:"addr"`
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
}

// DefaultTransport runs mcp-kubernetes over stdio, one process per
// kubeconfig context.
func DefaultTransport() transport.Descriptor {
	return transport.Descriptor{
		ID:         "kubernetes",
		Kind:       transport.KindPipe,
		Command:    "mcp-kubernetes",
		Args:       []string{"serve", "--transport", "stdio"},
		PerContext: true,
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Model: llm.Config{
			Provider:    llm.ProviderOpenAI,
			Deployment:  DefaultModel,
			Temperature: DefaultTemperature,
		},
		Dispatch: DispatchConfig{
			Timeout: dispatch.DefaultTimeout,
			Retry:   dispatch.DefaultRetryPolicy(),
		},
		Conversation: ConversationConfig{
			SystemPrompt: conversation.DefaultSystemPrompt,
			TurnBudget:   conversation.DefaultTurnBudget,
			ModelTimeout: conversation.DefaultModelTimeout,
			MaxHistory:   conversation.DefaultMaxHistory,
		},
		Output: *output.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
		Serve: ServeConfig{
			Addr:               DefaultServeAddr,
			SessionIdleTimeout: DefaultSessionIdleTimeout,
		},
	}
}

// DefaultSearchPaths returns the config file search order.
func DefaultSearchPaths() []string {
	paths := []string{FileName}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mcp-kubernetes-chat", "config.yaml"))
	}
	return paths
}

// FindConfig locates a config file. An explicit path must exist. Otherwise
// the first existing entry of DefaultSearchPaths is returned, or "" when
// there is none.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// Load reads path over the defaults. An empty path yields the defaults.
// Environment overrides are applied in both cases and the default transport
// is added when none is configured.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	ApplyEnv(cfg)
	if len(cfg.Transports) == 0 {
		cfg.Transports = []transport.Descriptor{DefaultTransport()}
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the environment variables that are set.
// Invalid numeric values are logged and ignored.
func ApplyEnv(cfg *Config) {
	loadEnvIfSet(&cfg.Model.APIKey, "OPENAI_API_KEY")
	if endpoint := os.Getenv("AZURE_OPENAI_ENDPOINT"); endpoint != "" {
		cfg.Model.Endpoint = endpoint
		cfg.Model.Provider = llm.ProviderAzure
	}
	loadEnvIfSet(&cfg.Model.APIKey, "AZURE_OPENAI_API_KEY")
	loadEnvIfSet((*string)(&cfg.Model.Provider), "MODEL_PROVIDER")
	loadEnvIfSet(&cfg.Model.Deployment, "MODEL_DEPLOYMENT")
	if f, ok := parseFloat32Env(os.Getenv("MODEL_TEMPERATURE"), "MODEL_TEMPERATURE"); ok {
		cfg.Model.Temperature = f
	}

	loadEnvIfSet(&cfg.Kubeconfig, "KUBECONFIG")
	loadEnvIfSet(&cfg.Transcript.Path, "TRANSCRIPT_PATH")
	loadEnvIfSet(&cfg.Logging.Level, "LOG_LEVEL")
	loadEnvIfSet(&cfg.Serve.Addr, "SERVE_ADDR")

	if d, ok := parseDurationEnv(os.Getenv("TOOL_CALL_TIMEOUT"), "TOOL_CALL_TIMEOUT"); ok {
		cfg.Dispatch.Timeout = d
	}
	if n, ok := parseIntEnv(os.Getenv("TURN_BUDGET"), "TURN_BUDGET"); ok {
		cfg.Conversation.TurnBudget = n
	}
	if d, ok := parseDurationEnv(os.Getenv("SESSION_IDLE_TIMEOUT"), "SESSION_IDLE_TIMEOUT"); ok {
		cfg.Serve.SessionIdleTimeout = d
	}
	if v := os.Getenv("OUTPUT_MASK_SECRETS"); v != "" {
		cfg.Output.MaskSecrets = v == envValueTrue
	}
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	return errors.Join(c.Model.Validate(), c.ValidateWithoutModel())
}

// ValidateWithoutModel is Validate minus the model settings, for commands
// that only talk to tool servers.
func (c *Config) ValidateWithoutModel() error {
	var errs []error
	if len(c.Transports) == 0 {
		errs = append(errs, errors.New("transports: at least one transport is required"))
	}
	seen := map[string]bool{}
	for i, d := range c.Transports {
		if err := d.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("transports[%d]: %w", i, err))
		}
		if d.ID != "" && seen[d.ID] {
			errs = append(errs, fmt.Errorf("transports[%d]: duplicate id %q", i, d.ID))
		}
		seen[d.ID] = true
	}

	if c.Dispatch.Timeout < 0 {
		errs = append(errs, fmt.Errorf("dispatch.timeout %s must not be negative", c.Dispatch.Timeout))
	}
	if c.Dispatch.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("dispatch.max_concurrency %d must not be negative", c.Dispatch.MaxConcurrency))
	}
	if c.Dispatch.Retry.Multiplier != 0 && c.Dispatch.Retry.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("dispatch.retry.multiplier %.2f must be at least 1", c.Dispatch.Retry.Multiplier))
	}

	if c.Conversation.TurnBudget < 1 {
		errs = append(errs, fmt.Errorf("conversation.turn_budget %d must be at least 1", c.Conversation.TurnBudget))
	}
	if c.Conversation.ModelTimeout < 0 {
		errs = append(errs, fmt.Errorf("conversation.model_timeout %s must not be negative", c.Conversation.ModelTimeout))
	}
	if c.Conversation.MaxHistory < 0 {
		errs = append(errs, fmt.Errorf("conversation.max_history %d must not be negative", c.Conversation.MaxHistory))
	}

	if c.Output.MaxResponseBytes < 0 || c.Output.MaxResponseBytes > output.AbsoluteMaxResponseBytes {
		errs = append(errs, fmt.Errorf("output.max_response_bytes %d must be between 0 and %d", c.Output.MaxResponseBytes, output.AbsoluteMaxResponseBytes))
	}
	if c.Output.SampleItems < 0 || c.Output.SampleItems > output.AbsoluteMaxSampleItems {
		errs = append(errs, fmt.Errorf("output.sample_items %d must be between 0 and %d", c.Output.SampleItems, output.AbsoluteMaxSampleItems))
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be text or json", c.Logging.Format))
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q must be debug, info, warn or error", c.Logging.Level))
	}

	if c.Serve.SessionIdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("serve.session_idle_timeout %s must not be negative", c.Serve.SessionIdleTimeout))
	}
	return errors.Join(errs...)
}

// DispatchOptions returns the dispatcher options for c.
func (c *Config) DispatchOptions() []dispatch.Option {
	return []dispatch.Option{
		dispatch.WithTimeout(c.Dispatch.Timeout),
		dispatch.WithRetryPolicy(c.Dispatch.Retry),
		dispatch.WithMaxConcurrency(c.Dispatch.MaxConcurrency),
	}
}

// EngineOptions returns the conversation engine options for c.
func (c *Config) EngineOptions() []conversation.Option {
	return []conversation.Option{
		conversation.WithSystemPrompt(c.Conversation.SystemPrompt),
		conversation.WithTurnBudget(c.Conversation.TurnBudget),
		conversation.WithModelTimeout(c.Conversation.ModelTimeout),
		conversation.WithMaxHistory(c.Conversation.MaxHistory),
		conversation.WithOutput(output.NewProcessor(&c.Output)),
	}
}

func loadEnvIfSet(target *string, envKey string) {
	if v := os.Getenv(envKey); v != "" {
		*target = v
	}
}

func parseDurationEnv(value, envName string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Warning: invalid duration for %s=%q: %v", envName, value, err)
		return 0, false
	}
	return d, true
}

func parseIntEnv(value, envName string) (int, bool) {
	if value == "" {
		return 0, false
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: invalid integer for %s=%q: %v", envName, value, err)
		return 0, false
	}
	return n, true
}

func parseFloat32Env(value, envName string) (float32, bool) {
	if value == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(value, 32)
	if err != nil {
		log.Printf("Warning: invalid float for %s=%q: %v", envName, value, err)
		return 0, false
	}
	return float32(f), true
}
