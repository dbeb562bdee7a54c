package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/conversation"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/dispatch"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/llm"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/transport"
)

var configEnvVars = []string{
	"OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_API_KEY", "MODEL_PROVIDER",
	"MODEL_DEPLOYMENT", "MODEL_TEMPERATURE", "KUBECONFIG", "TRANSCRIPT_PATH", "LOG_LEVEL",
	"SERVE_ADDR", "TOOL_CALL_TIMEOUT", "TURN_BUDGET", "SESSION_IDLE_TIMEOUT", "OUTPUT_MASK_SECRETS",
}

// clearEnv unsets every variable ApplyEnv reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvVars {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, llm.ProviderOpenAI, cfg.Model.Provider)
	assert.Equal(t, DefaultModel, cfg.Model.Deployment)
	assert.Equal(t, dispatch.DefaultTimeout, cfg.Dispatch.Timeout)
	assert.Equal(t, dispatch.DefaultRetryPolicy(), cfg.Dispatch.Retry)
	assert.Equal(t, conversation.DefaultTurnBudget, cfg.Conversation.TurnBudget)
	assert.Equal(t, conversation.DefaultMaxHistory, cfg.Conversation.MaxHistory)
	assert.Equal(t, []transport.Descriptor{DefaultTransport()}, cfg.Transports)
	assert.True(t, cfg.Output.MaskSecrets)

	err = cfg.Validate()
	require.Error(t, err, "no api key")
	assert.Contains(t, err.Error(), "model.api_key is required")
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_CHAT_KEY", "sk-from-env")

	path := writeFile(t, `
model:
  provider: azure
  endpoint: https://example.openai.azure.com
  api_key: ${TEST_CHAT_KEY}
  deployment: gpt-4o
transports:
  - id: prod
    kind: http
    url: https://mcp.example.com/mcp
    context: prod
    default: true
    headers:
      Authorization: Bearer abc
  - id: local
    kind: pipe
    command: mcp-kubernetes
    args: [serve]
    exclude_tools: ["kubernetes_delete*"]
dispatch:
  timeout: 10s
  max_concurrency: 4
  retry:
    max_attempts: 3
conversation:
  turn_budget: 8
  model_timeout: 1m
output:
  sample_items: 20
transcript:
  path: /tmp/chat.db
serve:
  addr: 127.0.0.1:9090
  session_idle_timeout: 5m
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, llm.ProviderAzure, cfg.Model.Provider)
	assert.Equal(t, "sk-from-env", cfg.Model.APIKey)
	assert.InDelta(t, DefaultTemperature, cfg.Model.Temperature, 0.001, "unset fields keep defaults")

	require.Len(t, cfg.Transports, 2)
	assert.Equal(t, transport.KindHTTP, cfg.Transports[0].Kind)
	assert.True(t, cfg.Transports[0].Default)
	assert.Equal(t, "Bearer abc", cfg.Transports[0].Headers["Authorization"])
	assert.Equal(t, []string{"kubernetes_delete*"}, cfg.Transports[1].ExcludeTools)

	assert.Equal(t, 10*time.Second, cfg.Dispatch.Timeout)
	assert.Equal(t, 4, cfg.Dispatch.MaxConcurrency)
	assert.Equal(t, uint(3), cfg.Dispatch.Retry.MaxAttempts)
	assert.Equal(t, dispatch.DefaultRetryPolicy().InitialInterval, cfg.Dispatch.Retry.InitialInterval)

	assert.Equal(t, 8, cfg.Conversation.TurnBudget)
	assert.Equal(t, time.Minute, cfg.Conversation.ModelTimeout)
	assert.Equal(t, conversation.DefaultSystemPrompt, cfg.Conversation.SystemPrompt)
	assert.Equal(t, 20, cfg.Output.SampleItems)
	assert.Equal(t, "/tmp/chat.db", cfg.Transcript.Path)
	assert.Equal(t, "127.0.0.1:9090", cfg.Serve.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Serve.SessionIdleTimeout)

	assert.Len(t, cfg.DispatchOptions(), 3)
	assert.Len(t, cfg.EngineOptions(), 5)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "model: [unterminated"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("AZURE_OPENAI_ENDPOINT", "https://env.openai.azure.com")
	t.Setenv("MODEL_DEPLOYMENT", "gpt-4.1")
	t.Setenv("MODEL_TEMPERATURE", "0.2")
	t.Setenv("TOOL_CALL_TIMEOUT", "45s")
	t.Setenv("TURN_BUDGET", "not-a-number")
	t.Setenv("SESSION_IDLE_TIMEOUT", "2h")
	t.Setenv("OUTPUT_MASK_SECRETS", "false")

	cfg := Default()
	ApplyEnv(cfg)

	assert.Equal(t, "sk-env", cfg.Model.APIKey)
	assert.Equal(t, llm.ProviderAzure, cfg.Model.Provider)
	assert.Equal(t, "https://env.openai.azure.com", cfg.Model.Endpoint)
	assert.Equal(t, "gpt-4.1", cfg.Model.Deployment)
	assert.InDelta(t, 0.2, cfg.Model.Temperature, 0.001)
	assert.Equal(t, 45*time.Second, cfg.Dispatch.Timeout)
	assert.Equal(t, conversation.DefaultTurnBudget, cfg.Conversation.TurnBudget, "invalid values are ignored")
	assert.Equal(t, 2*time.Hour, cfg.Serve.SessionIdleTimeout)
	assert.False(t, cfg.Output.MaskSecrets)
}

func TestValidate_ReportsEveryField(t *testing.T) {
	cfg := Default()
	cfg.Model.APIKey = "sk"
	cfg.Transports = []transport.Descriptor{
		{ID: "a", Kind: transport.KindPipe},
		{ID: "a", Kind: transport.KindHTTP, URL: "https://x"},
	}
	cfg.Dispatch.MaxConcurrency = -1
	cfg.Conversation.TurnBudget = 0
	cfg.Output.SampleItems = 5000
	cfg.Logging.Format = "xml"
	cfg.Serve.SessionIdleTimeout = -time.Second

	err := cfg.Validate()
	require.Error(t, err)

	for _, want := range []string{
		"transports[0]",
		`duplicate id "a"`,
		"dispatch.max_concurrency",
		"conversation.turn_budget",
		"output.sample_items",
		"logging.format",
		"serve.session_idle_timeout",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_NoTransports(t *testing.T) {
	cfg := Default()
	cfg.Model.APIKey = "sk"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one transport")
}

func TestValidateWithoutModel(t *testing.T) {
	cfg := Default()
	cfg.Transports = []transport.Descriptor{DefaultTransport()}

	require.Error(t, cfg.Validate(), "api key is missing")
	assert.NoError(t, cfg.ValidateWithoutModel())
}

func TestFindConfig(t *testing.T) {
	t.Run("explicit path must exist", func(t *testing.T) {
		_, err := FindConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("explicit path", func(t *testing.T) {
		path := writeFile(t, "{}")
		got, err := FindConfig(path)
		require.NoError(t, err)
		assert.Equal(t, path, got)
	})

	t.Run("working directory", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{}"), 0o600))
		t.Chdir(dir)

		got, err := FindConfig("")
		require.NoError(t, err)
		assert.Equal(t, FileName, got)
	})
}
