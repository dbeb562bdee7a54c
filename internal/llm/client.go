// Package llm adapts Azure OpenAI and OpenAI chat completions to the
// conversation engine's Model interface.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/conversation"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/logging"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/registry"
)

// Provider selects the API flavour.
type Provider string

const (
	ProviderAzure  Provider = "azure"
	ProviderOpenAI Provider = "openai"
)

// DefaultOpenAIEndpoint is used for ProviderOpenAI when no endpoint is set.
const DefaultOpenAIEndpoint = "https://api.openai.com/v1"

// Config configures the model client.
type Config struct {
	Provider Provider `yaml:"provider"`

	// Endpoint is the Azure resource URL or the OpenAI base URL.
	Endpoint string `yaml:"endpoint"`

	APIKey string `yaml:"api_key"`

	// Deployment is the Azure deployment name, or the model name for OpenAI.
	Deployment string `yaml:"deployment"`

	Temperature float32 `yaml:"temperature"`
	MaxTokens   int32   `yaml:"max_tokens"`

	// MaxRetries is passed to the SDK's retry policy. Negative disables
	// retries; zero uses the SDK default.
	MaxRetries int32 `yaml:"max_retries"`

	// AllowInsecureHTTP permits sending the key over plain HTTP, for local
	// proxies and tests.
	AllowInsecureHTTP bool `yaml:"allow_insecure_http"`
}

// Validate reports missing settings.
func (c Config) Validate() error {
	var errs []error
	switch c.Provider {
	case ProviderAzure:
		if c.Endpoint == "" {
			errs = append(errs, errors.New("model.endpoint is required for the azure provider"))
		}
	case ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("model.provider %q must be %q or %q", c.Provider, ProviderAzure, ProviderOpenAI))
	}
	if c.APIKey == "" {
		errs = append(errs, errors.New("model.api_key is required"))
	}
	if c.Deployment == "" {
		errs = append(errs, errors.New("model.deployment is required"))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("model.temperature %.2f must be between 0 and 2", c.Temperature))
	}
	return errors.Join(errs...)
}

// TokenUsage tracks token consumption across calls.
type TokenUsage struct {
	CompletionTokens int
	PromptTokens     int
	TotalTokens      int
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client implements conversation.Model on top of azopenai.
type Client struct {
	client      *azopenai.Client
	deployment  string
	temperature *float32
	maxTokens   *int32
	logger      *slog.Logger

	mu    sync.Mutex
	usage TokenUsage
}

// New creates a client for cfg.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clientOpts := &azopenai.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry:                           policy.RetryOptions{MaxRetries: cfg.MaxRetries},
			InsecureAllowCredentialWithHTTP: cfg.AllowInsecureHTTP,
		},
	}
	keyCredential := azcore.NewKeyCredential(cfg.APIKey)

	var (
		client *azopenai.Client
		err    error
	)
	switch cfg.Provider {
	case ProviderOpenAI:
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = DefaultOpenAIEndpoint
		}
		client, err = azopenai.NewClientForOpenAI(endpoint, keyCredential, clientOpts)
	default:
		client, err = azopenai.NewClientWithKeyCredential(cfg.Endpoint, keyCredential, clientOpts)
	}
	if err != nil {
		return nil, fmt.Errorf("error creating %s client: %w", cfg.Provider, err)
	}

	c := &Client{
		client:     client,
		deployment: cfg.Deployment,
		logger:     slog.Default(),
	}
	if cfg.Temperature > 0 {
		c.temperature = to.Ptr(cfg.Temperature)
	}
	if cfg.MaxTokens > 0 {
		c.maxTokens = to.Ptr(cfg.MaxTokens)
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logging.Host(cfg.Endpoint), slog.String("deployment", cfg.Deployment))
	return c, nil
}

// Complete sends history and the procedure catalog to the model.
func (c *Client) Complete(ctx context.Context, history []conversation.Message, procedures []registry.ProcedureDescriptor) (*conversation.Completion, error) {
	messages, err := toRequestMessages(history)
	if err != nil {
		return nil, err
	}
	catalog := newToolCatalog(procedures)

	options := azopenai.ChatCompletionsOptions{
		DeploymentName: to.Ptr(c.deployment),
		Messages:       messages,
		Temperature:    c.temperature,
		MaxTokens:      c.maxTokens,
	}
	if tools := catalog.definitions(); len(tools) > 0 {
		options.Tools = tools
		options.ToolChoice = azopenai.ChatCompletionsToolChoiceAuto
	}

	resp, err := c.client.GetChatCompletions(ctx, options, nil)
	if err != nil {
		return nil, err
	}
	c.recordUsage(resp.Usage)

	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return nil, errors.New("no completion received from the model")
	}
	completion := catalog.fromResponse(resp.Choices[0].Message)

	c.logger.Debug("chat completion received",
		slog.Int("tool_calls", len(completion.ToolCalls)),
		slog.Int("messages", len(messages)))
	return completion, nil
}

// GetTokenUsage returns the accumulated token usage.
func (c *Client) GetTokenUsage() TokenUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// ResetTokenUsage clears the accumulated token usage.
func (c *Client) ResetTokenUsage() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage = TokenUsage{}
}

func (c *Client) recordUsage(u *azopenai.CompletionsUsage) {
	if u == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage.CompletionTokens += int(deref(u.CompletionTokens))
	c.usage.PromptTokens += int(deref(u.PromptTokens))
	c.usage.TotalTokens += int(deref(u.TotalTokens))
}

// toRequestMessages converts the history to the wire message types.
func toRequestMessages(history []conversation.Message) ([]azopenai.ChatRequestMessageClassification, error) {
	out := make([]azopenai.ChatRequestMessageClassification, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case conversation.RoleSystem:
			out = append(out, &azopenai.ChatRequestSystemMessage{
				Content: azopenai.NewChatRequestSystemMessageContent(m.Content),
			})
		case conversation.RoleUser:
			out = append(out, &azopenai.ChatRequestUserMessage{
				Content: azopenai.NewChatRequestUserMessageContent(m.Content),
			})
		case conversation.RoleAssistant:
			msg := &azopenai.ChatRequestAssistantMessage{}
			if m.Content != "" || len(m.ToolCalls) == 0 {
				msg.Content = azopenai.NewChatRequestAssistantMessageContent(m.Content)
			}
			for _, call := range m.ToolCalls {
				args, err := json.Marshal(requestArguments(call.Arguments, call.Context))
				if err != nil {
					return nil, fmt.Errorf("encoding arguments of %s: %w", call.Name, err)
				}
				msg.ToolCalls = append(msg.ToolCalls, &azopenai.ChatCompletionsFunctionToolCall{
					ID:   to.Ptr(call.ID),
					Type: to.Ptr("function"),
					Function: &azopenai.FunctionCall{
						Name:      to.Ptr(call.Name),
						Arguments: to.Ptr(string(args)),
					},
				})
			}
			out = append(out, msg)
		case conversation.RoleTool:
			out = append(out, &azopenai.ChatRequestToolMessage{
				Content:    azopenai.NewChatRequestToolMessageContent(m.Content),
				ToolCallID: to.Ptr(m.ToolCallID),
			})
		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	return out, nil
}

// requestArguments restores the context argument the model originally sent
// so the replayed history matches what it produced.
func requestArguments(args map[string]any, clusterContext string) map[string]any {
	if clusterContext == "" {
		if args == nil {
			return map[string]any{}
		}
		return args
	}
	if _, ok := args[contextProperty]; ok {
		return args
	}
	out := make(map[string]any, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	out[contextProperty] = clusterContext
	return out
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
