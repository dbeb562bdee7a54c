package transport

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"
)

// Kind identifies a transport variant.
type Kind string

const (
	// KindPipe runs the tool host as a subprocess and frames JSON-RPC
	// messages on its stdin/stdout.
	KindPipe Kind = "pipe"

	// KindStreaming keeps one long-lived SSE connection open and correlates
	// responses by JSON-RPC id.
	KindStreaming Kind = "streaming-http"

	// KindHTTP sends every request as an independent POST.
	KindHTTP Kind = "http"
)

// ParseKind accepts the canonical kind names plus the MCP transport names
// ("stdio", "sse", "streamable-http").
func ParseKind(s string) (Kind, error) {
	switch s {
	case "pipe", "stdio":
		return KindPipe, nil
	case "streaming-http", "streaming", "sse":
		return KindStreaming, nil
	case "http", "streamable-http":
		return KindHTTP, nil
	}
	return "", fmt.Errorf("unknown transport kind %q", s)
}

// UnmarshalText lets config files use any name ParseKind accepts.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Descriptor describes how to reach one tool host.
type Descriptor struct {
	// ID names the transport in logs and errors. Unique within a session.
	ID string `yaml:"id" json:"id"`

	Kind Kind `yaml:"kind" json:"kind"`

	// Pipe settings.
	Command string   `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`
	Env     []string `yaml:"env,omitempty" json:"env,omitempty"`

	// HTTP settings.
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// Context is the cluster context this transport serves. Empty means the
	// default context.
	Context string `yaml:"context,omitempty" json:"context,omitempty"`

	// Default marks Context as the session's default context.
	Default bool `yaml:"default,omitempty" json:"default,omitempty"`

	// Multiplexed overrides whether concurrent invocations may share the
	// channel. Pipes default to false, HTTP variants to true.
	Multiplexed *bool `yaml:"multiplexed,omitempty" json:"multiplexed,omitempty"`

	// IncludeTools and ExcludeTools filter the listed procedures by glob.
	IncludeTools []string `yaml:"include_tools,omitempty" json:"include_tools,omitempty"`
	ExcludeTools []string `yaml:"exclude_tools,omitempty" json:"exclude_tools,omitempty"`

	// PerContext expands a pipe descriptor into one transport per kubeconfig
	// context.
	PerContext bool `yaml:"per_context,omitempty" json:"per_context,omitempty"`

	// ConnectTimeout bounds spawn plus initialize. Zero uses DefaultConnectTimeout.
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty" json:"connect_timeout,omitempty"`
}

// DefaultConnectTimeout bounds Connect when the descriptor sets none.
const DefaultConnectTimeout = 30 * time.Second

// Validate checks that the descriptor carries what its kind needs.
func (d Descriptor) Validate() error {
	var errs []error
	if d.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	switch d.Kind {
	case KindPipe:
		if d.Command == "" {
			errs = append(errs, fmt.Errorf("transport %q: command is required for %s transports", d.ID, d.Kind))
		}
	case KindStreaming, KindHTTP:
		if d.URL == "" {
			errs = append(errs, fmt.Errorf("transport %q: url is required for %s transports", d.ID, d.Kind))
		}
		if d.PerContext {
			errs = append(errs, fmt.Errorf("transport %q: per_context is only supported for pipe transports", d.ID))
		}
	default:
		errs = append(errs, fmt.Errorf("transport %q: unknown kind %q", d.ID, d.Kind))
	}
	for _, pattern := range append(append([]string{}, d.IncludeTools...), d.ExcludeTools...) {
		if _, err := path.Match(pattern, ""); err != nil {
			errs = append(errs, fmt.Errorf("transport %q: invalid tool pattern %q: %w", d.ID, pattern, err))
		}
	}
	return errors.Join(errs...)
}

// IsMultiplexed reports whether concurrent invocations may share the channel.
func (d Descriptor) IsMultiplexed() bool {
	if d.Multiplexed != nil {
		return *d.Multiplexed
	}
	return d.Kind != KindPipe
}

// allowsTool applies IncludeTools then ExcludeTools.
func (d Descriptor) allowsTool(name string) bool {
	if len(d.IncludeTools) > 0 {
		matched := false
		for _, p := range d.IncludeTools {
			if ok, _ := path.Match(p, name); ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, p := range d.ExcludeTools {
		if ok, _ := path.Match(p, name); ok {
			return false
		}
	}
	return true
}

// Procedure is a tool as advertised by the host, before schema parsing.
type Procedure struct {
	Name        string
	Description string

	// InputSchema is the JSON schema object of the arguments. Never nil.
	InputSchema map[string]any
}

// Result is the raw outcome of a successful invocation.
type Result struct {
	// Payload is the structured content when the host provides it, the
	// decoded JSON of the text content when it parses, or the text itself.
	Payload any

	// Text is the concatenated text content.
	Text string
}

// Transport is a channel to one tool host.
//
// Implementations must allow Invoke from multiple goroutines; whether they
// actually run concurrently is reported by Multiplexed. Close is idempotent.
type Transport interface {
	ID() string
	Kind() Kind
	Descriptor() Descriptor

	// Connect establishes the channel and performs the protocol handshake.
	// Calling Connect on a live transport reconnects it.
	Connect(ctx context.Context) error

	// ListProcedures returns the procedures in the order the host lists them.
	ListProcedures(ctx context.Context) ([]Procedure, error)

	// Invoke calls a procedure. The deadline of ctx bounds the call; timeout
	// is only used to describe the bound in errors.
	Invoke(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*Result, error)

	// Alive reports whether the last Connect succeeded and no connection
	// failure was seen since.
	Alive() bool

	Multiplexed() bool

	Close() error
}
