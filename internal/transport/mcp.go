package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/logging"
)

// MCPClient is the subset of the mcp-go client used by MCPTransport.
type MCPClient interface {
	Start(ctx context.Context) error
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// ClientFactory builds an unstarted MCP client for a descriptor.
type ClientFactory func(d Descriptor) (MCPClient, error)

// DefaultClientFactory maps each Kind onto the matching mcp-go transport.
func DefaultClientFactory(d Descriptor) (MCPClient, error) {
	switch d.Kind {
	case KindPipe:
		return client.NewClient(mcptransport.NewStdio(d.Command, d.Env, d.Args...)), nil
	case KindStreaming:
		return client.NewSSEMCPClient(d.URL, mcptransport.WithHeaders(d.Headers))
	case KindHTTP:
		return client.NewStreamableHttpClient(d.URL, mcptransport.WithHTTPHeaders(d.Headers))
	}
	return nil, fmt.Errorf("unknown transport kind %q", d.Kind)
}

// Option configures an MCPTransport.
type Option func(*MCPTransport) error

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *MCPTransport) error {
		if logger != nil {
			t.logger = logger
		}
		return nil
	}
}

// WithClientFactory replaces DefaultClientFactory, mostly for tests.
func WithClientFactory(f ClientFactory) Option {
	return func(t *MCPTransport) error {
		if f == nil {
			return errors.New("client factory must not be nil")
		}
		t.factory = f
		return nil
	}
}

// WithClientInfo sets the implementation name and version sent in initialize.
func WithClientInfo(name, version string) Option {
	return func(t *MCPTransport) error {
		t.clientInfo = mcp.Implementation{Name: name, Version: version}
		return nil
	}
}

// MCPTransport implements Transport on top of an mcp-go client.
//
// For pipes the mcp-go stdio transport runs one reader goroutine that routes
// responses to waiting callers by JSON-RPC id. That map is the only
// serialization point inside the transport; callers that need strictly one
// call in flight check Multiplexed and serialize themselves.
type MCPTransport struct {
	desc       Descriptor
	factory    ClientFactory
	logger     *slog.Logger
	clientInfo mcp.Implementation

	mu         sync.RWMutex
	client     MCPClient
	lifeCancel context.CancelFunc
	closed     bool

	alive atomic.Bool
}

// New creates an unconnected transport for d.
func New(d Descriptor, opts ...Option) (*MCPTransport, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	t := &MCPTransport{
		desc:       d,
		factory:    DefaultClientFactory,
		logger:     slog.Default(),
		clientInfo: mcp.Implementation{Name: "mcp-kubernetes-chat", Version: "dev"},
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	t.logger = t.logger.With(logging.Transport(d.ID), logging.TransportKind(string(d.Kind)))
	return t, nil
}

func (t *MCPTransport) ID() string             { return t.desc.ID }
func (t *MCPTransport) Kind() Kind             { return t.desc.Kind }
func (t *MCPTransport) Descriptor() Descriptor { return t.desc }
func (t *MCPTransport) Multiplexed() bool      { return t.desc.IsMultiplexed() }
func (t *MCPTransport) Alive() bool            { return t.alive.Load() }

// Connect creates the client, starts it and performs the initialize
// handshake. A previous connection is torn down first.
func (t *MCPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return &ConnectionError{Transport: t.desc.ID, Kind: t.desc.Kind, Reason: "connect", Err: ErrClosed}
	}
	t.teardownLocked()

	timeout := t.desc.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	t.logger.Debug("connecting transport",
		logging.Host(t.desc.URL),
		slog.String("command", t.desc.Command),
		slog.Any("headers", logging.SanitizeHeaders(t.desc.Headers)))

	c, err := t.factory(t.desc)
	if err != nil {
		return &ConnectionError{Transport: t.desc.ID, Kind: t.desc.Kind, Reason: "create client", Err: err}
	}

	// The subprocess and the SSE stream live as long as the connection, not
	// as long as the connect call.
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	if err := c.Start(lifeCtx); err != nil {
		lifeCancel()
		_ = c.Close()
		return &ConnectionError{Transport: t.desc.ID, Kind: t.desc.Kind, Reason: "start", Err: err}
	}

	_, err = c.Initialize(connectCtx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo:      t.clientInfo,
		},
	})
	if err != nil {
		lifeCancel()
		_ = c.Close()
		var protoErr *ProtocolError
		if classified := classifyCallError(connectCtx, t.desc.ID, t.desc.Kind, "initialize", timeout, err); errors.As(classified, &protoErr) {
			return classified
		}
		return &ConnectionError{Transport: t.desc.ID, Kind: t.desc.Kind, Reason: "initialize", Err: err}
	}

	t.client = c
	t.lifeCancel = lifeCancel
	t.alive.Store(true)

	t.logger.Info("transport connected", logging.Duration(time.Since(start)))
	return nil
}

// ListProcedures lists the host's tools, filtered by the descriptor's
// include and exclude patterns.
func (t *MCPTransport) ListProcedures(ctx context.Context) ([]Procedure, error) {
	c, err := t.currentClient()
	if err != nil {
		return nil, err
	}

	resp, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		classified := classifyCallError(ctx, t.desc.ID, t.desc.Kind, "tools/list", 0, err)
		t.noteFailure(classified)
		return nil, classified
	}

	procs := make([]Procedure, 0, len(resp.Tools))
	for _, tool := range resp.Tools {
		if !t.desc.allowsTool(tool.Name) {
			continue
		}
		p, err := procedureFromTool(tool)
		if err != nil {
			return nil, &ProtocolError{Transport: t.desc.ID, Reason: fmt.Sprintf("tool %q has an unreadable schema", tool.Name), Err: err}
		}
		procs = append(procs, p)
	}
	return procs, nil
}

// Invoke calls name with args. Host-reported failures become ExecutionError.
func (t *MCPTransport) Invoke(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*Result, error) {
	c, err := t.currentClient()
	if err != nil {
		return nil, err
	}

	resp, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		classified := classifyCallError(ctx, t.desc.ID, t.desc.Kind, name, timeout, err)
		t.noteFailure(classified)
		return nil, classified
	}
	if resp == nil {
		return nil, &ProtocolError{Transport: t.desc.ID, Procedure: name, Reason: "empty response"}
	}

	res := decodeResult(resp)
	if resp.IsError {
		msg := res.Text
		if msg == "" {
			msg = "tool reported an error without a message"
		}
		return nil, &ExecutionError{Procedure: name, Message: msg, Payload: res.Payload}
	}
	return res, nil
}

// Close shuts the client down. Calls in flight fail with a ConnectionError.
func (t *MCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	err := t.teardownLocked()
	t.logger.Debug("transport closed")
	return err
}

func (t *MCPTransport) teardownLocked() error {
	t.alive.Store(false)
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	if t.lifeCancel != nil {
		t.lifeCancel()
		t.lifeCancel = nil
	}
	t.client = nil
	return err
}

func (t *MCPTransport) currentClient() (MCPClient, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, &ConnectionError{Transport: t.desc.ID, Kind: t.desc.Kind, Reason: "call", Err: ErrClosed}
	}
	if t.client == nil {
		return nil, &ConnectionError{Transport: t.desc.ID, Kind: t.desc.Kind, Reason: "call", Err: ErrNotConnected}
	}
	return t.client, nil
}

func (t *MCPTransport) noteFailure(err error) {
	if errors.Is(err, ErrConnectionFailed) {
		if t.alive.Swap(false) {
			t.logger.Warn("transport marked dead", logging.SanitizedErr(err))
		}
	}
}

// defaultInputSchema is used for tools that advertise no schema.
func defaultInputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
		"required":   []any{},
	}
}

func procedureFromTool(tool mcp.Tool) (Procedure, error) {
	// Round-trip through JSON so both InputSchema and RawInputSchema are honoured.
	raw, err := json.Marshal(tool)
	if err != nil {
		return Procedure{}, err
	}
	var wire struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		InputSchema map[string]any `json:"inputSchema"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Procedure{}, err
	}
	if len(wire.InputSchema) == 0 {
		wire.InputSchema = defaultInputSchema()
	}
	return Procedure{Name: wire.Name, Description: wire.Description, InputSchema: wire.InputSchema}, nil
}

func decodeResult(resp *mcp.CallToolResult) *Result {
	var texts []string
	for _, content := range resp.Content {
		switch c := content.(type) {
		case mcp.TextContent:
			texts = append(texts, c.Text)
		case *mcp.TextContent:
			texts = append(texts, c.Text)
		}
	}
	text := strings.Join(texts, "\n")

	res := &Result{Text: text}
	switch {
	case resp.StructuredContent != nil:
		res.Payload = resp.StructuredContent
	case text == "":
		res.Payload = nil
	default:
		var decoded any
		if err := json.Unmarshal([]byte(text), &decoded); err == nil {
			res.Payload = decoded
		} else {
			res.Payload = text
		}
	}
	return res
}
