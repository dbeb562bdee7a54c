package transport_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/tools"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/transport"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/transport/transporttest"
)

// stdioServerEnv makes the test binary act as a stdio tool host.
const stdioServerEnv = "MCP_KUBERNETES_CHAT_TEST_STDIO_SERVER"

func TestMain(m *testing.M) {
	if os.Getenv(stdioServerEnv) == "1" {
		if err := mcpserver.ServeStdio(transporttest.NewKubernetesServer("pipe")); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func connect(t *testing.T, tr transport.Transport) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, tr.Connect(ctx))
	t.Cleanup(func() { _ = tr.Close() })
}

// exerciseTransport runs the same checks against every variant.
func exerciseTransport(t *testing.T, tr transport.Transport, cluster string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	assert.True(t, tr.Alive())

	procs, err := tr.ListProcedures(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(procs))
	for _, p := range procs {
		names = append(names, p.Name)
		assert.NotNil(t, p.InputSchema)
	}
	assert.Contains(t, names, "list_pods_in_namespace")
	assert.Contains(t, names, "echo")

	res, err := tr.Invoke(ctx, "list_pods_in_namespace", map[string]any{"namespace": "payments"}, 5*time.Second)
	require.NoError(t, err)
	payload, ok := res.Payload.(map[string]any)
	require.True(t, ok, "JSON text content should decode to an object, got %T", res.Payload)
	assert.Equal(t, cluster, payload["cluster"])
	assert.Equal(t, "payments", payload["namespace"])

	res, err = tr.Invoke(ctx, "echo", map[string]any{"message": "hi"}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Echo: hi", res.Payload)
	assert.Equal(t, "Echo: hi", res.Text)

	_, err = tr.Invoke(ctx, "fail", nil, 5*time.Second)
	var execErr *transport.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Message, "forbidden")
	assert.Equal(t, tools.KindExecution, tools.ClassifyError(err))
}

func TestMCPTransport_InProcess(t *testing.T) {
	tr, err := transporttest.NewInProcess("inproc", "", transporttest.NewKubernetesServer("inproc"))
	require.NoError(t, err)
	connect(t, tr)
	exerciseTransport(t, tr, "inproc")
}

func TestMCPTransport_StreamableHTTP(t *testing.T) {
	handler := mcpserver.NewStreamableHTTPServer(transporttest.NewKubernetesServer("http"),
		mcpserver.WithEndpointPath("/mcp"),
	)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	tr, err := transport.New(transport.Descriptor{
		ID:      "http",
		Kind:    transport.KindHTTP,
		URL:     ts.URL + "/mcp",
		Headers: map[string]string{"X-Test": "1"},
	})
	require.NoError(t, err)
	assert.True(t, tr.Multiplexed())
	connect(t, tr)
	exerciseTransport(t, tr, "http")
}

func TestMCPTransport_SSE(t *testing.T) {
	ts := mcpserver.NewTestServer(transporttest.NewKubernetesServer("sse"))
	t.Cleanup(ts.Close)

	tr, err := transport.New(transport.Descriptor{
		ID:   "sse",
		Kind: transport.KindStreaming,
		URL:  ts.URL + "/sse",
	})
	require.NoError(t, err)
	connect(t, tr)
	exerciseTransport(t, tr, "sse")
}

func TestMCPTransport_Pipe(t *testing.T) {
	tr, err := transport.New(transport.Descriptor{
		ID:      "pipe",
		Kind:    transport.KindPipe,
		Command: os.Args[0],
		Args:    []string{"-test.run=^$"},
		Env:     []string{stdioServerEnv + "=1"},
	})
	require.NoError(t, err)
	assert.False(t, tr.Multiplexed(), "pipes are single-flight by default")
	connect(t, tr)
	exerciseTransport(t, tr, "pipe")
}

func TestMCPTransport_ConcurrentInvokes(t *testing.T) {
	tr, err := transporttest.NewInProcess("inproc", "", transporttest.NewKubernetesServer("inproc"))
	require.NoError(t, err)
	connect(t, tr)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = tr.Invoke(context.Background(), "echo", map[string]any{"message": "x"}, time.Second)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestMCPTransport_Timeout(t *testing.T) {
	tr, err := transporttest.NewInProcess("inproc", "", transporttest.NewKubernetesServer("inproc"))
	require.NoError(t, err)
	connect(t, tr)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = tr.Invoke(ctx, "sleep", map[string]any{"ms": 2000}, 50*time.Millisecond)
	elapsed := time.Since(start)

	var timeoutErr *transport.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.True(t, errors.Is(err, transport.ErrTimeout))
	assert.Less(t, elapsed, time.Second)
	assert.True(t, tr.Alive(), "a timeout does not kill the transport")
}

func TestMCPTransport_CloseIsIdempotent(t *testing.T) {
	tr, err := transporttest.NewInProcess("inproc", "", transporttest.NewKubernetesServer("inproc"))
	require.NoError(t, err)
	require.NoError(t, tr.Connect(context.Background()))

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.False(t, tr.Alive())

	_, err = tr.Invoke(context.Background(), "echo", nil, time.Second)
	assert.ErrorIs(t, err, transport.ErrConnectionFailed)
	assert.ErrorIs(t, err, transport.ErrClosed)

	err = tr.Connect(context.Background())
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestMCPTransport_InvokeBeforeConnect(t *testing.T) {
	tr, err := transporttest.NewInProcess("inproc", "", transporttest.NewKubernetesServer("inproc"))
	require.NoError(t, err)

	_, err = tr.ListProcedures(context.Background())
	assert.ErrorIs(t, err, transport.ErrNotConnected)
	assert.Equal(t, tools.KindConnection, tools.ClassifyError(err))
}

func TestMCPTransport_ConnectFailure(t *testing.T) {
	tr, err := transport.New(transport.Descriptor{
		ID:      "missing",
		Kind:    transport.KindPipe,
		Command: "/nonexistent/mcp-kubernetes-server",
	})
	require.NoError(t, err)

	err = tr.Connect(context.Background())
	var connErr *transport.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "missing", connErr.Transport)
	assert.False(t, tr.Alive())
}

func TestMCPTransport_Reconnect(t *testing.T) {
	tr, err := transporttest.NewInProcess("inproc", "", transporttest.NewKubernetesServer("inproc"))
	require.NoError(t, err)
	connect(t, tr)

	require.NoError(t, tr.Connect(context.Background()), "connecting a live transport reconnects it")
	_, err = tr.Invoke(context.Background(), "echo", map[string]any{"message": "again"}, time.Second)
	assert.NoError(t, err)
}

func TestMCPTransport_ToolFilter(t *testing.T) {
	tr, err := transport.New(transport.Descriptor{
		ID:           "filtered",
		Kind:         transport.KindHTTP,
		URL:          "inprocess://filtered",
		IncludeTools: []string{"list_*", "echo"},
		ExcludeTools: []string{"list_namespaces"},
	}, transport.WithClientFactory(transporttest.InProcessFactory(transporttest.NewKubernetesServer("f"))))
	require.NoError(t, err)
	connect(t, tr)

	procs, err := tr.ListProcedures(context.Background())
	require.NoError(t, err)
	var names []string
	for _, p := range procs {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{"list_pods_in_namespace", "echo"}, names)
}
