// Package transporttest provides tool hosts and transports for tests.
package transporttest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/transport"
)

// NewKubernetesServer returns an MCP server exposing a small read-only
// Kubernetes tool set backed by static data. clusterName is echoed in every
// payload so tests can tell servers apart.
//
// Tools: list_namespaces, list_pods_in_namespace, get_pod_logs, echo, fail, sleep.
func NewKubernetesServer(clusterName string) *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer("test-k8s-"+clusterName, "1.0.0",
		mcpserver.WithToolCapabilities(true),
	)

	srv.AddTool(mcp.NewTool("list_namespaces",
		mcp.WithDescription("List all namespaces"),
		mcp.WithString("cluster_context", mcp.Description("Kubernetes context")),
	), func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(map[string]any{
			"cluster":    clusterName,
			"namespaces": []string{"default", "kube-system", "payments"},
		})
	})

	srv.AddTool(mcp.NewTool("list_pods_in_namespace",
		mcp.WithDescription("List pods in a namespace"),
		mcp.WithString("namespace", mcp.Required(), mcp.Description("Namespace name")),
		mcp.WithString("cluster_context", mcp.Description("Kubernetes context")),
	), func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ns, err := req.RequireString("namespace")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{
			"cluster":   clusterName,
			"namespace": ns,
			"pods": []map[string]any{
				{"name": "api-7d9f", "status": "Running", "restarts": 0},
				{"name": "worker-5c2b", "status": "CrashLoopBackOff", "restarts": 12},
			},
		})
	})

	srv.AddTool(mcp.NewTool("get_pod_logs",
		mcp.WithDescription("Get logs of a pod"),
		mcp.WithString("namespace", mcp.Required()),
		mcp.WithString("pod_name", mcp.Required()),
		mcp.WithNumber("tail_lines", mcp.Description("Number of lines")),
	), func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		pod := req.GetString("pod_name", "")
		return mcp.NewToolResultText(fmt.Sprintf("%s: starting\n%s: ready", pod, pod)), nil
	})

	srv.AddTool(mcp.NewTool("echo",
		mcp.WithDescription("Echo the input message"),
		mcp.WithString("message", mcp.Required()),
	), func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("Echo: " + req.GetString("message", "")), nil
	})

	srv.AddTool(mcp.NewTool("fail",
		mcp.WithDescription("Always fails"),
	), func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("pods is forbidden: cannot list resource"), nil
	})

	srv.AddTool(mcp.NewTool("sleep",
		mcp.WithDescription("Sleeps for the given milliseconds"),
		mcp.WithNumber("ms", mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		d := time.Duration(req.GetFloat("ms", 0)) * time.Millisecond
		select {
		case <-time.After(d):
			return mcp.NewToolResultText("slept"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	return srv
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(raw)), nil
}

// InProcessFactory returns a client factory that connects every transport to
// srv in process.
func InProcessFactory(srv *mcpserver.MCPServer) transport.ClientFactory {
	return func(transport.Descriptor) (transport.MCPClient, error) {
		return client.NewInProcessClient(srv)
	}
}

// NewInProcess returns a connected-ready MCPTransport backed by srv.
func NewInProcess(id, clusterContext string, srv *mcpserver.MCPServer) (*transport.MCPTransport, error) {
	return transport.New(transport.Descriptor{
		ID:      id,
		Kind:    transport.KindHTTP,
		URL:     "inprocess://" + id,
		Context: clusterContext,
	}, transport.WithClientFactory(InProcessFactory(srv)))
}
