// Package cmd provides the command-line interface for mcp-kubernetes-chat.
//
// This package implements a Cobra-based CLI with multiple subcommands:
//   - chat: Interactive conversation (default behavior when no subcommand is provided)
//   - ask: A single question, answer printed to stdout
//   - tools: Lists the tools offered by the configured tool servers
//   - contexts: Lists the kubeconfig contexts per-context transports expand to
//   - serve: Hosts sessions over HTTP with health probes and metrics
//   - version: Displays the application version
//   - self-update: Updates the binary to the latest version from GitHub releases
//
// Command Structure:
//
//	mcp-kubernetes-chat [flags]                    # Starts a chat (default)
//	mcp-kubernetes-chat chat [flags]               # Explicitly starts a chat
//	mcp-kubernetes-chat ask QUESTION...            # One question, one answer
//	mcp-kubernetes-chat tools [--json]             # Shows the tool catalog
//	mcp-kubernetes-chat contexts                   # Shows kubeconfig contexts
//	mcp-kubernetes-chat serve --addr :8080         # Hosts sessions over HTTP
//	mcp-kubernetes-chat version                    # Shows version information
//	mcp-kubernetes-chat self-update                # Updates to latest release
//
// Configuration is read from --config, ./mcp-kubernetes-chat.yaml or
// $HOME/.config/mcp-kubernetes-chat/config.yaml, then overridden by
// environment variables (OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT, KUBECONFIG,
// ...) and finally by explicitly set flags. Without a config file one
// mcp-kubernetes stdio server is started per kubeconfig context.
package cmd
