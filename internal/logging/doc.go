// Package logging provides structured logging utilities for mcp-kubernetes-chat.
//
// All components log through log/slog. This package keeps attribute names
// consistent (tool, cluster_context, call_id, transport, session) and redacts
// values that must not reach logs, such as transport header secrets and IP
// addresses embedded in tool host URLs.
//
// # Usage Patterns
//
//	logger := logging.WithOperation(slog.Default(), "dispatch")
//	logger.Info("tool call finished",
//	    logging.Tool("list_pods_in_namespace"),
//	    logging.Context("prod-eu"),
//	    logging.Duration(elapsed))
//
// Headers and URLs are sanitized before logging:
//
//	logger.Debug("connecting", logging.Host(url),
//	    slog.Any("headers", logging.SanitizeHeaders(headers)))
package logging
