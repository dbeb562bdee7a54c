package tools

// ContextArgument is the argument name tool hosts use to select a cluster
// context on their side.
const ContextArgument = "cluster_context"

// contextArgumentAliases are accepted in addition to ContextArgument.
var contextArgumentAliases = []string{"kubeContext", "context"}

// ContextFromArguments returns the cluster context named in the call
// arguments, or "".
func ContextFromArguments(args map[string]any) string {
	if v, ok := args[ContextArgument].(string); ok && v != "" {
		return v
	}
	for _, key := range contextArgumentAliases {
		if v, ok := args[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// ResolveContext picks the routing context for req. An explicit request
// context wins; otherwise a context argument is used if known reports it as a
// registered context.
func ResolveContext(req ToolCallRequest, known func(string) bool) string {
	if req.Context != "" {
		return req.Context
	}
	hint := ContextFromArguments(req.Arguments)
	if hint != "" && known != nil && known(hint) {
		return hint
	}
	return ""
}
