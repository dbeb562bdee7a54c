package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/conversation"
)

// maxArgWidth truncates long argument values in progress lines.
const maxArgWidth = 40

// progressPrinter prints a line per finished tool call:
//
//	[1/2] list_pods_in_namespace(namespace=payments) ✓
//	[2/2] get_pod_logs(namespace=payments, pod_name=worker) ✗ Timeout: call timed out
//
// Calls of one batch finish in any order; the index is the position in the
// batch.
type progressPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w}
}

// Observe implements conversation.Observer.
func (p *progressPrinter) Observe(e conversation.Event) {
	ev, ok := e.(conversation.ToolCallFinished)
	if !ok {
		return
	}

	name := ev.Call.Name
	if ev.Call.Context != "" {
		name += "@" + ev.Call.Context
	}
	mark := "✓"
	if !ev.Result.OK() {
		mark = "✗ " + ev.Result.Summary()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.w, "  [%d/%d] %s(%s) %s\n", ev.Index+1, ev.Total, name, formatArgs(ev.Call.Arguments), mark)
}

func formatArgs(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := fmt.Sprint(args[k])
		if len(v) > maxArgWidth {
			v = v[:maxArgWidth-3] + "..."
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ", ")
}
