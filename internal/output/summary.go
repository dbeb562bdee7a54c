package output

import (
	"encoding/json"
	"strings"
)

// ListCounts aggregates a list of Kubernetes objects by status and namespace.
// It accompanies a sampled list so the model still sees the whole picture.
type ListCounts struct {
	ByStatus    map[string]int `json:"by_status,omitempty"`
	ByNamespace map[string]int `json:"by_namespace,omitempty"`
}

// CountItems groups items by status and namespace. Items that are not
// objects are ignored. It returns nil when nothing could be counted.
func CountItems(items []any) *ListCounts {
	counts := &ListCounts{
		ByStatus:    make(map[string]int),
		ByNamespace: make(map[string]int),
	}

	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if status := extractStatus(obj); status != "" {
			counts.ByStatus[status]++
		}
		if ns := extractNamespace(obj); ns != "" {
			counts.ByNamespace[ns]++
		}
	}

	if len(counts.ByStatus) == 0 {
		counts.ByStatus = nil
	}
	if len(counts.ByNamespace) == 0 {
		counts.ByNamespace = nil
	}
	if counts.ByStatus == nil && counts.ByNamespace == nil {
		return nil
	}
	return counts
}

// extractStatus derives a status from the object's kind. Tool hosts often
// return flattened summaries ({"name", "namespace", "status"}) instead of full
// objects, so a top-level "status" or "phase" string is used as is.
func extractStatus(obj map[string]any) string {
	if s, ok := obj["status"].(string); ok {
		return s
	}
	if s, ok := obj["phase"].(string); ok {
		return s
	}

	switch strings.ToLower(extractKind(obj)) {
	case "pod":
		return extractPodStatus(obj)
	case "deployment", "replicaset", "statefulset":
		return extractWorkloadStatus(obj)
	case "node":
		return extractNodeStatus(obj)
	case "job":
		return extractJobStatus(obj)
	default:
		return extractPhaseStatus(obj)
	}
}

func extractPodStatus(obj map[string]any) string {
	if phase := extractPhaseStatus(obj); phase != "" {
		return phase
	}
	return "Unknown"
}

func extractWorkloadStatus(obj map[string]any) string {
	status, ok := obj["status"].(map[string]any)
	if !ok {
		return "Unknown"
	}

	replicas, _ := getNestedInt(obj, "spec", "replicas")
	availableReplicas, _ := getNestedInt(status, "availableReplicas")
	readyReplicas, _ := getNestedInt(status, "readyReplicas")

	if replicas == 0 {
		return "Scaled to Zero"
	}
	if readyReplicas >= replicas && availableReplicas >= replicas {
		return "Ready"
	}
	if readyReplicas > 0 {
		return "Partially Ready"
	}
	return "Not Ready"
}

func extractNodeStatus(obj map[string]any) string {
	for _, cond := range conditions(obj) {
		if cond["type"] == "Ready" {
			if cond["status"] == "True" {
				return "Ready"
			}
			return "NotReady"
		}
	}
	return "Unknown"
}

func extractJobStatus(obj map[string]any) string {
	for _, cond := range conditions(obj) {
		if cond["status"] != "True" {
			continue
		}
		switch cond["type"] {
		case "Complete":
			return "Succeeded"
		case "Failed":
			return "Failed"
		}
	}

	status, _ := obj["status"].(map[string]any)
	if succeeded, _ := getNestedInt(status, "succeeded"); succeeded > 0 {
		return "Succeeded"
	}
	if failed, _ := getNestedInt(status, "failed"); failed > 0 {
		return "Failed"
	}
	return "Running"
}

func conditions(obj map[string]any) []map[string]any {
	status, ok := obj["status"].(map[string]any)
	if !ok {
		return nil
	}
	raw, _ := status["conditions"].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, c := range raw {
		if m, ok := c.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func extractPhaseStatus(obj map[string]any) string {
	status, ok := obj["status"].(map[string]any)
	if !ok {
		return ""
	}
	phase, _ := status["phase"].(string)
	return phase
}

func extractNamespace(obj map[string]any) string {
	if ns, ok := obj["namespace"].(string); ok {
		return ns
	}
	metadata, ok := obj["metadata"].(map[string]any)
	if !ok {
		return ""
	}
	namespace, _ := metadata["namespace"].(string)
	return namespace
}

func extractKind(obj map[string]any) string {
	kind, _ := obj["kind"].(string)
	return kind
}

// getNestedInt extracts an integer from a nested path.
func getNestedInt(obj any, keys ...string) (int, bool) {
	current := obj
	for _, key := range keys {
		m, ok := current.(map[string]any)
		if !ok {
			return 0, false
		}
		current = m[key]
	}

	switch v := current.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
