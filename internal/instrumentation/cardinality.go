package instrumentation

import "strings"

// ContextType is a low-cardinality classification of a kubeconfig context
// name used as a metric label.
type ContextType string

const (
	ContextTypeDefault     ContextType = "default"
	ContextTypeProduction  ContextType = "production"
	ContextTypeStaging     ContextType = "staging"
	ContextTypeDevelopment ContextType = "development"
	ContextTypeLocal       ContextType = "local"
	ContextTypeOther       ContextType = "other"
)

// ClassifyContextName groups cluster context names into a handful of types so
// tool call metrics do not grow one series per context.
//
//	ClassifyContextName("")                 // "default"
//	ClassifyContextName("prod-eu-west")     // "production"
//	ClassifyContextName("gke_proj_stg-1")   // "staging"
//	ClassifyContextName("dev-cluster")      // "development"
//	ClassifyContextName("kind-kind")        // "local"
//	ClassifyContextName("docker-desktop")   // "local"
//	ClassifyContextName("my-cluster")       // "other"
func ClassifyContextName(name string) string {
	if name == "" {
		return string(ContextTypeDefault)
	}

	n := strings.ToLower(name)

	switch {
	case strings.HasPrefix(n, "kind-"), strings.HasPrefix(n, "minikube"),
		strings.HasPrefix(n, "docker-desktop"), strings.HasPrefix(n, "k3d-"),
		strings.HasPrefix(n, "rancher-desktop"):
		return string(ContextTypeLocal)
	case containsSegment(n, "prod", "production", "prd"):
		return string(ContextTypeProduction)
	case containsSegment(n, "staging", "stg", "stage"):
		return string(ContextTypeStaging)
	case containsSegment(n, "dev", "development", "test", "demo"):
		return string(ContextTypeDevelopment)
	}

	return string(ContextTypeOther)
}

// containsSegment reports whether name contains one of the words as a
// segment delimited by '-', '_', '.', '/', ':' or '@'.
func containsSegment(name string, words ...string) bool {
	segments := strings.FieldsFunc(name, func(r rune) bool {
		switch r {
		case '-', '_', '.', '/', ':', '@':
			return true
		}
		return false
	})
	for _, s := range segments {
		for _, w := range words {
			if s == w {
				return true
			}
		}
	}
	return false
}
