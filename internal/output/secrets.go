package output

import (
	"strings"
)

// RedactedValue is the placeholder used for masked secret data.
const RedactedValue = "***REDACTED***"

// sensitiveAnnotations lists annotations that contain sensitive data.
var sensitiveAnnotations = map[string]bool{
	"kubernetes.io/service-account.uid":   true,
	"kubernetes.io/service-account.name":  true,
	"kubernetes.io/service-account-token": true,
}

// MaskSecrets returns a copy of obj with the data of a Secret redacted.
// Other objects are returned unchanged.
func MaskSecrets(obj map[string]any) map[string]any {
	if !IsSecretResource(obj) {
		return obj
	}
	result := deepCopyMap(obj)
	maskSecretData(result)
	return result
}

// maskSecretData masks the data and stringData fields of a Secret.
func maskSecretData(secret map[string]any) {
	for _, field := range []string{"data", "stringData"} {
		data, ok := secret[field].(map[string]any)
		if !ok {
			continue
		}
		masked := make(map[string]any, len(data))
		for key := range data {
			masked[key] = RedactedValue
		}
		secret[field] = masked
	}

	// Keep the type visible for context (e.g. kubernetes.io/tls).
	maskSensitiveAnnotations(secret)
}

func maskSensitiveAnnotations(obj map[string]any) {
	metadata, ok := obj["metadata"].(map[string]any)
	if !ok {
		return
	}
	annotations, ok := metadata["annotations"].(map[string]any)
	if !ok {
		return
	}
	for key := range annotations {
		if sensitiveAnnotations[key] {
			annotations[key] = RedactedValue
		}
	}
}

// IsSecretResource reports whether obj is a Kubernetes Secret.
func IsSecretResource(obj map[string]any) bool {
	if obj == nil {
		return false
	}
	kind, _ := obj["kind"].(string)
	return strings.EqualFold(kind, "Secret")
}
