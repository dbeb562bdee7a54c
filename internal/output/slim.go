package output

import (
	"strings"
)

// SlimResource returns a copy of obj without the excluded fields.
func SlimResource(obj map[string]any, excludedFields []string) map[string]any {
	if obj == nil {
		return nil
	}
	if len(excludedFields) == 0 {
		excludedFields = DefaultExcludedFields()
	}

	result := deepCopyMap(obj)
	for _, field := range excludedFields {
		removeField(result, field)
	}
	return result
}

// removeField removes the field at path. Dots separate levels and a "[*]"
// suffix applies the rest of the path to every array element:
//   - "metadata.managedFields" removes obj["metadata"]["managedFields"]
//   - "status.conditions[*].lastProbeTime" removes the field from each condition
//
// Annotation keys contain dots themselves, so at each level the remaining
// path is first tried as a single key.
func removeField(obj map[string]any, path string) {
	if obj == nil || path == "" {
		return
	}
	removeFieldRecursive(obj, path)
}

func removeFieldRecursive(obj map[string]any, path string) {
	if obj == nil || path == "" {
		return
	}

	if _, ok := obj[path]; ok {
		delete(obj, path)
		return
	}

	head, rest, found := strings.Cut(path, ".")
	if !found {
		return
	}

	if strings.HasSuffix(head, "[*]") {
		array, ok := obj[strings.TrimSuffix(head, "[*]")].([]any)
		if !ok {
			return
		}
		for _, elem := range array {
			if elemMap, ok := elem.(map[string]any); ok {
				removeFieldRecursive(elemMap, rest)
			}
		}
		return
	}

	next, ok := obj[head].(map[string]any)
	if !ok {
		return
	}
	removeFieldRecursive(next, rest)
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = deepCopyValue(v)
	}
	return result
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = deepCopyValue(item)
		}
		return result
	default:
		return v
	}
}
