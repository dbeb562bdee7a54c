package registry

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ArgType is the primitive type of one procedure argument.
type ArgType string

const (
	ArgString  ArgType = "string"
	ArgInteger ArgType = "integer"
	ArgNumber  ArgType = "number"
	ArgBoolean ArgType = "boolean"
	ArgArray   ArgType = "array"
	ArgObject  ArgType = "object"

	// ArgAny is used when the schema names no type or a union of types.
	ArgAny ArgType = "any"
)

// ArgumentSchema describes one argument of a procedure.
type ArgumentSchema struct {
	Name        string
	Type        ArgType
	Required    bool
	Description string

	// Enum restricts string values when non-empty.
	Enum []string

	// Items is the element type of an ArgArray argument, ArgAny when unspecified.
	Items ArgType
}

// ParseArguments builds typed argument descriptors from a JSON schema
// object. Arguments are returned sorted by name. A schema whose properties
// are not objects is rejected.
func ParseArguments(schema map[string]any) ([]ArgumentSchema, bool, error) {
	if schema == nil {
		return nil, true, nil
	}
	if t, ok := schema["type"].(string); ok && t != "object" {
		return nil, false, fmt.Errorf("input schema must be an object, got %q", t)
	}

	required := map[string]bool{}
	switch req := schema["required"].(type) {
	case []any:
		for _, r := range req {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	case []string:
		for _, name := range req {
			required[name] = true
		}
	}

	props, _ := schema["properties"].(map[string]any)
	args := make([]ArgumentSchema, 0, len(props))
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			return nil, false, fmt.Errorf("property %q is not a schema object", name)
		}
		arg := ArgumentSchema{
			Name:     name,
			Type:     parseType(prop["type"]),
			Required: required[name],
			Items:    ArgAny,
		}
		arg.Description, _ = prop["description"].(string)
		if items, ok := prop["items"].(map[string]any); ok {
			arg.Items = parseType(items["type"])
		}
		if enum, ok := prop["enum"].([]any); ok {
			for _, v := range enum {
				if s, ok := v.(string); ok {
					arg.Enum = append(arg.Enum, s)
				}
			}
		}
		args = append(args, arg)
	}
	sort.Slice(args, func(i, j int) bool { return args[i].Name < args[j].Name })

	// Unknown arguments are accepted unless the schema forbids them.
	additional := true
	if v, ok := schema["additionalProperties"].(bool); ok {
		additional = v
	}
	return args, additional, nil
}

func parseType(v any) ArgType {
	switch t := v.(type) {
	case string:
		switch ArgType(t) {
		case ArgString, ArgInteger, ArgNumber, ArgBoolean, ArgArray, ArgObject:
			return ArgType(t)
		}
	case []any:
		// ["string", "null"] style optional types.
		var types []string
		for _, e := range t {
			if s, ok := e.(string); ok && s != "null" {
				types = append(types, s)
			}
		}
		if len(types) == 1 {
			return parseType(types[0])
		}
	}
	return ArgAny
}

// Check reports why value does not match the argument, or "" when it does.
func (a ArgumentSchema) Check(value any) string {
	if value == nil {
		if a.Required {
			return "must not be null"
		}
		return ""
	}
	if !matchesType(a.Type, value) {
		return fmt.Sprintf("must be %s, got %s", article(a.Type), describeValue(value))
	}
	if len(a.Enum) > 0 {
		s, _ := value.(string)
		found := false
		for _, e := range a.Enum {
			if e == s {
				found = true
				break
			}
		}
		if !found {
			return fmt.Sprintf("must be one of %s", strings.Join(a.Enum, ", "))
		}
	}
	if a.Type == ArgArray && a.Items != ArgAny {
		items, _ := value.([]any)
		for i, item := range items {
			if !matchesType(a.Items, item) {
				return fmt.Sprintf("item %d must be %s, got %s", i, article(a.Items), describeValue(item))
			}
		}
	}
	return ""
}

func matchesType(t ArgType, value any) bool {
	switch t {
	case ArgAny:
		return true
	case ArgString:
		_, ok := value.(string)
		return ok
	case ArgBoolean:
		_, ok := value.(bool)
		return ok
	case ArgNumber:
		_, ok := toFloat(value)
		return ok
	case ArgInteger:
		f, ok := toFloat(value)
		return ok && f == math.Trunc(f) && !math.IsInf(f, 0)
	case ArgArray:
		switch value.(type) {
		case []any, []string:
			return true
		}
		return false
	case ArgObject:
		_, ok := value.(map[string]any)
		return ok
	}
	return false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func describeValue(value any) string {
	switch value.(type) {
	case string:
		return "a string"
	case bool:
		return "a boolean"
	case map[string]any:
		return "an object"
	case []any, []string:
		return "an array"
	}
	if _, ok := toFloat(value); ok {
		return "a number"
	}
	return fmt.Sprintf("%T", value)
}

func article(t ArgType) string {
	switch t {
	case ArgInteger, ArgObject, ArgArray:
		return "an " + string(t)
	}
	return "a " + string(t)
}
