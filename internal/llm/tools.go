package llm

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/conversation"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/registry"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/tools"
)

// contextProperty is offered on every tool when procedures come from more
// than one cluster context.
const contextProperty = tools.ContextArgument

// toolCatalog converts procedures to tool definitions and remembers which
// tools had the context property added, so it can be moved back out of the
// arguments into the context hint.
type toolCatalog struct {
	procedures []registry.ProcedureDescriptor
	contexts   []string
	injected   map[string]bool
}

func newToolCatalog(procedures []registry.ProcedureDescriptor) *toolCatalog {
	seen := map[string]bool{}
	var contexts []string
	for _, p := range procedures {
		if p.Context != "" && !seen[p.Context] {
			seen[p.Context] = true
			contexts = append(contexts, p.Context)
		}
	}
	slices.Sort(contexts)
	return &toolCatalog{procedures: procedures, contexts: contexts, injected: map[string]bool{}}
}

func (c *toolCatalog) multiContext() bool {
	return len(c.contexts) > 1
}

func (c *toolCatalog) definitions() []azopenai.ChatCompletionsToolDefinitionClassification {
	defs := make([]azopenai.ChatCompletionsToolDefinitionClassification, 0, len(c.procedures))
	for _, p := range c.procedures {
		description := p.Description
		if description == "" {
			description = "Execute " + p.Name
		}
		defs = append(defs, &azopenai.ChatCompletionsFunctionToolDefinition{
			Type: to.Ptr("function"),
			Function: &azopenai.ChatCompletionsFunctionToolDefinitionFunction{
				Name:        to.Ptr(p.Name),
				Description: to.Ptr(description),
				Parameters:  mkSchema(c.parameters(p)),
			},
		})
	}
	return defs
}

// parameters returns the input schema of p, with the context property added
// when several contexts are registered and p does not declare it.
func (c *toolCatalog) parameters(p registry.ProcedureDescriptor) map[string]any {
	schema := maps.Clone(p.InputSchema)
	if schema == nil {
		schema = map[string]any{
			"type":       "object",
			"properties": map[string]any{},
			"required":   []any{},
		}
	}
	if !c.multiContext() {
		return schema
	}

	props, _ := schema["properties"].(map[string]any)
	if _, declared := props[contextProperty]; declared {
		return schema
	}
	props = maps.Clone(props)
	if props == nil {
		props = map[string]any{}
	}
	props[contextProperty] = map[string]any{
		"type":        "string",
		"description": "Cluster context to run against. Omit for the default context.",
		"enum":        c.contexts,
	}
	schema["properties"] = props
	c.injected[p.Name] = true
	return schema
}

// fromResponse converts the model's message to a Completion.
func (c *toolCatalog) fromResponse(msg *azopenai.ChatResponseMessage) *conversation.Completion {
	completion := &conversation.Completion{Text: deref(msg.Content)}

	for _, raw := range msg.ToolCalls {
		call, ok := raw.(*azopenai.ChatCompletionsFunctionToolCall)
		if !ok || call.Function == nil {
			continue
		}
		name := deref(call.Function.Name)
		tc := conversation.ToolCall{ID: deref(call.ID), Name: name}

		args := map[string]any{}
		if s := deref(call.Function.Arguments); s != "" {
			if err := json.Unmarshal([]byte(s), &args); err != nil {
				// The model gets a validation error back and can retry.
				tc.ArgumentsError = fmt.Errorf("not a JSON object: %w", err)
				completion.ToolCalls = append(completion.ToolCalls, tc)
				continue
			}
		}
		tc.Arguments = args
		if c.injected[name] {
			if hint, ok := args[contextProperty].(string); ok {
				tc.ContextHint = hint
			}
			delete(args, contextProperty)
		}
		completion.ToolCalls = append(completion.ToolCalls, tc)
	}
	return completion
}

// mkSchema JSON-marshals a schema.
func mkSchema(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
