package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/tools"
)

// Messages shown to the model when a payload had to be reduced.
const (
	sampleNoteFormat = "Showing first %d of %d items. Use namespace-specific queries for more."
	truncatedWarning = "Result truncated due to size. Consider using summary tools or namespace-specific queries."
)

// Folded is the outcome of folding one tool result.
type Folded struct {
	// Content is the text placed in the tool message.
	Content string

	// Sampled is set when a list was replaced by its first items.
	Sampled bool

	// Truncated is set when the content was cut at the byte limit.
	Truncated bool

	// SecretsMasked counts Secret objects whose data was redacted.
	SecretsMasked int

	// OriginalBytes is the serialized size before any reduction.
	OriginalBytes int
}

// ListSample replaces an oversized list.
type ListSample struct {
	TotalItems  int    `json:"total_items"`
	Showing     int    `json:"showing"`
	Note        string `json:"note"`
	SampleItems []any  `json:"sample_items"`
	*ListCounts
}

// PartialData replaces any other oversized payload.
type PartialData struct {
	Warning     string `json:"warning"`
	PartialData string `json:"partial_data"`
}

// Processor folds tool results according to its configuration.
type Processor struct {
	config *Config
}

// NewProcessor creates a processor. A nil config means DefaultConfig.
func NewProcessor(config *Config) *Processor {
	if config == nil {
		config = DefaultConfig()
	}
	return &Processor{config: config.Validate()}
}

// Config returns the processor's validated configuration.
func (p *Processor) Config() *Config {
	return p.config
}

// Fold turns a result into tool message content.
func (p *Processor) Fold(result tools.ToolCallResult) Folded {
	if !result.OK() {
		return p.foldError(result.Error)
	}
	return p.FoldPayload(result.Payload)
}

func (p *Processor) foldError(te *tools.ToolError) Folded {
	if te == nil {
		te = &tools.ToolError{Kind: tools.KindInternal, Message: "tool call failed without an error description"}
	}
	data, err := marshal(map[string]any{"error": te})
	if err != nil {
		// Details that cannot be serialized are dropped.
		data, _ = marshal(map[string]any{"error": &tools.ToolError{Kind: te.Kind, Message: te.Message}})
	}
	return p.capBytes(Folded{Content: string(data), OriginalBytes: len(data)})
}

// FoldPayload serializes a successful payload, masking secrets, removing
// verbose fields and reducing it to fit MaxResponseBytes.
func (p *Processor) FoldPayload(payload any) Folded {
	// Plain text answers pass through unquoted.
	if text, ok := payload.(string); ok {
		return p.capBytes(Folded{Content: text, OriginalBytes: len(text)})
	}

	var folded Folded
	payload = p.clean(payload, &folded)

	data, err := marshal(payload)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", payload))
	}
	folded.OriginalBytes = len(data)
	if len(data) <= p.config.MaxResponseBytes {
		folded.Content = string(data)
		return folded
	}

	if items, ok := listItems(payload); ok {
		return p.sample(items, folded)
	}

	folded.Content = string(data)
	return p.capBytes(folded)
}

// sample keeps the first SampleItems entries of an oversized list.
func (p *Processor) sample(items []any, folded Folded) Folded {
	showing := min(p.config.SampleItems, len(items))
	summary := ListSample{
		TotalItems:  len(items),
		Showing:     showing,
		Note:        fmt.Sprintf(sampleNoteFormat, showing, len(items)),
		SampleItems: items[:showing],
		ListCounts:  CountItems(items),
	}

	data, err := marshal(summary)
	if err != nil {
		folded.Content = fmt.Sprintf(sampleNoteFormat, showing, len(items))
		return folded
	}

	folded.Sampled = true
	folded.Content = string(data)
	if len(data) > p.config.MaxResponseBytes {
		folded.Content = cutUTF8(folded.Content, p.config.MaxResponseBytes)
		folded.Truncated = true
	}
	return folded
}

// capBytes wraps content larger than the limit in a PartialData warning.
func (p *Processor) capBytes(folded Folded) Folded {
	if len(folded.Content) <= p.config.MaxResponseBytes {
		return folded
	}
	data, err := marshal(PartialData{
		Warning:     truncatedWarning,
		PartialData: cutUTF8(folded.Content, p.config.MaxResponseBytes),
	})
	if err != nil {
		folded.Content = cutUTF8(folded.Content, p.config.MaxResponseBytes)
	} else {
		folded.Content = string(data)
	}
	folded.Truncated = true
	return folded
}

// clean masks secrets and slims every object in the payload: a single
// object, a list of objects, or a List object with "items".
func (p *Processor) clean(payload any, folded *Folded) any {
	switch v := payload.(type) {
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = p.clean(item, folded)
		}
		return out
	case map[string]any:
		obj, copied := v, false
		if p.config.MaskSecrets && IsSecretResource(obj) {
			obj, copied = MaskSecrets(obj), true
			folded.SecretsMasked++
		}
		if items, ok := obj["items"].([]any); ok {
			if !copied {
				obj = shallowCopy(obj)
			}
			obj["items"] = p.clean(items, folded)
		}
		if p.config.SlimOutput && isKubernetesObject(obj) {
			obj = SlimResource(obj, p.config.ExcludedFields)
		}
		return obj
	default:
		return payload
	}
}

// listItems returns the items of a top-level list or a List object.
func listItems(payload any) ([]any, bool) {
	switch v := payload.(type) {
	case []any:
		return v, true
	case map[string]any:
		items, ok := v["items"].([]any)
		return items, ok
	default:
		return nil, false
	}
}

func isKubernetesObject(obj map[string]any) bool {
	_, hasMeta := obj["metadata"].(map[string]any)
	return hasMeta
}

func shallowCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// marshal encodes v as compact JSON without HTML escaping.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// cutUTF8 returns at most n bytes of s without splitting a rune.
func cutUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
