package registry

import (
	"sort"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/transport"
)

// ProcedureDescriptor is a procedure as cached by the registry: the typed
// argument list used for validation and the raw schema shown to the model.
type ProcedureDescriptor struct {
	Name        string
	Description string
	Arguments   []ArgumentSchema

	// InputSchema is the schema as advertised by the host.
	InputSchema map[string]any

	// AllowUnknown reports whether arguments not listed in Arguments pass.
	AllowUnknown bool

	// Transport and Context identify where the procedure is served.
	Transport string
	Context   string
}

// NewProcedureDescriptor parses the schema of p.
func NewProcedureDescriptor(p transport.Procedure, transportID, clusterContext string) (ProcedureDescriptor, error) {
	args, additional, err := ParseArguments(p.InputSchema)
	if err != nil {
		return ProcedureDescriptor{}, err
	}
	return ProcedureDescriptor{
		Name:         p.Name,
		Description:  p.Description,
		Arguments:    args,
		InputSchema:  p.InputSchema,
		AllowUnknown: additional,
		Transport:    transportID,
		Context:      clusterContext,
	}, nil
}

// Argument returns the named argument descriptor.
func (p ProcedureDescriptor) Argument(name string) (ArgumentSchema, bool) {
	for _, a := range p.Arguments {
		if a.Name == name {
			return a, true
		}
	}
	return ArgumentSchema{}, false
}

// Validate checks args against the argument descriptors. All problems are
// collected into one *ValidationError.
func (p ProcedureDescriptor) Validate(args map[string]any) error {
	problems := map[string]string{}
	for _, a := range p.Arguments {
		v, present := args[a.Name]
		if !present {
			if a.Required {
				problems[a.Name] = "is required"
			}
			continue
		}
		if msg := a.Check(v); msg != "" {
			problems[a.Name] = msg
		}
	}
	if !p.AllowUnknown {
		for name := range args {
			if _, ok := p.Argument(name); !ok {
				problems[name] = "is not a known argument"
			}
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Procedure: p.Name, Problems: problems}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
