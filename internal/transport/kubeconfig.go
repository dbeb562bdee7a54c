package transport

import (
	"fmt"
	"sort"

	"k8s.io/client-go/tools/clientcmd"
)

// KubeContexts is the set of contexts found in a kubeconfig.
type KubeContexts struct {
	Names   []string
	Current string
}

// LoadKubeContexts reads context names with the standard client-go loading
// rules: an explicit path, else $KUBECONFIG, else ~/.kube/config.
func LoadKubeContexts(kubeconfigPath string) (KubeContexts, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfigPath != "" {
		rules.ExplicitPath = kubeconfigPath
	}
	cfg, err := rules.Load()
	if err != nil {
		return KubeContexts{}, fmt.Errorf("load kubeconfig: %w", err)
	}

	names := make([]string, 0, len(cfg.Contexts))
	for name := range cfg.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)

	return KubeContexts{Names: names, Current: cfg.CurrentContext}, nil
}

// ExpandPerContext turns a per_context pipe descriptor into one descriptor
// per kubeconfig context. Each child passes --context <name> to the command
// and serves that context. The kubeconfig's current context becomes the
// default unless the parent names a context of its own.
func ExpandPerContext(d Descriptor, contexts KubeContexts) ([]Descriptor, error) {
	if !d.PerContext {
		return []Descriptor{d}, nil
	}
	if d.Kind != KindPipe {
		return nil, fmt.Errorf("transport %q: per_context is only supported for pipe transports", d.ID)
	}
	if len(contexts.Names) == 0 {
		return nil, fmt.Errorf("transport %q: kubeconfig has no contexts", d.ID)
	}

	defaultCtx := contexts.Current
	if d.Context != "" {
		defaultCtx = d.Context
	}

	out := make([]Descriptor, 0, len(contexts.Names))
	for _, name := range contexts.Names {
		child := d
		child.ID = d.ID + "@" + name
		child.PerContext = false
		child.Context = name
		child.Default = name == defaultCtx
		child.Args = append(append([]string{}, d.Args...), "--context", name)
		child.Env = append([]string{}, d.Env...)
		out = append(out, child)
	}
	return out, nil
}
