package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/transport"
)

// newContextsCmd creates the Cobra command that lists kubeconfig contexts.
func newContextsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "contexts",
		Short: "List the kubeconfig contexts per-context transports expand to",
		Long: `List the contexts of the kubeconfig. Transports with per_context set
start one tool server per context listed here; the current context, marked
with '*', is used when a question names no cluster.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			contexts, err := transport.LoadKubeContexts(cfg.Kubeconfig)
			if err != nil {
				return err
			}
			if len(contexts.Names) == 0 {
				return fmt.Errorf("kubeconfig has no contexts")
			}

			out := cmd.OutOrStdout()
			for _, name := range contexts.Names {
				marker := " "
				if name == contexts.Current {
					marker = "*"
				}
				_, _ = fmt.Fprintf(out, "%s %s\n", marker, name)
			}
			return nil
		},
	}
}
