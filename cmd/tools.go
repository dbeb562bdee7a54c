package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/registry"
)

// newToolsCmd creates the Cobra command that lists the procedures offered by
// the configured tool servers.
func newToolsCmd() *cobra.Command {
	var (
		asJSON         bool
		clusterContext string
	)

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools offered by the configured tool servers",
		Long: `Connect to every configured tool server and list the tools it offers,
with their arguments. Required arguments are marked with '*'. No model
credentials are needed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{logOutput: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			sess, err := a.newSession(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = sess.Shutdown() }()

			reg := sess.Registry()
			procs := reg.Procedures()
			if clusterContext != "" {
				if !reg.HasContext(clusterContext) {
					return fmt.Errorf("unknown context %q, known contexts: %s",
						clusterContext, strings.Join(reg.Contexts(), ", "))
				}
				procs = reg.ProceduresIn(clusterContext)
			}

			if asJSON {
				return writeCatalogJSON(cmd.OutOrStdout(), reg.Status(), procs)
			}
			return writeCatalog(cmd.OutOrStdout(), reg.Status(), procs)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the catalog as JSON")
	cmd.Flags().StringVar(&clusterContext, "context", "", "only list tools served for this context")
	return cmd
}

func writeCatalog(w io.Writer, status []registry.TransportStatus, procs []registry.ProcedureDescriptor) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TRANSPORT\tKIND\tCONTEXT\tALIVE\tTOOLS")
	for _, s := range status {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\n", s.ID, s.Kind, s.Context, s.Alive, s.Procedures)
	}
	_, _ = fmt.Fprintln(tw)

	_, _ = fmt.Fprintln(tw, "TOOL\tARGUMENTS\tDESCRIPTION")
	for _, p := range procs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, formatArguments(p.Arguments), firstLine(p.Description))
	}
	return tw.Flush()
}

// catalogJSON is the --json output of the tools command.
type catalogJSON struct {
	Transports []registry.TransportStatus `json:"transports"`
	Tools      []toolJSON                 `json:"tools"`
}

type toolJSON struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Context     string         `json:"context"`
	Transport   string         `json:"transport"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

func writeCatalogJSON(w io.Writer, status []registry.TransportStatus, procs []registry.ProcedureDescriptor) error {
	out := catalogJSON{Transports: status, Tools: make([]toolJSON, 0, len(procs))}
	for _, p := range procs {
		out.Tools = append(out.Tools, toolJSON{
			Name:        p.Name,
			Description: p.Description,
			Context:     p.Context,
			Transport:   p.Transport,
			InputSchema: p.InputSchema,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func formatArguments(args []registry.ArgumentSchema) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		name := a.Name
		if a.Required {
			name += "*"
		}
		parts = append(parts, fmt.Sprintf("%s:%s", name, a.Type))
	}
	return strings.Join(parts, " ")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
