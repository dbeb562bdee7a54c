package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/conversation"
)

// newAskCmd creates the Cobra command for a single question.
func newAskCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "ask QUESTION...",
		Short: "Ask a single question and print the answer",
		Long: `Ask a single question, print the model's answer and exit. The exit
status is non-zero when the turn fails.

  mcp-kubernetes-chat ask which pods in payments are not running`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{withModel: true, logOutput: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			var extra []conversation.Option
			if !quiet {
				extra = append(extra, conversation.WithObserver(newProgressPrinter(cmd.ErrOrStderr())))
			}
			sess, err := a.newSession(cmd.Context(), extra...)
			if err != nil {
				return err
			}
			defer func() { _ = sess.Shutdown() }()

			answer, err := sess.StartTurn(cmd.Context(), strings.Join(args, " "))
			if answer != "" {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), answer)
			}
			return err
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print tool call progress")
	return cmd
}
