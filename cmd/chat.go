package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/conversation"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/session"
)

// REPL commands.
const (
	replExit  = "exit"
	replQuit  = "quit"
	replClear = "clear"
	replHelp  = "help"
)

// newChatCmd creates the Cobra command for the interactive chat.
func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat with your clusters",
		Long: `Start an interactive chat. Each line you type is sent to the model,
which may call Kubernetes tools before answering. Tool calls are shown as
they complete.

Commands:
  clear         forget the conversation so far
  help          show this help
  exit, quit    leave the chat

Ctrl-C cancels the running turn; tool results already gathered are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{withModel: true, logOutput: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			out := cmd.OutOrStdout()
			sess, err := a.newSession(cmd.Context(), conversation.WithObserver(newProgressPrinter(out)))
			if err != nil {
				return err
			}
			defer func() { _ = sess.Shutdown() }()

			err = runChat(cmd.Context(), sess, cmd.InOrStdin(), out)
			if a.usage != nil {
				if usage := a.usage.GetTokenUsage(); usage.TotalTokens > 0 {
					_, _ = fmt.Fprintf(out, "Tokens used: %d (prompt %d, completion %d)\n",
						usage.TotalTokens, usage.PromptTokens, usage.CompletionTokens)
				}
			}
			return err
		},
	}
}

// runChat reads lines from in until EOF or an exit command and runs a turn
// for each. Turn failures are printed and the chat continues.
func runChat(ctx context.Context, sess *session.Session, in io.Reader, out io.Writer) error {
	printBanner(out, sess)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		_, _ = fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			_, _ = fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case replExit, replQuit:
			return nil
		case replHelp:
			_, _ = fmt.Fprintln(out, "Type a question, 'clear' to start over or 'exit' to leave.")
			continue
		case replClear:
			if err := sess.Reset(ctx); err != nil {
				_, _ = fmt.Fprintf(out, "Error: %v\n", err)
			} else {
				_, _ = fmt.Fprintln(out, "Conversation cleared.")
			}
			continue
		}

		if err := runTurn(ctx, sess, line, out); errors.Is(err, session.ErrSessionClosed) {
			return err
		}
	}
}

// runTurn runs one turn. Ctrl-C cancels the turn, not the process.
func runTurn(ctx context.Context, sess *session.Session, text string, out io.Writer) error {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	answer, err := sess.StartTurn(turnCtx, text)
	if answer != "" {
		_, _ = fmt.Fprintf(out, "\n%s\n\n", answer)
	}
	switch {
	case err == nil:
	case errors.Is(err, conversation.ErrTurnCancelled):
		_, _ = fmt.Fprintln(out, "Cancelled.")
	case errors.Is(err, conversation.ErrTurnBudgetExhausted):
		_, _ = fmt.Fprintln(out, "Stopped: the model kept calling tools past the turn budget.")
	default:
		_, _ = fmt.Fprintf(out, "Error: %v\n", err)
	}
	return err
}

func printBanner(out io.Writer, sess *session.Session) {
	reg := sess.Registry()
	_, _ = fmt.Fprintf(out, "Connected to %d tool server(s), %d tools, contexts: %s (default %s)\n",
		reg.Len(), len(reg.Procedures()), strings.Join(reg.Contexts(), ", "), reg.DefaultContext())
	_, _ = fmt.Fprintln(out, "Type 'help' for commands, 'exit' to quit.")
}
