package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	kubeconfig string
	debug      bool
}

var globals globalOptions

// rootCmd represents the base command for the mcp-kubernetes-chat application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mcp-kubernetes-chat",
	Short: "Chat with your Kubernetes clusters through MCP tool servers",
	Long: `mcp-kubernetes-chat connects a language model to Kubernetes tool servers
speaking the Model Context Protocol (MCP). Questions typed in natural language
are answered by the model, which calls cluster tools such as listing pods or
reading logs and then summarizes what it found.

Tool servers are reached over stdio pipes, SSE or streamable HTTP. By default
one mcp-kubernetes process is started per kubeconfig context.

When run without subcommands, it starts an interactive chat (equivalent to 'mcp-kubernetes-chat chat').`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcp-kubernetes-chat version %s\n" .Version}}`)

	// If no subcommand is provided, start a chat by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "chat")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globals.configPath, "config", "", "config file (default is ./mcp-kubernetes-chat.yaml, then $HOME/.config/mcp-kubernetes-chat/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&globals.kubeconfig, "kubeconfig", "", "path to the kubeconfig used to expand per-context transports")
	rootCmd.PersistentFlags().BoolVar(&globals.debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newAskCmd())
	rootCmd.AddCommand(newToolsCmd())
	rootCmd.AddCommand(newContextsCmd())
	rootCmd.AddCommand(newServeCmd())
}
