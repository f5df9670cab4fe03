// Command llmrouter-cli is the operator tool for llm-router: it validates
// configuration, runs a one-off discovery cycle and reads the request log.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ferro-labs/llm-router/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "llmrouter-cli",
		Short: "llm-router command line tool",
		Long: `llmrouter-cli inspects an llm-router deployment without starting the server.

Examples:
  # Check a configuration file
  llmrouter-cli validate config.yml

  # Query every backend once and print the resulting routing table
  llmrouter-cli discover config.yml

  # Show the last 20 forwarded requests for one model
  llmrouter-cli logs --dsn llmrouter-requests.db --model llama3`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newValidateCmd(),
		newDiscoverCmd(),
		newLogsCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "llmrouter-cli %s\n", version.String())
		},
	}
}
