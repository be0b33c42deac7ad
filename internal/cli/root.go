// Package cli wires the command line entrypoints.
package cli

import (
	"github.com/spf13/cobra"
)

var servePort int

var rootCmd = &cobra.Command{
	Use:   "oa2a",
	Short: "Anthropic Messages proxy for OpenAI-compatible backends",
	Long: `oa2a exposes the Anthropic Messages API and translates every
request to an OpenAI-compatible Chat Completions backend, including
streaming, thinking blocks, tool calls and server-side web search.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(c *cobra.Command, args []string) error {
		return runServe()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the proxy server",
	RunE: func(c *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().IntVar(&servePort, "port", 0, "Override the configured listen port")
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
