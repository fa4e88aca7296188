// Package cmd implements the parley command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley - session-aware LLM chat service",
	Long: `Parley is an HTTP chat service backed by a large language model.
It keeps per-session conversation history in SQLite, exposes buffered and
streaming chat endpoints, and gives the model a small set of tools
(calculator, web search, weather).

Run 'parley serve' to start the HTTP API.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
