package cagectl

import (
	"github.com/spf13/cobra"
)

var addr string

var rootCmd = &cobra.Command{
	Use:   "cagectl",
	Short: "Operate a running poold daemon",
	Long: `cagectl talks to a running poold's health HTTP server.

Inspect the pool:
  cagectl status
  cagectl list

Review recent lifecycle events:
  cagectl events --limit 50

Force a session's container out of the pool:
  cagectl drain <session>`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "http://127.0.0.1:9090", "base URL of the poold health server")
}
