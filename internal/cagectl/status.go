package cagectl

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the daemon's composite health report",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	var report map[string]any
	if err := newClient(addr).getJSON("/status", &report); err != nil {
		return err
	}
	return printJSON(os.Stdout, report)
}

func printJSON(w *os.File, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("cagectl: encode output: %w", err)
	}
	return nil
}
