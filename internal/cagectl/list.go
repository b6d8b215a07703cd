package cagectl

import (
	"os"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every container the registry tracks",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	var records []any
	if err := newClient(addr).getJSON("/pool", &records); err != nil {
		return err
	}
	return printJSON(os.Stdout, records)
}
