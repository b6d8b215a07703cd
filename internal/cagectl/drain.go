package cagectl

import (
	"fmt"

	"github.com/spf13/cobra"
)

var drainCmd = &cobra.Command{
	Use:   "drain <session>",
	Short: "Force-destroy the container assigned to a session",
	Long: `drain releases a session's container without returning it to the
warm pool, evicting a single misbehaving session without disturbing the
rest of the fleet.`,
	Args: cobra.ExactArgs(1),
	RunE: runDrain,
}

func init() {
	rootCmd.AddCommand(drainCmd)
}

func runDrain(cmd *cobra.Command, args []string) error {
	session := args[0]

	var resp map[string]string
	body := map[string]string{"session": session}
	if err := newClient(addr).postJSON("/drain", body, &resp); err != nil {
		return err
	}
	fmt.Printf("drained session %s\n", session)
	return nil
}
