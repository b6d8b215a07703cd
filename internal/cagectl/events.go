package cagectl

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var eventsLimit int

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the most recent pool lifecycle events",
	RunE:  runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 100, "maximum number of events to show")
}

func runEvents(cmd *cobra.Command, args []string) error {
	var events []any
	path := fmt.Sprintf("/events?limit=%d", eventsLimit)
	if err := newClient(addr).getJSON(path, &events); err != nil {
		return err
	}
	return printJSON(os.Stdout, events)
}
