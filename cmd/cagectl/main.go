// cagectl is the operator CLI for a running poold daemon.
package main

import (
	"fmt"
	"os"

	"github.com/grantharris33/clawdbot/internal/cagectl"
)

func main() {
	if err := cagectl.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
