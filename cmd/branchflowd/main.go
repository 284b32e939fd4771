// Command branchflowd runs the branch-aware workflow scheduler as a
// long-lived daemon exposing the reference HTTP/WebSocket transport.
//
// Grounded on apps/cli/cmd/root.go's Execute()-wraps-signal-context shape.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "branchflowd:", err)
		os.Exit(1)
	}
}
