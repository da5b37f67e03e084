// blockctl - offline tooling for Gray Logic workspace documents
//
// Inspect a saved workspace, run it locally against a scratch database or
// manage the hub database schema without starting the full hub.
package main

import (
	"fmt"
	"os"

	"github.com/nerrad567/gray-logic-blocks/cmd/blockctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
