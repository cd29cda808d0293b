// Command configctl manages settings directly in the database, for
// bootstrapping and break-glass edits when the HTTP API is unavailable.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
