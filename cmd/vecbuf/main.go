// Command vecbuf manages a buffered vector index from the command line.
//
// Usage:
//
//	vecbuf --config index.yaml <command> [args]
//
// Commands:
//
//	create   - create the remote collection and initialize the buffer
//	insert   - append records to the buffer
//	flush    - upload completed batches, once or on an interval
//	search   - run a nearest neighbor query
//	stats    - print checkpoint positions and buffered counts
//	inspect  - dump the buffer metadata and pages
//
// The configuration file is YAML. Environment variables of the form
// ${NAME} are expanded before parsing.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
