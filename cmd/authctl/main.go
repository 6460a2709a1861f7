// authctl is the operator CLI: secret hashing, alert triage, session eviction, and allow-list edits.
package main

import (
	"fmt"
	"os"
)

func main() {
	root := newRootCmd(postgresStores)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
