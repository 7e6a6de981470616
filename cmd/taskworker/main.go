// Command taskworker runs the worker pool, applies migrations, and reports
// its version. It is the ambient CLI surface named in SPEC_FULL.md §2 — not
// the CRUD task façade, which stays an external collaborator.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
