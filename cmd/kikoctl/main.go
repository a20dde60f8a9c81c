// Command kikoctl is the offline admin tool for Kiko: it screens text through
// the safety pipeline, validates roster files and lists recorded security
// events.
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
