// Command identityflow runs the account workflows from the command line and
// serves them over HTTP for local testing.
package main

import (
	"os"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
