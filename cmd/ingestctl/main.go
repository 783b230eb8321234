// Command ingestctl is the operator CLI for ingestd: it talks to the daemon
// exclusively over its control socket and never opens the job store; it
// reads the config file only to find the default socket path.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
