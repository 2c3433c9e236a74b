// Command goalboard keeps a local copy of a goal service dashboard in sync
// and exposes it through a small read API and one-shot commands.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
