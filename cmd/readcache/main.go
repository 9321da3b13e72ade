// Command readcache serves a read-through cache of one GitHub organization's
// metrics, and queries a running instance.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
