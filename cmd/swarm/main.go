// Command swarm runs the agent orchestration system, or one of its
// auxiliary services on its own.
package main

import "os"

// Version is set via ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd(os.LookupEnv).Execute(); err != nil {
		os.Exit(1)
	}
}
