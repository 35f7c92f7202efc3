// ocirt is an OCI container runtime.
//
// Commands:
//
//	create  - Create a container (but don't start it)
//	start   - Start a created container
//	run     - Create and start a container
//	state   - Output the state of a container
//	kill    - Send a signal to a container
//	delete  - Delete a container
//	list    - List containers
//	spec    - Generate a default OCI spec
//	daemon  - Serve the runtime over gRPC
//	init    - Internal command for container initialization
package main

import (
	"os"

	"ocirt/cmd"
	"ocirt/linux"
)

func main() {
	// A spawned child runs its entry before any command line handling.
	if linux.IsEntryInvocation() {
		os.Exit(linux.RunEntry(os.Args[2:]))
	}
	os.Exit(cmd.Execute())
}
