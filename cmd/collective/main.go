// Command collective is the CLI client: talks to the local collectived
// daemon over a Unix socket, matching the teacher's cmd/bd client/daemon
// split.
package main

import (
	"fmt"
	"os"

	"github.com/lancejames221b/agent-hivemind-sub004/cmd/collective/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cmd.ExitCodeFor(err))
	}
}
