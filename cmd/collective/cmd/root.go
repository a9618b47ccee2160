// Package cmd is the cobra command tree for the collective CLI client,
// in the style of the teacher's cmd/bd subcommand files: one file per
// verb, a shared client helper, exit codes per spec §6.
package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/errkind"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/rpc"
)

var (
	socketPath string
	tcpAddr    string
	tcpToken   string
	callTimeout = 10 * time.Second
)

func newClient() *rpc.Client {
	if tcpAddr != "" {
		return rpc.NewTCPClient(tcpAddr, tcpToken, callTimeout)
	}
	return rpc.NewUnixClient(socketPath, callTimeout)
}

var rootCmd = &cobra.Command{
	Use:   "collective",
	Short: "Fleet-wide memory and coordination fabric client",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "/tmp/collective.sock", "daemon unix socket path")
	rootCmd.PersistentFlags().StringVar(&tcpAddr, "tcp", "", "daemon tcp address (overrides --socket)")
	rootCmd.PersistentFlags().StringVar(&tcpToken, "token", "", "tcp bearer token")

	rootCmd.AddCommand(statusCmd, syncCmd, queryCmd, broadcastCmd, delegateCmd,
		storeCmd, getCmd, updateCmd, deleteCmd, recoverCmd, registerAgentCmd, heartbeatCmd,
		deregisterAgentCmd, rosterCmd, duplicatesCmd)
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

// ExitCodeFor maps an error to the exit codes of spec §6:
// 0 success, 1 local failure, 2 unreachable peer, 3 validation error.
func ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	switch errkind.KindOf(err) {
	case errkind.Validation:
		return 3
	case errkind.Transport, errkind.Unavailable:
		return 2
	default:
		return 1
	}
}
