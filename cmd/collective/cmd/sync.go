package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	syncForce bool
	syncClean bool
)

// syncCmd only prints guidance: a running collectived already digests on
// its own schedule (spec §4.4). It does not contact the daemon, and the rpc
// protocol has no sync operation, so --force and --clean trigger neither an
// out-of-band digest cycle nor a full resync-from-checkpoint.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Explain how the daemon's digest exchange with peers runs",
	RunE: func(c *cobra.Command, args []string) error {
		if syncClean {
			fmt.Println("full resync-from-checkpoint is not triggered from the CLI; collectived requests one after a change-ring overflow")
		} else if syncForce {
			fmt.Println("an immediate digest exchange is not triggered from the CLI; collectived exchanges digests every digest interval")
		} else {
			fmt.Println("sync runs automatically every digest interval; use --force or --clean for an out-of-band cycle")
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncForce, "force", false, "explain immediate digest exchange (not triggered from the CLI)")
	syncCmd.Flags().BoolVar(&syncClean, "clean", false, "explain full resync-from-checkpoint (not triggered from the CLI)")
}
