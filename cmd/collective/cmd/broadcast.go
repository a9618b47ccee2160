package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/rpc"
)

var (
	broadcastCategory string
	broadcastSeverity string
)

var broadcastCmd = &cobra.Command{
	Use:   "broadcast <msg>",
	Short: "Publish a fleet-wide ephemeral notice",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		client := newClient()
		defer client.Close()

		var res rpc.BroadcastResult
		reqArgs := rpc.BroadcastArgs{Category: broadcastCategory, Severity: broadcastSeverity, Message: args[0]}
		if err := client.CallInto(context.Background(), rpc.OpBroadcast, reqArgs, &res); err != nil {
			return err
		}
		fmt.Printf("broadcast %s sent\n", res.ID)
		return nil
	},
}

func init() {
	broadcastCmd.Flags().StringVar(&broadcastCategory, "category", "general", "broadcast category")
	broadcastCmd.Flags().StringVar(&broadcastSeverity, "severity", "info", "info|warning|critical")
}
