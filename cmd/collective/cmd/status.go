package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/rpc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show this machine's health and peer status",
	RunE: func(c *cobra.Command, args []string) error {
		client := newClient()
		defer client.Close()

		var res rpc.StatusResult
		if err := client.CallInto(context.Background(), rpc.OpStatus, struct{}{}, &res); err != nil {
			return err
		}

		header := lipgloss.NewStyle().Bold(true).Render("collective status")
		fmt.Println(header)
		fmt.Printf("  machine_id:        %s\n", res.MachineID)
		fmt.Printf("  peer_count:        %d\n", res.PeerCount)
		fmt.Printf("  unreachable_peers: %d\n", res.UnreachablePeers)
		fmt.Printf("  memory_count:      %d\n", res.MemoryCount)
		fmt.Printf("  ring_fill_pct:     %.1f%%\n", res.RingFillPct*100)
		return nil
	},
}
