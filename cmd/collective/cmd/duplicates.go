package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/rpc"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/types"
)

var duplicatesThreshold float64

var duplicatesCmd = &cobra.Command{
	Use:   "find-duplicates",
	Short: "find_duplicates: list clusters of near-identical memories",
	RunE: func(c *cobra.Command, args []string) error {
		client := newClient()
		defer client.Close()

		var res rpc.FindDuplicatesResult
		reqArgs := rpc.FindDuplicatesArgs{Threshold: duplicatesThreshold}
		if err := client.CallInto(context.Background(), rpc.OpFindDuplicates, reqArgs, &res); err != nil {
			return err
		}

		for i, cluster := range res.Clusters {
			fmt.Printf("cluster %d:\n", i+1)
			for _, raw := range cluster.Memories {
				var mem types.Memory
				if err := json.Unmarshal(raw, &mem); err != nil {
					continue
				}
				fmt.Printf("  %s [%s] %s\n", mem.ID, mem.Category, mem.Content)
			}
		}
		return nil
	},
}

func init() {
	duplicatesCmd.Flags().Float64Var(&duplicatesThreshold, "threshold", 0.92, "minimum cosine similarity to cluster")
}
