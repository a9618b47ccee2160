package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"charm.land/glamour/v2"
	"github.com/spf13/cobra"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/rpc"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/types"
)

var (
	queryLimit      int
	queryMinConfidence float64
	queryCategory   string
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Search memories by semantic similarity",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		client := newClient()
		defer client.Close()

		var res rpc.SearchMemoriesResult
		reqArgs := rpc.SearchMemoriesArgs{
			Query: args[0], Limit: queryLimit, MinConfidence: queryMinConfidence, Category: queryCategory,
		}
		if err := client.CallInto(context.Background(), rpc.OpSearchMemories, reqArgs, &res); err != nil {
			return err
		}

		renderer, _ := glamour.NewTermRenderer(glamour.WithAutoStyle())
		for i, hit := range res.Hits {
			var mem types.Memory
			if err := json.Unmarshal(hit.Memory, &mem); err != nil {
				continue
			}
			fmt.Printf("%d. [%s] score=%.2f confidence=%.2f\n", i+1, mem.Category, hit.Score, hit.Confidence)
			if renderer != nil {
				if out, err := renderer.Render(mem.Content); err == nil {
					fmt.Println(out)
					continue
				}
			}
			fmt.Println(mem.Content)
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().IntVar(&queryLimit, "limit", 3, "maximum results")
	queryCmd.Flags().Float64Var(&queryMinConfidence, "min-confidence", 0, "minimum confidence score")
	queryCmd.Flags().StringVar(&queryCategory, "category", "", "restrict to a category")
}
