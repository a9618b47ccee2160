package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/rpc"
)

var (
	delegateCapabilities string
	delegatePriority     string
	delegateDeadline     string
)

var whenParser = func() *when.Parser {
	p := when.New(nil)
	p.Add(en.All...)
	p.Add(common.All...)
	return p
}()

var delegateCmd = &cobra.Command{
	Use:   "delegate <desc>",
	Short: "Delegate a task to a capable agent on the fleet",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		description := ""
		if len(args) == 1 {
			description = args[0]
		}

		if description == "" || delegateCapabilities == "" {
			if err := promptDelegate(&description); err != nil {
				return err
			}
		}

		reqArgs := rpc.DelegateTaskArgs{
			Description:          description,
			RequiredCapabilities: splitCapabilities(delegateCapabilities),
			Priority:             delegatePriority,
		}
		if delegateDeadline != "" {
			if r, err := whenParser.Parse(delegateDeadline, time.Now()); err == nil && r != nil {
				reqArgs.DeadlineRFC3339 = &r.Time
			}
		}

		client := newClient()
		defer client.Close()

		var res rpc.DelegateTaskResult
		if err := client.CallInto(context.Background(), rpc.OpDelegateTask, reqArgs, &res); err != nil {
			return err
		}
		fmt.Printf("task %s: %s\n", res.TaskID, res.State)
		return nil
	},
}

func splitCapabilities(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func promptDelegate(description *string) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Task description").Value(description),
			huh.NewInput().Title("Required capabilities (comma-separated)").Value(&delegateCapabilities),
			huh.NewSelect[string]().Title("Priority").
				Options(huh.NewOption("low", "low"), huh.NewOption("medium", "medium"),
					huh.NewOption("high", "high"), huh.NewOption("critical", "critical")).
				Value(&delegatePriority),
		),
	)
	return form.Run()
}

func init() {
	delegateCmd.Flags().StringVar(&delegateCapabilities, "capabilities", "", "comma-separated required capabilities")
	delegateCmd.Flags().StringVar(&delegatePriority, "priority", "medium", "low|medium|high|critical")
	delegateCmd.Flags().StringVar(&delegateDeadline, "deadline", "", `natural-language deadline, e.g. "in 2 hours"`)
}
