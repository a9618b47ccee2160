package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/rpc"
)

var (
	storeCategory   string
	storeTags       string
	storeScope      string
	storeImportance string
)

var storeCmd = &cobra.Command{
	Use:   "store <content>",
	Short: "store_memory: persist a new memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		client := newClient()
		defer client.Close()

		var res rpc.StoreMemoryResult
		reqArgs := rpc.StoreMemoryArgs{
			Content: args[0], Category: storeCategory, Tags: splitCapabilities(storeTags),
			Scope: storeScope, Importance: storeImportance,
		}
		if err := client.CallInto(context.Background(), rpc.OpStoreMemory, reqArgs, &res); err != nil {
			return err
		}
		fmt.Printf("%s @ %s\n", res.ID, res.Version)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "retrieve_memory: fetch a memory by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		client := newClient()
		defer client.Close()
		var mem map[string]interface{}
		if err := client.CallInto(context.Background(), rpc.OpRetrieveMemory, rpc.RetrieveMemoryArgs{ID: args[0]}, &mem); err != nil {
			return err
		}
		fmt.Printf("%+v\n", mem)
		return nil
	},
}

var (
	updateContent string
	updateTags    string
)

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "update_memory: patch content/tags/importance",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		client := newClient()
		defer client.Close()

		reqArgs := rpc.UpdateMemoryArgs{ID: args[0]}
		if updateContent != "" {
			reqArgs.Content = &updateContent
		}
		if updateTags != "" {
			reqArgs.Tags = splitCapabilities(updateTags)
		}
		var res rpc.UpdateMemoryResult
		if err := client.CallInto(context.Background(), rpc.OpUpdateMemory, reqArgs, &res); err != nil {
			return err
		}
		fmt.Println(res.Version)
		return nil
	},
}

var (
	deleteReason string
	deleteHard   bool
)

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "delete_memory: soft-delete (or, with --hard, purge) a memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		client := newClient()
		defer client.Close()
		var res rpc.DeleteMemoryResult
		reqArgs := rpc.DeleteMemoryArgs{ID: args[0], Reason: deleteReason, Hard: deleteHard}
		if err := client.CallInto(context.Background(), rpc.OpDeleteMemory, reqArgs, &res); err != nil {
			return err
		}
		fmt.Println(res.State)
		return nil
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover <id>",
	Short: "recover_memory: lift a soft-deleted memory back to active",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		client := newClient()
		defer client.Close()
		var res rpc.RecoverMemoryResult
		if err := client.CallInto(context.Background(), rpc.OpRecoverMemory, rpc.RecoverMemoryArgs{ID: args[0]}, &res); err != nil {
			return err
		}
		fmt.Println(res.Version)
		return nil
	},
}

var (
	registerRole         string
	registerCapabilities string
)

var registerAgentCmd = &cobra.Command{
	Use:   "register-agent",
	Short: "register_agent: register this process as a fleet agent",
	RunE: func(c *cobra.Command, args []string) error {
		client := newClient()
		defer client.Close()
		var res rpc.RegisterAgentResult
		reqArgs := rpc.RegisterAgentArgs{Role: registerRole, Capabilities: splitCapabilities(registerCapabilities)}
		if err := client.CallInto(context.Background(), rpc.OpRegisterAgent, reqArgs, &res); err != nil {
			return err
		}
		fmt.Println(res.AgentID)
		return nil
	},
}

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat <agent_id> <status>",
	Short: "heartbeat: renew an agent's lease",
	Args:  cobra.ExactArgs(2),
	RunE: func(c *cobra.Command, args []string) error {
		client := newClient()
		defer client.Close()
		status := strings.ToLower(args[1])
		return client.CallInto(context.Background(), rpc.OpHeartbeat, rpc.HeartbeatArgs{AgentID: args[0], Status: status}, nil)
	},
}

var deregisterAgentCmd = &cobra.Command{
	Use:   "deregister-agent <agent_id>",
	Short: "deregister_agent: remove this agent from the fleet",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		client := newClient()
		defer client.Close()
		return client.CallInto(context.Background(), rpc.OpDeregisterAgent, rpc.DeregisterAgentArgs{AgentID: args[0]}, nil)
	},
}

var (
	rosterRole       string
	rosterCapability string
	rosterMachineID  string
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "roster: list fleet agents, merging local and peer state",
	RunE: func(c *cobra.Command, args []string) error {
		client := newClient()
		defer client.Close()
		var res rpc.RosterResult
		reqArgs := rpc.RosterArgs{Role: rosterRole, Capability: rosterCapability, MachineID: rosterMachineID}
		if err := client.CallInto(context.Background(), rpc.OpRoster, reqArgs, &res); err != nil {
			return err
		}
		for _, a := range res.Agents {
			fmt.Printf("%s\t%s\t%s\t%s\t%v\n", a.AgentID, a.MachineID, a.Role, agentStatusStyle(string(a.Status)), a.Capabilities)
		}
		return nil
	},
}

func init() {
	storeCmd.Flags().StringVar(&storeCategory, "category", string("global"), "memory category")
	storeCmd.Flags().StringVar(&storeTags, "tags", "", "comma-separated tags")
	storeCmd.Flags().StringVar(&storeScope, "scope", "collective", "collective|machine-local")
	storeCmd.Flags().StringVar(&storeImportance, "importance", "normal", "normal|high")

	updateCmd.Flags().StringVar(&updateContent, "content", "", "new content")
	updateCmd.Flags().StringVar(&updateTags, "tags", "", "comma-separated tags")

	deleteCmd.Flags().StringVar(&deleteReason, "reason", "", "deletion reason")
	deleteCmd.Flags().BoolVar(&deleteHard, "hard", false, "purge instead of soft-delete")

	registerAgentCmd.Flags().StringVar(&registerRole, "role", "worker", "agent role")
	registerAgentCmd.Flags().StringVar(&registerCapabilities, "capabilities", "", "comma-separated capabilities")

	rosterCmd.Flags().StringVar(&rosterRole, "role", "", "filter by agent role")
	rosterCmd.Flags().StringVar(&rosterCapability, "capability", "", "filter by capability")
	rosterCmd.Flags().StringVar(&rosterMachineID, "machine-id", "", "filter by machine id")
}
