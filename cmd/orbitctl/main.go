package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/orbitctl/orbit/pkg/client"
	"github.com/orbitctl/orbit/pkg/types"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "orbitctl",
	Short:   "orbitctl talks to an orbit manager's Intent API",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("orbitctl version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))
	rootCmd.PersistentFlags().String("manager", "http://127.0.0.1:8080", "Manager Intent API address")

	rootCmd.AddCommand(groupCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(allocCmd)
}

func connect(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("manager")
	return client.NewClient(addr)
}

func ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

// group commands

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage container groups",
}

var groupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List container groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := connect(cmd)
		c2, cancel := ctx()
		defer cancel()
		groups, err := c.ListGroups(c2)
		if err != nil {
			return err
		}
		return printJSON(groups)
	},
}

var groupShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one container group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := connect(cmd)
		c2, cancel := ctx()
		defer cancel()
		g, err := c.ShowGroup(c2, args[0])
		if err != nil {
			return err
		}
		return printJSON(g)
	},
}

var groupKillCmd = &cobra.Command{
	Use:   "kill ID",
	Short: "Terminate a container group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := connect(cmd)
		c2, cancel := ctx()
		defer cancel()
		if err := c.KillGroup(c2, args[0]); err != nil {
			return err
		}
		fmt.Printf("group %s killed\n", args[0])
		return nil
	},
}

var groupRollbackCmd = &cobra.Command{
	Use:   "rollback ID",
	Short: "Roll a group back to its previous version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := connect(cmd)
		c2, cancel := ctx()
		defer cancel()
		version, err := c.RollbackGroup(c2, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("rolled back to %s\n", version)
		return nil
	},
}

var groupCancelUpdateCmd = &cobra.Command{
	Use:   "cancel-update ID",
	Short: "Cancel an in-progress rolling update",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := connect(cmd)
		c2, cancel := ctx()
		defer cancel()
		return c.CancelUpdate(c2, args[0])
	},
}

var groupReplicaCmd = &cobra.Command{
	Use:   "replica ID N",
	Short: "Change a group's replica count",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var n int
		if _, err := fmt.Sscanf(args[1], "%d", &n); err != nil {
			return fmt.Errorf("invalid replica count %q: %w", args[1], err)
		}
		c := connect(cmd)
		c2, cancel := ctx()
		defer cancel()
		return c.ChangeReplica(c2, args[0], n)
	},
}

var groupPauseCmd = &cobra.Command{
	Use:   "pause ID",
	Short: "Pause an in-progress rolling update",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := connect(cmd)
		c2, cancel := ctx()
		defer cancel()
		return c.PauseUpdate(c2, args[0])
	},
}

var groupContinueCmd = &cobra.Command{
	Use:   "continue ID",
	Short: "Resume a paused rolling update",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		breakCount, _ := cmd.Flags().GetInt("break-count")
		c := connect(cmd)
		c2, cancel := ctx()
		defer cancel()
		return c.ContinueUpdate(c2, args[0], breakCount)
	},
}

var groupPreemptCmd = &cobra.Command{
	Use:   "preempt GROUP_ID CONTAINER_ID",
	Short: "Manually terminate a single container (it is not rescheduled)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := connect(cmd)
		c2, cancel := ctx()
		defer cancel()
		return c.ChangeContainerStatus(c2, args[0], args[1], types.StatusTerminated)
	},
}

func init() {
	groupCmd.AddCommand(groupListCmd, groupShowCmd, groupKillCmd, groupRollbackCmd,
		groupCancelUpdateCmd, groupReplicaCmd, groupPauseCmd, groupContinueCmd, groupPreemptCmd)
	groupContinueCmd.Flags().Int("break-count", 1, "Number of additional containers to update")
}

// agent commands

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage agents",
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := connect(cmd)
		c2, cancel := ctx()
		defer cancel()
		agents, err := c.ListAgents(c2)
		if err != nil {
			return err
		}
		return printJSON(agents)
	},
}

var agentShowCmd = &cobra.Command{
	Use:   "show ENDPOINT",
	Short: "Show one agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := connect(cmd)
		c2, cancel := ctx()
		defer cancel()
		a, err := c.ShowAgent(c2, args[0])
		if err != nil {
			return err
		}
		return printJSON(a)
	},
}

var agentRemoveCmd = &cobra.Command{
	Use:   "remove ENDPOINT",
	Short: "Decommission an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := connect(cmd)
		c2, cancel := ctx()
		defer cancel()
		return c.RemoveAgent(c2, args[0])
	},
}

var agentTagCmd = &cobra.Command{
	Use:   "tag ENDPOINT TAG",
	Short: "Attach a placement tag to an agent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := connect(cmd)
		c2, cancel := ctx()
		defer cancel()
		return c.AddTag(c2, args[0], args[1])
	},
}

var agentUntagCmd = &cobra.Command{
	Use:   "untag ENDPOINT TAG",
	Short: "Remove a placement tag from an agent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := connect(cmd)
		c2, cancel := ctx()
		defer cancel()
		return c.RemoveTag(c2, args[0], args[1])
	},
}

var agentPoolCmd = &cobra.Command{
	Use:   "pool ENDPOINT POOL",
	Short: "Reassign an agent's placement pool",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := connect(cmd)
		c2, cancel := ctx()
		defer cancel()
		return c.SetPool(c2, args[0], args[1])
	},
}

var agentFreezeCmd = &cobra.Command{
	Use:   "freeze ENDPOINT",
	Short: "Mark an agent ineligible for new placements",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := connect(cmd)
		c2, cancel := ctx()
		defer cancel()
		return c.FreezeAgent(c2, args[0])
	},
}

var agentThawCmd = &cobra.Command{
	Use:   "thaw ENDPOINT",
	Short: "Make a frozen agent eligible for placement again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := connect(cmd)
		c2, cancel := ctx()
		defer cancel()
		return c.ThawAgent(c2, args[0])
	},
}

var agentScheduleCmd = &cobra.Command{
	Use:   "schedule ENDPOINT GROUP_ID",
	Short: "Force one pending container of a group onto an agent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := connect(cmd)
		c2, cancel := ctx()
		defer cancel()
		ok, err := c.ManualSchedule(c2, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("scheduled: %t\n", ok)
		return nil
	},
}

func init() {
	agentCmd.AddCommand(agentListCmd, agentShowCmd, agentRemoveCmd, agentTagCmd, agentUntagCmd,
		agentPoolCmd, agentFreezeCmd, agentThawCmd, agentScheduleCmd)
}

// cluster commands

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage cluster membership",
}

var clusterJoinTokenCmd = &cobra.Command{
	Use:   "join-token",
	Short: "Mint a join token for a new manager node (must target the leader)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")
		c := connect(cmd)
		c2, cancel := ctx()
		defer cancel()
		token, err := c.GenerateJoinToken(c2, ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	clusterCmd.AddCommand(clusterJoinTokenCmd)
	clusterJoinTokenCmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
}

// quota/allocation commands

var allocCmd = &cobra.Command{
	Use:   "alloc USER",
	Short: "Show a user's current aggregate resource allocation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := connect(cmd)
		c2, cancel := ctx()
		defer cancel()
		alloc, err := c.ShowUserAlloc(c2, args[0])
		if err != nil {
			return err
		}
		return printJSON(alloc)
	},
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
