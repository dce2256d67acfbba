package main

import (
	"fmt"
	"os"

	"github.com/orbitctl/orbit/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Submit a container group from a YAML file",
	Long: `Submit a new container group from a YAML definition. Apply always
submits a new group; it never updates an existing one.

Examples:
  orbitctl apply -f group.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(applyCmd)
}

// groupSpec is the YAML shape orbitctl apply reads. It mirrors
// types.ContainerGroupMeta's submission fields rather than the full wire
// type, since update interval and user are orthogonal to the desc itself.
type groupSpec struct {
	Name           string              `yaml:"name"`
	User           string              `yaml:"user"`
	Priority       string              `yaml:"priority"`
	Replica        int                 `yaml:"replica"`
	UpdateInterval int                 `yaml:"updateInterval"`
	Desc           types.ContainerDesc `yaml:"desc"`
}

var priorityByName = map[string]types.Priority{
	"BestEffort": types.PriorityBestEffort,
	"Batch":      types.PriorityBatch,
	"Service":    types.PriorityService,
	"Monitor":    types.PriorityMonitor,
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	var spec groupSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return fmt.Errorf("parse YAML: %w", err)
	}
	if spec.Name == "" {
		return fmt.Errorf("name is required")
	}
	if spec.Replica <= 0 {
		spec.Replica = 1
	}
	priority, ok := priorityByName[spec.Priority]
	if !ok && spec.Priority != "" {
		return fmt.Errorf("unknown priority %q", spec.Priority)
	}

	c := connect(cmd)
	c2, cancel := ctx()
	defer cancel()

	id, err := c.SubmitGroup(c2, spec.Name, spec.Desc, spec.Replica, priority, spec.User)
	if err != nil {
		return fmt.Errorf("submit group: %w", err)
	}
	fmt.Printf("group submitted: %s (id: %s)\n", spec.Name, id)
	return nil
}
