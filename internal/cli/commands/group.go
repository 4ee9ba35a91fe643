package commands

import (
	"github.com/leapstack-labs/meshify/internal/change"
	"github.com/leapstack-labs/meshify/internal/mesh"
	"github.com/spf13/cobra"
)

// NewGroupCommand creates the group command. It wraps create-group and
// add-contract into one workflow: the selected models join a new group, and
// every model that stays visible outside the group gains a contract.
func NewGroupCommand() *cobra.Command {
	opts := &createGroupOptions{}
	cmd := &cobra.Command{
		Use:   "group NAME",
		Short: "Group models and contract their public boundary",
		Long: `Create a dbt group from the selected models and contract its boundary.

This is the grouping workflow in one step: the selected models are assigned
to a new group with access levels derived from how they are referenced, and
each model that remains visible outside the group gets an enforced contract
so downstream consumers keep a stable interface.`,
		Example: `  # Group the finance marts and contract their interface
  meshify group finance -s marts.finance --owner-name "Finance Team"

  # Preview the full change plan first
  meshify group finance -s marts.finance --owner-email finance@example.com --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGroup(cmd, args[0], opts)
		},
	}

	addGroupFlags(cmd, opts)
	return cmd
}

func runGroup(cmd *cobra.Command, name string, opts *createGroupOptions) error {
	cmdCtx := NewCommandContext(cmd)

	owner, err := parseOwner(opts.ownerName, opts.ownerEmail, opts.ownerProperties)
	if err != nil {
		return err
	}

	p, err := loadProject(cmd.Context(), cmdCtx, "")
	if err != nil {
		return err
	}

	grouper := mesh.NewGrouper(p)
	contractor := mesh.NewContractor(p)
	changeSet, err := grouper.AddGroupAndContract(contractor, name, owner,
		projectRelative(p, opts.groupYmlPath),
		opts.selection.Select, opts.selection.Exclude, opts.selection.Selector)
	if err != nil {
		return err
	}

	return applyChangeSets(cmdCtx, []*change.ChangeSet{changeSet})
}
