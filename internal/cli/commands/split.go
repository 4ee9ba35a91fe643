package commands

import (
	"fmt"

	"github.com/leapstack-labs/meshify/internal/change"
	"github.com/leapstack-labs/meshify/internal/mesh"
	"github.com/spf13/cobra"
)

type splitOptions struct {
	selection  SelectionOptions
	createPath string
}

// NewSplitCommand creates the split command.
func NewSplitCommand() *cobra.Command {
	opts := &splitOptions{}
	cmd := &cobra.Command{
		Use:   "split NAME",
		Short: "Split selected resources out into a new dbt project",
		Long: `Split the selected resources out of a dbt project into a new one.

Model and seed files move into the new project directory along with their
properties entries, the macros and groups they use, and a dbt_project.yml
derived from the parent's. Models on either side of the new boundary are
contracted and made public, and refs across it become two-argument refs.`,
		Example: `  # Split the orders models into their own project
  meshify split orders_mesh -s +orders

  # Split into an explicit directory
  meshify split orders_mesh -s +orders --create-path ../orders_mesh

  # Preview the move plan
  meshify split orders_mesh -s +orders --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSplit(cmd, args[0], opts)
		},
	}

	addSelectionFlags(cmd, &opts.selection)
	cmd.Flags().StringVar(&opts.createPath, "create-path", "", "directory the new project is created in (defaults to a directory named after it inside the parent)")
	return cmd
}

func runSplit(cmd *cobra.Command, name string, opts *splitOptions) error {
	cmdCtx := NewCommandContext(cmd)

	p, err := loadProject(cmd.Context(), cmdCtx, "")
	if err != nil {
		return err
	}

	sub, err := p.Split(name, opts.selection.Select, opts.selection.Exclude, opts.selection.Selector)
	if err != nil {
		return err
	}
	if sub.IsProjectCycle() {
		return fmt.Errorf("cannot split %s out of %s: the two projects would depend on each other", sub.Name, p.Name())
	}

	creator := mesh.NewSubprojectCreator(sub, opts.createPath, cmdCtx.Logger)
	changeSet, err := creator.Initialize()
	if err != nil {
		return err
	}

	return applyChangeSets(cmdCtx, []*change.ChangeSet{changeSet})
}
