package commands

import (
	"github.com/leapstack-labs/meshify/internal/change"
	"github.com/leapstack-labs/meshify/internal/mesh"
	"github.com/spf13/cobra"
)

// NewOperationCommand creates the operation command group. Each subcommand
// applies one mesh operation to the selected resources without the larger
// workflow the group, split, and connect commands wrap around them.
func NewOperationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operation",
		Short: "Apply a single mesh operation to selected resources",
		Long: `Apply one mesh operation to the selected resources of a dbt project.

Operations are the building blocks the higher-level commands compose:
add-contract, add-version, and create-group each plan and write one kind
of change.`,
	}

	cmd.AddCommand(newAddContractCommand())
	cmd.AddCommand(newAddVersionCommand())
	cmd.AddCommand(newCreateGroupCommand())

	return cmd
}

type addContractOptions struct {
	selection SelectionOptions
}

func newAddContractCommand() *cobra.Command {
	opts := &addContractOptions{}
	cmd := &cobra.Command{
		Use:   "add-contract",
		Short: "Add a model contract to selected models",
		Long: `Add an enforced contract to each selected model.

The contract pins the model's column names and data types in its properties
file. Column types come from the warehouse catalog when target/catalog.json
is available.`,
		Example: `  # Contract every model under models/marts
  meshify operation add-contract --select marts

  # Contract a model and everything upstream of it
  meshify operation add-contract -s +orders

  # Preview the changes without writing files
  meshify operation add-contract -s orders --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAddContract(cmd, opts)
		},
	}

	addSelectionFlags(cmd, &opts.selection)
	return cmd
}

func runAddContract(cmd *cobra.Command, opts *addContractOptions) error {
	cmdCtx := NewCommandContext(cmd)

	p, err := loadProject(cmd.Context(), cmdCtx, "")
	if err != nil {
		return err
	}

	models, err := selectedModels(p, &opts.selection)
	if err != nil {
		return err
	}

	contractor := mesh.NewContractor(p)
	changeSet := &change.ChangeSet{}
	for _, model := range models {
		changeSet.Add(contractor.GenerateContract(model))
	}

	return applyChangeSets(cmdCtx, []*change.ChangeSet{changeSet})
}

type addVersionOptions struct {
	selection  SelectionOptions
	prerelease bool
	definedIn  string
}

func newAddVersionCommand() *cobra.Command {
	opts := &addVersionOptions{}
	cmd := &cobra.Command{
		Use:   "add-version",
		Short: "Add or bump a version on selected models",
		Long: `Add version metadata to each selected model.

Unversioned models gain an initial version. Models already at their latest
version get a new incremented version, including a copy of the model file
under the versioned name.`,
		Example: `  # Version the orders model
  meshify operation add-version -s orders

  # Cut the next version as a prerelease
  meshify operation add-version -s orders --prerelease

  # Pin the file the new version lives in
  meshify operation add-version -s orders --defined-in orders_v2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAddVersion(cmd, opts)
		},
	}

	addSelectionFlags(cmd, &opts.selection)
	cmd.Flags().BoolVar(&opts.prerelease, "prerelease", false, "mark the new version as a prerelease")
	cmd.Flags().BoolVar(&opts.prerelease, "pre", false, "mark the new version as a prerelease")
	_ = cmd.Flags().MarkHidden("pre")
	cmd.Flags().StringVar(&opts.definedIn, "defined-in", "", "file name (without extension) the new version is defined in")
	return cmd
}

func runAddVersion(cmd *cobra.Command, opts *addVersionOptions) error {
	cmdCtx := NewCommandContext(cmd)

	p, err := loadProject(cmd.Context(), cmdCtx, "")
	if err != nil {
		return err
	}

	models, err := selectedModels(p, &opts.selection)
	if err != nil {
		return err
	}

	versioner := mesh.NewModelVersioner(p)
	changeSets := make([]*change.ChangeSet, 0, len(models))
	for _, model := range models {
		// A versioned model has one manifest node per version; only the
		// latest one gets bumped.
		if !model.IsCurrentVersion() {
			continue
		}
		cs, err := versioner.GenerateVersion(model, opts.prerelease, opts.definedIn)
		if err != nil {
			return err
		}
		changeSets = append(changeSets, cs)
	}

	return applyChangeSets(cmdCtx, changeSets)
}

type createGroupOptions struct {
	selection       SelectionOptions
	ownerName       string
	ownerEmail      string
	ownerProperties []string
	groupYmlPath    string
}

// addGroupFlags registers the flags shared by create-group and group.
func addGroupFlags(cmd *cobra.Command, opts *createGroupOptions) {
	addSelectionFlags(cmd, &opts.selection)
	cmd.Flags().StringVar(&opts.ownerName, "owner-name", "", "name of the group owner")
	cmd.Flags().StringVar(&opts.ownerEmail, "owner-email", "", "email of the group owner")
	cmd.Flags().StringArrayVar(&opts.ownerProperties, "owner-properties", nil, "additional owner property as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.groupYmlPath, "group-yml-path", DefaultGroupYmlPath, "properties file the group definition is written to")
}

func newCreateGroupCommand() *cobra.Command {
	opts := &createGroupOptions{}
	cmd := &cobra.Command{
		Use:   "create-group NAME",
		Short: "Create a group and assign selected models to it",
		Long: `Create a dbt group and add the selected models to it.

Models whose children all sit inside the selection become private to the
group. Models referenced from outside, and models with no children at all,
stay protected so existing references keep working.`,
		Example: `  # Group the finance marts under a named owner
  meshify operation create-group finance -s marts.finance --owner-name "Finance Team"

  # Record extra owner metadata
  meshify operation create-group finance -s marts.finance \
    --owner-email finance@example.com --owner-properties slack=#finance`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreateGroup(cmd, args[0], opts)
		},
	}

	addGroupFlags(cmd, opts)
	return cmd
}

func runCreateGroup(cmd *cobra.Command, name string, opts *createGroupOptions) error {
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
	changeSet, err := grouper.AddGroup(name, owner, projectRelative(p, opts.groupYmlPath),
		opts.selection.Select, opts.selection.Exclude, opts.selection.Selector)
	if err != nil {
		return err
	}

	return applyChangeSets(cmdCtx, []*change.ChangeSet{changeSet})
}
