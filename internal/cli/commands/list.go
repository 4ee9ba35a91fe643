package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/meshify/internal/cli/output"
	"github.com/leapstack-labs/meshify/internal/dbt"
	"github.com/leapstack-labs/meshify/internal/project"
	"github.com/spf13/cobra"
)

type listOptions struct {
	selection SelectionOptions
}

// NewListCommand creates the list command.
func NewListCommand() *cobra.Command {
	opts := &listOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List selected resources and their mesh metadata",
		Long: `List the selected resources with their access level, group, and version.

Output adapts to environment:
  - Terminal: styled table
  - Piped/Scripted: markdown format (agent-friendly)

Use --output to override: auto, text, markdown, json`,
		Example: `  # List every resource in the project
  meshify list

  # List a model and its upstream lineage as JSON
  meshify list -s +orders --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd, opts)
		},
	}

	addSelectionFlags(cmd, &opts.selection)
	return cmd
}

func runList(cmd *cobra.Command, opts *listOptions) error {
	cmdCtx := NewCommandContext(cmd)
	r := cmdCtx.Renderer

	p, err := loadProject(cmd.Context(), cmdCtx, "")
	if err != nil {
		return err
	}

	ids, err := p.SelectResources(opts.selection.Select, opts.selection.Exclude, opts.selection.Selector)
	if err != nil {
		return err
	}

	resources := make([]output.ResourceInfo, 0, len(ids))
	byType := make(map[string]int)
	for _, id := range ids {
		resource, ok := p.Resource(id)
		if !ok {
			continue
		}
		info := resourceInfo(p, resource)
		resources = append(resources, info)
		byType[info.ResourceType]++
	}

	listOutput := output.ListOutput{
		Project:   p.Name(),
		Resources: resources,
		Summary:   output.ListSummary{Total: len(resources), ByType: byType},
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(listOutput)
	case output.ModeMarkdown:
		listMarkdown(r, listOutput)
		return nil
	default:
		listText(r, listOutput)
		return nil
	}
}

func resourceInfo(p *project.Project, resource dbt.Resource) output.ResourceInfo {
	base := resource.Base()
	info := output.ResourceInfo{
		UniqueID:     base.UniqueID,
		Name:         base.Name,
		ResourceType: string(base.ResourceType),
		FilePath:     base.OriginalFilePath,
	}

	if node, ok := resource.(*dbt.Node); ok {
		info.Access = node.Access
		info.Group = node.Group
		info.Version = node.Version.String()
		info.Materialized = node.Config.Materialized
	}
	return info
}

// listText renders the selection as a styled table.
func listText(r *output.Renderer, lo output.ListOutput) {
	r.Header(1, fmt.Sprintf("%s: %d resources", lo.Project, lo.Summary.Total))

	t := table.NewWriter()
	t.SetOutputMirror(r.Writer())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Type", "Name", "Access", "Group", "Version", "Path"})
	for _, res := range lo.Resources {
		t.AppendRow(table.Row{res.ResourceType, res.Name, res.Access, res.Group, res.Version, res.FilePath})
	}
	t.Render()
}

// listMarkdown renders the selection as markdown sections.
func listMarkdown(r *output.Renderer, lo output.ListOutput) {
	r.Println(output.FormatHeader(1, fmt.Sprintf("%s: %d resources", lo.Project, lo.Summary.Total)))
	r.Println("")

	for _, res := range lo.Resources {
		r.Println(output.FormatHeader(2, res.Name))
		r.Println(output.FormatKeyValue("Type", res.ResourceType))
		r.Println(output.FormatKeyValue("File", res.FilePath))
		if res.Access != "" {
			r.Println(output.FormatKeyValue("Access", res.Access))
		}
		if res.Group != "" {
			r.Println(output.FormatKeyValue("Group", res.Group))
		}
		if res.Version != "" {
			r.Println(output.FormatKeyValue("Version", res.Version))
		}
		if res.Materialized != "" {
			r.Println(output.FormatKeyValue("Materialized", res.Materialized))
		}
		r.Println("")
	}

	if len(lo.Resources) > 0 {
		counts := make([]string, 0, len(lo.Summary.ByType))
		for resourceType, n := range lo.Summary.ByType {
			counts = append(counts, fmt.Sprintf("%s: %d", resourceType, n))
		}
		sort.Strings(counts)
		r.Println(output.FormatKeyValue("Summary", strings.Join(counts, ", ")))
	}
}
