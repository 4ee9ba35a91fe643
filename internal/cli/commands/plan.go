package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/meshify/internal/change"
	"github.com/leapstack-labs/meshify/internal/cli/output"
	"github.com/leapstack-labs/meshify/internal/storage"
)

// applyChangeSets commits the planned changes and renders the resulting plan.
// In dry-run mode the processor only logs what it would write.
func applyChangeSets(cmdCtx *CommandContext, changeSets []*change.ChangeSet) error {
	changes := change.Flatten(changeSets)
	if len(changes) == 0 {
		cmdCtx.Renderer.Muted("No changes to apply")
		return nil
	}

	processor := storage.NewChangeSetProcessor(cmdCtx.Cfg.DryRun, cmdCtx.Logger)
	if err := processor.Process(changeSets); err != nil {
		return err
	}

	return renderPlan(cmdCtx.Renderer, cmdCtx.Cfg.DryRun, changes)
}

// planSteps flattens changes into renderable plan rows.
func planSteps(changes []change.Change) []output.PlanStep {
	steps := make([]output.PlanStep, 0, len(changes))
	for i, c := range changes {
		step := output.PlanStep{
			Step:        i + 1,
			Description: c.Description(),
		}
		switch typed := c.(type) {
		case *change.ResourceChange:
			step.Operation = string(typed.Operation)
			step.EntityType = string(typed.EntityType)
			step.Name = typed.Identifier
			step.Path = typed.Path
		case *change.FileChange:
			step.Operation = string(typed.Operation)
			step.EntityType = string(typed.EntityType)
			step.Name = typed.Identifier
			step.Path = typed.Path
		}
		steps = append(steps, step)
	}
	return steps
}

func renderPlan(r *output.Renderer, dryRun bool, changes []change.Change) error {
	steps := planSteps(changes)

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(output.PlanOutput{DryRun: dryRun, Steps: steps})
	case output.ModeMarkdown:
		renderPlanMarkdown(r, dryRun, steps)
		return nil
	default:
		renderPlanText(r, dryRun, steps)
		return nil
	}
}

func renderPlanText(r *output.Renderer, dryRun bool, steps []output.PlanStep) {
	r.Header(1, "Change plan")

	t := table.NewWriter()
	t.SetOutputMirror(r.Writer())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Operation", "Entity", "Name", "Path"})
	for _, s := range steps {
		t.AppendRow(table.Row{s.Step, s.Operation, s.EntityType, s.Name, s.Path})
	}
	t.Render()

	if dryRun {
		r.Muted(fmt.Sprintf("Dry run: planned %d changes, no files were modified", len(steps)))
		return
	}
	r.Success(fmt.Sprintf("Applied %d changes", len(steps)))
}

func renderPlanMarkdown(r *output.Renderer, dryRun bool, steps []output.PlanStep) {
	r.Println(output.FormatHeader(1, "Change plan"))
	r.Println("")

	status := "success"
	if dryRun {
		status = "planned"
	}
	for _, s := range steps {
		r.StatusLine(s.Description, status, "")
	}
	r.Println("")

	if dryRun {
		r.Println(fmt.Sprintf("Dry run: planned %d changes, no files were modified", len(steps)))
		return
	}
	r.Success(fmt.Sprintf("Applied %d changes", len(steps)))
}
