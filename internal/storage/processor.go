package storage

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/leapstack-labs/meshify/internal/change"
)

// ChangeSetProcessor commits planned change sets to the file system, one
// change at a time and in plan order. Processing stops at the first failure.
type ChangeSetProcessor struct {
	dryRun bool
	logger *slog.Logger
}

// NewChangeSetProcessor builds a processor. In dry-run mode the plan is
// logged but no files are modified.
func NewChangeSetProcessor(dryRun bool, logger *slog.Logger) *ChangeSetProcessor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ChangeSetProcessor{dryRun: dryRun, logger: logger}
}

// Process executes every change across the given change sets. Each run is
// stamped with a plan ID so interleaved logs can be grouped.
func (p *ChangeSetProcessor) Process(changeSets []*change.ChangeSet) error {
	logger := p.logger.With("plan", uuid.NewString())

	if p.dryRun {
		logger.Warn("Dry-run mode active. No files will be modified.")
	}

	changes := change.Flatten(changeSets)
	total := len(changes)

	for i, c := range changes {
		step := fmt.Sprintf("%d/%d", i+1, total)

		if p.dryRun {
			logger.Info(c.Description(), "step", step, "state", "planned")
			continue
		}

		logger.Debug(c.Description(), "step", step, "state", "starting")
		if err := p.write(c); err != nil {
			return fmt.Errorf("error processing change %s: %w", c.Description(), err)
		}
		logger.Info(c.Description(), "step", step, "state", "done")
	}
	return nil
}

// write routes a change to the editor for its type. Raw code edits use the
// raw file editor; everything else edits YAML resources.
func (p *ChangeSetProcessor) write(c change.Change) error {
	switch typed := c.(type) {
	case *change.FileChange:
		return RawFileEditor{}.Apply(typed)
	case *change.ResourceChange:
		return ResourceFileEditor{}.Apply(typed)
	}
	return fmt.Errorf("unsupported change type %T", c)
}
