package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/chzyer/readline"
	"github.com/leapstack-labs/meshify/internal/change"
	"github.com/leapstack-labs/meshify/internal/cli/output"
	"github.com/leapstack-labs/meshify/internal/dbt"
	"github.com/leapstack-labs/meshify/internal/mesh"
	"github.com/leapstack-labs/meshify/internal/project"
	"github.com/leapstack-labs/meshify/internal/storage"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type connectOptions struct {
	projectPaths    []string
	excludeProjects []string
}

// NewConnectCommand creates the connect command.
func NewConnectCommand() *cobra.Command {
	opts := &connectOptions{}
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Convert implicit dependencies between dbt projects into cross-project refs",
		Long: `Detect dependencies between separate dbt projects and make them explicit.

Two kinds of implicit dependency are detected: a source defined over a
relation another project materializes, and models referenced through an
installed copy of another project. Either way the upstream model goes
public and gains a contract, downstream code is rewritten to two-argument
refs, shadowed source definitions are removed, and the downstream project
registers the upstream one in dependencies.yml.

Projects come from --project-paths, from scanning the --project-path
directory for dbt projects, or from an interactive prompt.`,
		Example: `  # Connect two projects by path
  meshify connect --project-paths ./jaffle_shop ./jaffle_finance

  # Scan a directory that holds several projects
  meshify connect --project-path ./projects

  # Leave one project out of the scan
  meshify connect --project-path ./projects --exclude-projects jaffle_legacy`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConnect(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.projectPaths, "project-paths", nil, "paths of the dbt projects to connect (two or more)")
	cmd.Flags().StringSliceVar(&opts.excludeProjects, "exclude-projects", nil, "project names to leave out")
	return cmd
}

func runConnect(cmd *cobra.Command, opts *connectOptions) error {
	cmdCtx := NewCommandContext(cmd)
	r := cmdCtx.Renderer

	paths, err := resolveProjectPaths(cmdCtx, opts)
	if err != nil {
		return err
	}

	projects, err := loadProjects(cmd.Context(), cmdCtx, paths)
	if err != nil {
		return err
	}

	projects = slices.DeleteFunc(projects, func(p *project.Project) bool {
		return slices.Contains(opts.excludeProjects, p.Name())
	})
	if len(projects) < 2 {
		return fmt.Errorf("connecting projects requires at least two of them, got %d", len(projects))
	}

	byName := make(map[string]*project.Project, len(projects))
	names := make([]string, 0, len(projects))
	for _, p := range projects {
		if _, ok := byName[p.Name()]; ok {
			return fmt.Errorf("two of the projects are both named %s", p.Name())
		}
		byName[p.Name()] = p
		names = append(names, p.Name())
	}

	linker := mesh.NewLinker()
	var deps []mesh.ProjectDependency
	for i := range projects {
		for j := i + 1; j < len(projects); j++ {
			deps = append(deps, linker.Dependencies(projects[i], projects[j])...)
		}
	}

	depsInfo := make([]output.DependencyInfo, 0, len(deps))
	for _, dep := range deps {
		depsInfo = append(depsInfo, output.DependencyInfo{
			Type:              string(dep.Type),
			Upstream:          dep.UpstreamResource,
			UpstreamProject:   dep.UpstreamProjectName,
			Downstream:        dep.DownstreamResource,
			DownstreamProject: dep.DownstreamProjectName,
		})
	}

	if len(deps) == 0 {
		if r.EffectiveMode() == output.ModeJSON {
			return r.JSON(output.ConnectOutput{Projects: names, Dependencies: depsInfo})
		}
		r.Muted(fmt.Sprintf("No dependencies detected between %s", strings.Join(names, ", ")))
		return nil
	}

	changeSet := change.NewChangeSet()
	for _, dep := range deps {
		resolved, err := linker.ResolveDependency(dep, byName[dep.UpstreamProjectName], byName[dep.DownstreamProjectName], changeSet)
		if err != nil {
			return err
		}
		changeSet.Extend(resolved)
	}
	changeSets := []*change.ChangeSet{changeSet}

	if r.EffectiveMode() == output.ModeJSON {
		processor := storage.NewChangeSetProcessor(cmdCtx.Cfg.DryRun, cmdCtx.Logger)
		if err := processor.Process(changeSets); err != nil {
			return err
		}
		return r.JSON(output.ConnectOutput{
			Projects:     names,
			Dependencies: depsInfo,
			Plan:         &output.PlanOutput{DryRun: cmdCtx.Cfg.DryRun, Steps: planSteps(changeSet.Changes)},
		})
	}

	renderDependencies(r, depsInfo)
	return applyChangeSets(cmdCtx, changeSets)
}

// resolveProjectPaths decides which projects to connect: explicit paths win,
// then paths from config, then a scan of the holding directory, and finally
// an interactive prompt when attached to a terminal.
func resolveProjectPaths(cmdCtx *CommandContext, opts *connectOptions) ([]string, error) {
	if len(opts.projectPaths) > 0 {
		return opts.projectPaths, nil
	}
	if len(cmdCtx.Cfg.ProjectPaths) > 0 {
		return cmdCtx.Cfg.ProjectPaths, nil
	}

	paths, err := scanHoldingDir(cmdCtx.Cfg.ProjectPath, opts.excludeProjects)
	if err != nil {
		return nil, err
	}
	if len(paths) >= 2 {
		return paths, nil
	}

	if cmdCtx.Renderer.IsTTY() {
		return promptProjectPaths(cmdCtx.Renderer)
	}
	return nil, fmt.Errorf("connecting projects requires at least two project paths; pass --project-paths or point --project-path at a directory holding them")
}

// scanHoldingDir finds immediate subdirectories that contain a dbt project.
func scanHoldingDir(dir string, exclude []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		if !entry.IsDir() || slices.Contains(exclude, entry.Name()) {
			continue
		}
		candidate := filepath.Join(dir, entry.Name())
		if _, err := os.Stat(filepath.Join(candidate, dbt.ProjectFileName)); err == nil {
			paths = append(paths, candidate)
		}
	}
	return paths, nil
}

// promptProjectPaths reads project paths interactively, one per line, until
// an empty line.
func promptProjectPaths(r *output.Renderer) ([]string, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "project path> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".meshify_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "done",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize prompt: %w", err)
	}
	defer func() { _ = rl.Close() }()

	r.Muted("Enter the paths of the dbt projects to connect, one per line.")
	r.Muted("Finish with an empty line.")

	var paths []string
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		paths = append(paths, line)
	}

	if len(paths) < 2 {
		return nil, fmt.Errorf("connecting projects requires at least two project paths, got %d", len(paths))
	}
	return paths, nil
}

// loadProjects reads every project in parallel. Loads are read-only and
// independent, so one failure cancels the rest.
func loadProjects(ctx context.Context, cmdCtx *CommandContext, paths []string) ([]*project.Project, error) {
	projects := make([]*project.Project, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			p, err := loadProject(ctx, cmdCtx, path)
			if err != nil {
				return fmt.Errorf("loading project at %s: %w", path, err)
			}
			projects[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return projects, nil
}

func renderDependencies(r *output.Renderer, deps []output.DependencyInfo) {
	if r.EffectiveMode() == output.ModeMarkdown {
		r.Println(output.FormatHeader(1, fmt.Sprintf("Dependencies (%d)", len(deps))))
		r.Println("")
		for _, dep := range deps {
			r.Println(fmt.Sprintf("- `%s` (%s) feeds `%s` (%s) via %s",
				dep.Upstream, dep.UpstreamProject, dep.Downstream, dep.DownstreamProject, dep.Type))
		}
		r.Println("")
		return
	}

	r.Header(1, fmt.Sprintf("Dependencies (%d)", len(deps)))
	for _, dep := range deps {
		r.StatusLine(fmt.Sprintf("%s (%s) feeds %s (%s)",
			dep.Upstream, dep.UpstreamProject, dep.Downstream, dep.DownstreamProject), "success", string(dep.Type))
	}
}
