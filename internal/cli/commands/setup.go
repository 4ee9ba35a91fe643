package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/meshify/internal/cli/config"
	"github.com/leapstack-labs/meshify/internal/cli/output"
	"github.com/leapstack-labs/meshify/internal/dbt"
	"github.com/leapstack-labs/meshify/internal/project"
	"github.com/spf13/cobra"
)

// DefaultGroupYmlPath is where group definitions are written when the caller
// does not pick a file.
const DefaultGroupYmlPath = "models/_groups.yml"

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext with config, logger, and renderer.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())
	mode := output.Mode(cfg.OutputFormat)
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
	}
}

// loadProject reads the dbt project rooted at dir. An empty dir falls back to
// the configured project path.
func loadProject(ctx context.Context, cmdCtx *CommandContext, dir string) (*project.Project, error) {
	if dir == "" {
		if err := cmdCtx.Cfg.ValidateProjectDir(); err != nil {
			return nil, err
		}
		dir = cmdCtx.Cfg.ProjectPath
	}

	return project.Load(ctx, dir, project.LoadOptions{
		ReadCatalog: cmdCtx.Cfg.ReadCatalog,
		SkipCatalog: cmdCtx.Cfg.NoReadCatalog,
		NoInvokeDbt: cmdCtx.Cfg.NoInvokeDbt,
		Logger:      cmdCtx.Logger,
	})
}

// SelectionOptions holds the dbt node selection flags shared by commands
// that operate on a subset of a project.
type SelectionOptions struct {
	Select   string
	Exclude  string
	Selector string
}

// addSelectionFlags registers --select, --exclude, and --selector on cmd.
func addSelectionFlags(cmd *cobra.Command, opts *SelectionOptions) {
	cmd.Flags().StringVarP(&opts.Select, "select", "s", "", "dbt selection syntax for resources to operate on")
	cmd.Flags().StringVarP(&opts.Exclude, "exclude", "e", "", "dbt selection syntax for resources to exclude")
	cmd.Flags().StringVar(&opts.Selector, "selector", "", "named selector from selectors.yml")
}

// projectRelative resolves a flag path against the project directory.
// Absolute paths pass through untouched.
func projectRelative(p *project.Project, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.Path, path)
}

// selectedModels resolves the selection against the project and keeps only
// model nodes. Selections that match no models are an error.
func selectedModels(p *project.Project, opts *SelectionOptions) ([]*dbt.Node, error) {
	ids, err := p.SelectResources(opts.Select, opts.Exclude, opts.Selector)
	if err != nil {
		return nil, err
	}

	models := make([]*dbt.Node, 0, len(ids))
	for _, id := range ids {
		if node, ok := p.Manifest.Nodes[id]; ok && node.ResourceType == dbt.ResourceTypeModel {
			models = append(models, node)
		}
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("no models selected in project %s", p.Name())
	}
	return models, nil
}

// Helper functions shared across commands

// getConfig returns the current configuration.
// It uses config.GetCurrentConfig() if available, otherwise falls back to environment variables.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}

	// Fallback: read from environment with defaults
	projectPath := getEnvOrDefault("MESHIFY_PROJECT_PATH", config.DefaultProjectPath)
	dryRun := os.Getenv("MESHIFY_DRY_RUN") == "true"
	readCatalog := os.Getenv("MESHIFY_READ_CATALOG") == "true"
	noReadCatalog := os.Getenv("MESHIFY_NO_READ_CATALOG") == "true"
	noInvokeDbt := os.Getenv("MESHIFY_NO_INVOKE_DBT") == "true"
	verbose := os.Getenv("MESHIFY_VERBOSE") == "true"
	outputFormat := os.Getenv("MESHIFY_OUTPUT")

	return &config.Config{
		ProjectPath:   projectPath,
		DryRun:        dryRun,
		ReadCatalog:   readCatalog,
		NoReadCatalog: noReadCatalog,
		NoInvokeDbt:   noInvokeDbt,
		Verbose:       verbose,
		OutputFormat:  outputFormat,
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// parseOwner builds a group owner from the --owner-name, --owner-email, and
// repeated --owner-properties key=value flags. dbt requires at least one
// owner field on every group.
func parseOwner(name, email string, properties []string) (dbt.Owner, error) {
	owner := dbt.Owner{Name: name, Email: email}

	for _, pair := range properties {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return dbt.Owner{}, fmt.Errorf("invalid owner property %q: expected key=value", pair)
		}
		if owner.Properties == nil {
			owner.Properties = make(map[string]any)
		}
		owner.Properties[key] = value
	}

	if owner.Name == "" && owner.Email == "" && len(owner.Properties) == 0 {
		return dbt.Owner{}, fmt.Errorf("groups require an owner; set --owner-name and/or --owner-email")
	}
	return owner, nil
}
