// Package project loads dbt projects from disk and models the subprojects
// produced by splitting them.
package project

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/meshify/internal/dag"
	"github.com/leapstack-labs/meshify/internal/dbt"
	"github.com/leapstack-labs/meshify/internal/selector"
)

// LoadOptions controls how a project directory is turned into a Project.
type LoadOptions struct {
	// ReadCatalog requires target/catalog.json to exist and reads it as-is.
	// SkipCatalog skips the catalog entirely. When neither is set the
	// catalog is read when present and skipped otherwise.
	ReadCatalog bool
	SkipCatalog bool

	// NoInvokeDbt disables shelling out to the dbt binary. Loading fails
	// when the manifest is missing.
	NoInvokeDbt bool

	// Runner invokes dbt. A default runner is built when nil.
	Runner *dbt.Runner

	Logger *slog.Logger
}

// Project is a dbt project loaded from disk: its dbt_project.yml, parsed
// artifacts, and the dependency graph over the manifest's child map.
type Project struct {
	Path     string
	File     *dbt.ProjectFile
	Manifest *dbt.Manifest
	Catalog  *dbt.Catalog
	Graph    *dag.Graph

	logger *slog.Logger
}

// Load reads the dbt project in dir, refreshing its manifest with dbt parse
// unless the options forbid invoking dbt.
func Load(ctx context.Context, dir string, opts LoadOptions) (*Project, error) {
	dir = filepath.Clean(dir)

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if _, err := os.Stat(filepath.Join(dir, dbt.ProjectFileName)); err != nil {
		return nil, fmt.Errorf("the provided directory (%s) does not contain a dbt project", dir)
	}
	file, err := dbt.LoadProjectFile(dir)
	if err != nil {
		return nil, err
	}

	manifestPath := filepath.Join(dir, file.TargetPath, "manifest.json")
	if err := refreshManifest(ctx, dir, manifestPath, opts, logger); err != nil {
		return nil, err
	}

	manifest, err := dbt.LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	catalog, err := loadCatalog(filepath.Join(dir, file.TargetPath, "catalog.json"), opts, logger)
	if err != nil {
		return nil, err
	}

	return &Project{
		Path:     dir,
		File:     file,
		Manifest: manifest,
		Catalog:  catalog,
		Graph:    dag.FromChildMap(manifest.ChildMap),
		logger:   logger,
	}, nil
}

// refreshManifest runs dbt parse when invoking dbt is allowed. A missing dbt
// binary is tolerated as long as a manifest already exists on disk.
func refreshManifest(ctx context.Context, dir, manifestPath string, opts LoadOptions, logger *slog.Logger) error {
	_, statErr := os.Stat(manifestPath)

	if opts.NoInvokeDbt {
		if statErr != nil {
			return fmt.Errorf("%s is missing and invoking dbt is disabled", manifestPath)
		}
		return nil
	}

	runner := opts.Runner
	if runner == nil {
		runner = dbt.NewRunner(logger)
	}
	if !runner.Available() {
		if statErr != nil {
			return fmt.Errorf("dbt executable %q not found and %s is missing", runner.Executable, manifestPath)
		}
		logger.Warn("dbt executable not found, using existing artifacts", "path", manifestPath)
		return nil
	}
	return runner.Parse(ctx, dir)
}

func loadCatalog(catalogPath string, opts LoadOptions, logger *slog.Logger) (*dbt.Catalog, error) {
	if opts.SkipCatalog {
		return nil, nil
	}
	if _, err := os.Stat(catalogPath); err != nil {
		if opts.ReadCatalog {
			return nil, fmt.Errorf("reading catalog: %w", err)
		}
		logger.Debug("no catalog found, contracts will not carry column definitions", "path", catalogPath)
		return nil, nil
	}
	logger.Info(fmt.Sprintf("Reading catalog from %s", catalogPath))
	return dbt.LoadCatalog(catalogPath)
}

// Name returns the project name from dbt_project.yml.
func (p *Project) Name() string {
	return p.File.Name
}

// ProjectID returns dbt's identifier for this project.
func (p *Project) ProjectID() string {
	if p.Manifest.Metadata.ProjectID != "" {
		return p.Manifest.Metadata.ProjectID
	}
	return dbt.ProjectID(p.Name())
}

// Models returns the project's model nodes keyed by unique ID.
func (p *Project) Models() map[string]*dbt.Node {
	return p.Manifest.Models()
}

// Sources returns the project's source tables keyed by unique ID.
func (p *Project) Sources() map[string]*dbt.Source {
	return p.Manifest.Sources
}

// Resource returns the manifest entry with the given unique ID.
func (p *Project) Resource(uniqueID string) (dbt.Resource, bool) {
	return p.Manifest.Resource(uniqueID)
}

// CatalogEntry returns the catalog entry for a unique ID, when a catalog was
// loaded and the relation was cataloged.
func (p *Project) CatalogEntry(uniqueID string) (*dbt.CatalogTable, bool) {
	return p.Catalog.Entry(uniqueID)
}

// GraphWithoutTests returns the project graph with test nodes removed.
// Boundary classification runs on this view so tests never count as
// downstream consumers.
func (p *Project) GraphWithoutTests() *dag.Graph {
	return p.Graph.Filter(func(id string) bool {
		switch dbt.TypeFromID(id) {
		case dbt.ResourceTypeTest, dbt.ResourceTypeUnitTest:
			return false
		}
		return true
	})
}

// SelectResources resolves selection flags into manifest unique IDs. A named
// selector is compiled from the project's selectors.yml and cannot be
// combined with an inline --select expression.
func (p *Project) SelectResources(selectExpr, excludeExpr, selectorName string) ([]string, error) {
	if selectorName != "" {
		if selectExpr != "" {
			return nil, fmt.Errorf("cannot combine --select and --selector")
		}
		compiled, err := selector.NamedSelection(p.Path, selectorName)
		if err != nil {
			return nil, err
		}
		selectExpr = compiled
	}
	return selector.New(p.Manifest, p.Graph).Select(selectExpr, excludeExpr)
}

// Split carves the selected resources out into a SubProject model. The
// parent project is not modified; committing the split is the mesh layer's
// job.
func (p *Project) Split(name, selectExpr, excludeExpr, selectorName string) (*SubProject, error) {
	subName, err := NormalizeProjectName(name)
	if err != nil {
		return nil, err
	}

	selected, err := p.SelectResources(selectExpr, excludeExpr, selectorName)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no resources selected for subproject %q", subName)
	}

	if err := p.checkSplitSelection(selected); err != nil {
		return nil, err
	}
	return NewSubProject(subName, p, selected), nil
}

// checkSplitSelection rejects selections that cannot form a subproject: a
// selection using every model would leave the parent empty, and resources
// from installed packages cannot be moved out of the package that owns them.
func (p *Project) checkSplitSelection(selected []string) error {
	selectedSet := make(map[string]struct{}, len(selected))
	for _, id := range selected {
		selectedSet[id] = struct{}{}
	}

	remaining := 0
	for id, node := range p.Models() {
		if node.PackageName != p.Name() {
			continue
		}
		if _, ok := selectedSet[id]; !ok {
			remaining++
		}
	}
	if remaining == 0 {
		return fmt.Errorf("cannot split out all of the models in %s, at least one model must remain in the parent project", p.Name())
	}

	for _, id := range selected {
		resource, ok := p.Resource(id)
		if !ok {
			continue
		}
		base := resource.Base()
		if base.ResourceType == dbt.ResourceTypeModel && base.PackageName != p.Name() {
			return fmt.Errorf("cannot split %s out of %s, it belongs to the installed package %q",
				base.Name, p.Name(), base.PackageName)
		}
	}
	return nil
}

// NormalizeProjectName converts a requested subproject name into a valid dbt
// project identifier: letters, digits and underscores, not starting with a
// digit.
func NormalizeProjectName(name string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	normalized := b.String()
	if strings.Trim(normalized, "_") == "" {
		return "", fmt.Errorf("invalid project name %q", name)
	}
	if normalized[0] >= '0' && normalized[0] <= '9' {
		normalized = "_" + normalized
	}
	return normalized, nil
}

// ResolvePatchPath returns the YAML properties file a resource is (or should
// be) documented in. Nodes without a patch entry default to a _models.yml
// alongside their defining file.
func (p *Project) ResolvePatchPath(resource dbt.Resource) string {
	switch typed := resource.(type) {
	case *dbt.Source:
		return filepath.Join(p.Path, typed.Path)
	case *dbt.Node:
		if typed.PatchPath != "" {
			// Patch paths are recorded as "project://relative/path.yml".
			_, rel, found := strings.Cut(typed.PatchPath, "://")
			if !found {
				rel = typed.PatchPath
			}
			return filepath.Join(p.Path, rel)
		}
		return filepath.Join(p.Path, filepath.Dir(typed.OriginalFilePath), "_models.yml")
	default:
		return filepath.Join(p.Path, resource.Base().OriginalFilePath)
	}
}

// ResolveFilePath returns the file a resource is defined in: the code file
// for nodes, the properties file for everything else.
func (p *Project) ResolveFilePath(resource dbt.Resource) string {
	if _, ok := resource.(*dbt.Node); ok {
		return filepath.Join(p.Path, resource.Base().OriginalFilePath)
	}
	return p.ResolvePatchPath(resource)
}
