package mesh

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/leapstack-labs/meshify/internal/change"
	"github.com/leapstack-labs/meshify/internal/dbt"
	"github.com/leapstack-labs/meshify/internal/project"
	"github.com/leapstack-labs/meshify/internal/storage"
)

// PackagesFileName is the file dbt reads package requirements from.
const PackagesFileName = "packages.yml"

// SubprojectCreator plans the changes that materialize a subproject as a
// standalone dbt project in a target directory: moving the selected files
// and properties entries, copying the macros and groups they drag along,
// contracting the models on both sides of the new project boundary, and
// rewriting refs across it.
type SubprojectCreator struct {
	sub    *project.SubProject
	target string
	logger *slog.Logger
}

// NewSubprojectCreator returns a creator writing to targetDirectory, which
// defaults to a directory named after the subproject inside the parent.
func NewSubprojectCreator(sub *project.SubProject, targetDirectory string, logger *slog.Logger) *SubprojectCreator {
	if targetDirectory == "" {
		targetDirectory = sub.DefaultPath()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SubprojectCreator{sub: sub, target: targetDirectory, logger: logger}
}

// boundaryModels returns the selected parent-package models that resources
// outside the selection read from. These models form the subproject's public
// interface and get contracts when the split is planned.
func (c *SubprojectCreator) boundaryModels() map[string]struct{} {
	parent := c.sub.Parent

	selected := make(map[string]struct{}, len(c.sub.Resources))
	for id := range c.sub.Resources {
		if strings.HasPrefix(id, "source.") {
			continue
		}
		selected[id] = struct{}{}
	}

	boundary := make(map[string]struct{})
	for _, id := range parent.GraphWithoutTests().IdentifyInterface(selected) {
		node, ok := parent.Manifest.Nodes[id]
		if !ok || node.ResourceType != dbt.ResourceTypeModel || node.PackageName != parent.Name() {
			continue
		}
		boundary[id] = struct{}{}
	}
	return boundary
}

// Initialize plans every change needed to stand the subproject up at the
// target directory.
func (c *SubprojectCreator) Initialize() (*change.ChangeSet, error) {
	parent := c.sub.Parent
	boundary := c.boundaryModels()
	contractor := NewContractor(parent)
	grouper := NewGrouper(parent)

	xparents := make(map[string]struct{})
	for _, id := range c.sub.XProjParents() {
		xparents[id] = struct{}{}
	}

	changeSet := change.NewChangeSet()
	docs := newDocBlockIndex(parent.Manifest)

	for _, id := range c.sub.ResourceIDs() {
		resource, ok := parent.Resource(id)
		if !ok {
			return nil, fmt.Errorf("resource %s not found in manifest", id)
		}

		switch resource.Base().ResourceType {
		case dbt.ResourceTypeModel, dbt.ResourceTypeTest, dbt.ResourceTypeSnapshot, dbt.ResourceTypeSeed:
			node := resource.(*dbt.Node)
			// Generic tests have no file of their own: their definition
			// rides along with the model's properties entry.
			if node.ResourceType == dbt.ResourceTypeTest && len(strings.Split(id, ".")) == 4 {
				continue
			}
			if err := c.planNodeMove(changeSet, node, boundary, xparents, contractor, docs); err != nil {
				return nil, err
			}
		default:
			if err := c.planEntryMove(changeSet, resource, docs); err != nil {
				return nil, err
			}
		}
	}

	if err := c.planMacroCopies(changeSet); err != nil {
		return nil, err
	}
	if err := c.planGroupCopies(changeSet, docs); err != nil {
		return nil, err
	}

	// Models staying behind that the subproject reads from become part of
	// the parent's public interface.
	for _, id := range c.sub.XProjParents() {
		node, ok := parent.Manifest.Nodes[id]
		if !ok {
			return nil, fmt.Errorf("resource %s not found in manifest", id)
		}
		c.logger.Info("Adding contract to and publicizing boundary node", "resource", id)
		changeSet.Add(contractor.GenerateContract(node))
		changeSet.Add(grouper.GenerateAccess(node, AccessPublic))
	}

	c.planDocsBlockCopies(changeSet, docs)

	if err := c.planProjectFile(changeSet); err != nil {
		return nil, err
	}

	packagesPath := filepath.Join(parent.Path, PackagesFileName)
	if _, err := os.Stat(packagesPath); err == nil {
		changeSet.Add(&change.FileChange{
			Operation:  change.Copy,
			EntityType: change.Project,
			Identifier: c.sub.Name,
			Path:       filepath.Join(c.target, PackagesFileName),
			Source:     packagesPath,
		})
	}

	if len(c.sub.XProjParents()) > 0 {
		changeSet.Add(UpdateDependenciesYml(parent.Name(), c.target))
	}
	if len(c.sub.XProjChildren()) > 0 {
		changeSet.Add(UpdateDependenciesYml(c.sub.Name, parent.Path))
	}

	return changeSet, nil
}

// planNodeMove plans the relocation of a node and its properties entry into
// the subproject, rewriting refs across the new boundary as needed.
func (c *SubprojectCreator) planNodeMove(cs *change.ChangeSet, node *dbt.Node, boundary, xparents map[string]struct{}, contractor *Contractor, docs *docBlockIndex) error {
	parent := c.sub.Parent

	// Refs to models staying behind are rewritten before the file moves so
	// the move relocates the rewritten code.
	if err := c.planParentRefUpdates(cs, node, xparents); err != nil {
		return err
	}

	cs.Add(&change.FileChange{
		Operation:  change.Move,
		EntityType: change.EntityType(node.ResourceType),
		Identifier: node.Name,
		Path:       filepath.Join(c.target, node.OriginalFilePath),
		Source:     parent.ResolveFilePath(node),
	})

	if err := c.planEntryMove(cs, node, docs); err != nil {
		return err
	}

	if _, ok := boundary[node.UniqueID]; !ok {
		return nil
	}

	// Boundary contracts merge into the properties entry at its new home,
	// after the planned move has put it there.
	rel, err := filepath.Rel(parent.Path, parent.ResolvePatchPath(node))
	if err != nil {
		return err
	}
	newYmlPath := filepath.Join(c.target, rel)

	c.logger.Info("Adding contract to and publicizing boundary node", "resource", node.UniqueID)
	cs.Add(contractor.ContractChange(node, newYmlPath, change.Add))
	cs.Add(AccessChange(node, AccessPublic, newYmlPath, change.Add))

	return c.planChildRefUpdates(cs, node)
}

// planParentRefUpdates rewrites the node's refs to models staying in the
// parent project into two-argument refs.
func (c *SubprojectCreator) planParentRefUpdates(cs *change.ChangeSet, node *dbt.Node, xparents map[string]struct{}) error {
	parent := c.sub.Parent
	path := parent.ResolveFilePath(node)

	for _, parentID := range node.DependsOn.Nodes {
		if _, ok := xparents[parentID]; !ok {
			continue
		}
		parentNode, ok := parent.Manifest.Nodes[parentID]
		if !ok {
			return fmt.Errorf("resource %s not found in manifest", parentID)
		}
		cs.Add(GenerateReferenceUpdate(parent.Name(), parentNode, node, path, cs))
	}
	return nil
}

// planChildRefUpdates rewrites refs to a boundary model in every model that
// stays behind and depends on it.
func (c *SubprojectCreator) planChildRefUpdates(cs *change.ChangeSet, node *dbt.Node) error {
	parent := c.sub.Parent

	for _, childID := range c.sub.XProjChildren() {
		child, ok := parent.Manifest.Nodes[childID]
		if !ok {
			return fmt.Errorf("resource %s not found in manifest", childID)
		}
		if !dependsOn(child, node.UniqueID) {
			continue
		}
		cs.Add(GenerateReferenceUpdate(c.sub.Name, node, child, parent.ResolveFilePath(child), cs))
	}
	return nil
}

// planEntryMove moves a resource's properties entry from the parent file to
// the same relative path under the target directory. Resources without a
// properties entry have nothing to move.
func (c *SubprojectCreator) planEntryMove(cs *change.ChangeSet, resource dbt.Resource, docs *docBlockIndex) error {
	parent := c.sub.Parent
	base := resource.Base()

	currentPath := parent.ResolvePatchPath(resource)
	if _, err := os.Stat(currentPath); err != nil {
		c.logger.Debug("no properties file to move", "resource", base.UniqueID, "path", currentPath)
		return nil
	}
	doc, err := storage.LoadYAML(currentPath)
	if err != nil {
		return err
	}

	sourceName := ""
	if source, ok := resource.(*dbt.Source); ok {
		sourceName = source.SourceName
	}

	entity := change.EntityType(base.ResourceType)
	data, err := storage.ExtractResourceEntry(doc, entity, base.Name, sourceName)
	if err != nil {
		c.logger.Debug("no properties entry to move", "resource", base.UniqueID, "path", currentPath)
		return nil
	}
	docs.collectData(data, base.PackageName)

	rel, err := filepath.Rel(parent.Path, currentPath)
	if err != nil {
		return err
	}

	cs.Add(&change.ResourceChange{
		Operation:  change.Add,
		EntityType: entity,
		Identifier: base.Name,
		Path:       filepath.Join(c.target, rel),
		Data:       data,
		SourceName: sourceName,
	})
	cs.Add(&change.ResourceChange{
		Operation:  change.Remove,
		EntityType: entity,
		Identifier: base.Name,
		Path:       currentPath,
		SourceName: sourceName,
	})
	return nil
}

// planMacroCopies copies the files defining the parent-package macros the
// selection depends on. Macros stay available to the parent project too.
func (c *SubprojectCreator) planMacroCopies(cs *change.ChangeSet) error {
	parent := c.sub.Parent

	copied := make(map[string]struct{})
	for _, id := range c.sub.CustomMacros() {
		macro, ok := parent.Manifest.Macros[id]
		if !ok {
			return fmt.Errorf("resource %s not found in manifest", id)
		}
		if _, done := copied[macro.OriginalFilePath]; done {
			continue
		}
		copied[macro.OriginalFilePath] = struct{}{}

		cs.Add(&change.FileChange{
			Operation:  change.Copy,
			EntityType: change.Macro,
			Identifier: macro.Name,
			Path:       filepath.Join(c.target, macro.OriginalFilePath),
			Source:     filepath.Join(parent.Path, macro.OriginalFilePath),
		})
	}
	return nil
}

// planGroupCopies copies the group definitions the selected resources belong
// to. The parent keeps its copy: models staying behind may share the group.
func (c *SubprojectCreator) planGroupCopies(cs *change.ChangeSet, docs *docBlockIndex) error {
	parent := c.sub.Parent

	for _, id := range c.sub.Groups() {
		group, ok := parent.Manifest.Groups[id]
		if !ok {
			return fmt.Errorf("resource %s not found in manifest", id)
		}

		currentPath := parent.ResolvePatchPath(group)
		if _, err := os.Stat(currentPath); err != nil {
			c.logger.Debug("no properties file to copy", "resource", id, "path", currentPath)
			continue
		}
		doc, err := storage.LoadYAML(currentPath)
		if err != nil {
			return err
		}
		data, err := storage.ExtractResourceEntry(doc, change.Group, group.Name, "")
		if err != nil {
			c.logger.Debug("no properties entry to copy", "resource", id, "path", currentPath)
			continue
		}
		docs.collectData(data, group.PackageName)

		rel, err := filepath.Rel(parent.Path, currentPath)
		if err != nil {
			return err
		}
		cs.Add(&change.ResourceChange{
			Operation:  change.Add,
			EntityType: change.Group,
			Identifier: group.Name,
			Path:       filepath.Join(c.target, rel),
			Data:       data,
		})
	}
	return nil
}

// planDocsBlockCopies writes the docs blocks that moved descriptions
// reference into markdown files at the same relative paths.
func (c *SubprojectCreator) planDocsBlockCopies(cs *change.ChangeSet, docs *docBlockIndex) {
	parent := c.sub.Parent

	for _, mdPath := range docs.files() {
		var texts []string
		for _, name := range docs.blockNames(mdPath) {
			block, err := storage.JinjaBlockFromFile(filepath.Join(parent.Path, mdPath), "docs", name)
			if err != nil {
				c.logger.Debug("docs block not found", "block", name, "path", mdPath)
				continue
			}
			texts = append(texts, block.BlockText())
		}
		if len(texts) == 0 {
			continue
		}

		identifier := strings.TrimSuffix(filepath.Base(mdPath), filepath.Ext(mdPath))
		cs.Add(&change.FileChange{
			Operation:  change.Add,
			EntityType: change.Documentation,
			Identifier: identifier,
			Path:       filepath.Join(c.target, mdPath),
			Data:       strings.Join(texts, "\n\n") + "\n",
		})
	}
}

// planProjectFile plans the subproject's dbt_project.yml, derived from the
// parent's with the project renamed.
func (c *SubprojectCreator) planProjectFile(cs *change.ChangeSet) error {
	doc, err := c.sub.ProjectDocument()
	if err != nil {
		return err
	}
	raw, err := storage.MarshalYAML(doc)
	if err != nil {
		return err
	}

	cs.Add(&change.FileChange{
		Operation:  change.Add,
		EntityType: change.Project,
		Identifier: c.sub.Name,
		Path:       filepath.Join(c.target, dbt.ProjectFileName),
		Data:       string(raw),
	})
	return nil
}

func dependsOn(node *dbt.Node, uniqueID string) bool {
	for _, id := range node.DependsOn.Nodes {
		if id == uniqueID {
			return true
		}
	}
	return false
}

// docRefPattern matches doc() calls in descriptions, with an optional
// package argument.
var docRefPattern = regexp.MustCompile(`\{\{\s*doc\s*\(\s*['"]([^'"]+)['"](?:\s*,\s*['"]([^'"]+)['"])?\s*\)\s*\}\}`)

// docBlockIndex accumulates the docs blocks referenced by moved properties
// entries, grouped by the markdown file that defines them.
type docBlockIndex struct {
	manifest *dbt.Manifest
	blocks   map[string]map[string]struct{}
}

func newDocBlockIndex(manifest *dbt.Manifest) *docBlockIndex {
	return &docBlockIndex{manifest: manifest, blocks: make(map[string]map[string]struct{})}
}

// collectData walks a payload and records every doc() reference found in a
// description value. One-argument calls resolve within defaultPackage.
func (d *docBlockIndex) collectData(data change.Data, defaultPackage string) {
	for _, entry := range data {
		d.collectValue(entry.Key, entry.Value, defaultPackage)
	}
}

func (d *docBlockIndex) collectValue(key string, value any, defaultPackage string) {
	switch typed := value.(type) {
	case string:
		if key != "description" {
			return
		}
		for _, match := range docRefPattern.FindAllStringSubmatch(typed, -1) {
			name, pkg := match[1], defaultPackage
			if match[2] != "" {
				pkg, name = match[1], match[2]
			}
			d.record(name, pkg)
		}
	case change.Data:
		d.collectData(typed, defaultPackage)
	case []any:
		for _, elem := range typed {
			d.collectValue(key, elem, defaultPackage)
		}
	}
}

// record resolves a doc reference against the manifest and remembers the
// file defining it. Unknown references are dropped.
func (d *docBlockIndex) record(name, pkg string) {
	for _, doc := range d.manifest.Docs {
		if doc.Name != name || doc.PackageName != pkg {
			continue
		}
		if d.blocks[doc.OriginalFilePath] == nil {
			d.blocks[doc.OriginalFilePath] = make(map[string]struct{})
		}
		d.blocks[doc.OriginalFilePath][name] = struct{}{}
		return
	}
}

// files returns the markdown files holding referenced blocks, sorted.
func (d *docBlockIndex) files() []string {
	out := make([]string, 0, len(d.blocks))
	for path := range d.blocks {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// blockNames returns the referenced block names within one file, sorted.
func (d *docBlockIndex) blockNames(path string) []string {
	out := make([]string, 0, len(d.blocks[path]))
	for name := range d.blocks[path] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
