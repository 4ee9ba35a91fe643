package project

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/meshify/internal/dbt"
	"github.com/leapstack-labs/meshify/internal/storage"
)

// SubProject models the outcome of splitting a set of resources out of a
// parent project: the selected resources plus everything they drag along
// (custom macros, group definitions) and the cross-project edges the split
// creates.
type SubProject struct {
	Name      string
	Parent    *Project
	Resources map[string]struct{}
}

// NewSubProject builds a SubProject over an already validated selection.
func NewSubProject(name string, parent *Project, resources []string) *SubProject {
	set := make(map[string]struct{}, len(resources))
	for _, id := range resources {
		set[id] = struct{}{}
	}
	return &SubProject{Name: name, Parent: parent, Resources: set}
}

// Has reports whether a unique ID is part of the subproject selection.
func (s *SubProject) Has(uniqueID string) bool {
	_, ok := s.Resources[uniqueID]
	return ok
}

// ResourceIDs returns the selected unique IDs in sorted order.
func (s *SubProject) ResourceIDs() []string {
	return sortedSet(s.Resources)
}

// DefaultPath is the directory the subproject is created in when no
// explicit create path is given.
func (s *SubProject) DefaultPath() string {
	return filepath.Join(s.Parent.Path, s.Name)
}

// CustomMacros returns the parent-package macros the selection depends on,
// including macros those macros call in turn. Macros from installed
// packages ship with the package and are not copied.
func (s *SubProject) CustomMacros() []string {
	seen := make(map[string]struct{})

	var walk func(macroIDs []string)
	walk = func(macroIDs []string) {
		for _, id := range macroIDs {
			macro, ok := s.Parent.Manifest.Macros[id]
			if !ok || macro.PackageName != s.Parent.Name() {
				continue
			}
			if _, done := seen[id]; done {
				continue
			}
			seen[id] = struct{}{}
			walk(macro.DependsOn.Macros)
		}
	}

	for id := range s.Resources {
		if node, ok := s.Parent.Manifest.Nodes[id]; ok {
			walk(node.DependsOn.Macros)
		}
	}
	return sortedSet(seen)
}

// Groups returns the unique IDs of the group definitions the selected
// resources belong to.
func (s *SubProject) Groups() []string {
	groups := make(map[string]struct{})
	for id := range s.Resources {
		node, ok := s.Parent.Manifest.Nodes[id]
		if !ok {
			continue
		}
		group := node.Group
		if group == "" {
			group = node.Config.Group
		}
		if group == "" {
			continue
		}
		groups[fmt.Sprintf("group.%s.%s", s.Parent.Name(), group)] = struct{}{}
	}
	return sortedSet(groups)
}

// XProjParents returns the parent-project models the selection depends on:
// direct model parents of selected resources that stay behind in the parent.
func (s *SubProject) XProjParents() []string {
	return s.crossProjectModels(s.Parent.Graph.GetParents)
}

// XProjChildren returns the parent-project models that depend on the
// selection: direct model children of selected resources that stay behind.
func (s *SubProject) XProjChildren() []string {
	return s.crossProjectModels(s.Parent.Graph.GetChildren)
}

func (s *SubProject) crossProjectModels(neighbors func(id string) []string) []string {
	out := make(map[string]struct{})
	for id := range s.Resources {
		for _, neighbor := range neighbors(id) {
			if !strings.HasPrefix(neighbor, "model.") {
				continue
			}
			if _, selected := s.Resources[neighbor]; !selected {
				out[neighbor] = struct{}{}
			}
		}
	}
	return sortedSet(out)
}

// IsProjectCycle reports whether the split would make the two projects
// depend on each other: the selection both reads from and feeds models that
// stay in the parent.
func (s *SubProject) IsProjectCycle() bool {
	return len(s.XProjParents()) > 0 && len(s.XProjChildren()) > 0
}

// ProjectDocument builds the subproject's dbt_project.yml from the parent's:
// the project is renamed (including the per-project config blocks under
// models/seeds/snapshots), the version and query-comment entries are
// dropped, and empty top-level entries are filtered out.
func (s *SubProject) ProjectDocument() (*yaml.Node, error) {
	doc, err := storage.ParseYAML(s.Parent.File.Raw())
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", dbt.ProjectFileName, err)
	}

	storage.MapSet(doc, "name", storage.ScalarNode(s.Name))
	for _, section := range []string{"models", "seeds", "snapshots"} {
		renameKey(storage.MapValue(doc, section), s.Parent.Name(), s.Name)
	}
	storage.MapDelete(doc, "version")
	storage.MapDelete(doc, "query-comment")
	dropEmptyEntries(doc)
	return doc, nil
}

// renameKey renames a mapping key in place, keeping its position.
func renameKey(m *yaml.Node, from, to string) {
	if m == nil || m.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == from {
			m.Content[i].Value = to
		}
	}
}

// dropEmptyEntries removes top-level keys holding nothing: nulls, empty
// strings, empty mappings and empty sequences.
func dropEmptyEntries(doc *yaml.Node) {
	if doc == nil || doc.Kind != yaml.MappingNode {
		return
	}
	filtered := doc.Content[:0]
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key, value := doc.Content[i], doc.Content[i+1]
		if emptyNode(value) {
			continue
		}
		filtered = append(filtered, key, value)
	}
	doc.Content = filtered
}

func emptyNode(node *yaml.Node) bool {
	switch node.Kind {
	case yaml.MappingNode, yaml.SequenceNode:
		return len(node.Content) == 0
	case yaml.ScalarNode:
		return node.Tag == "!!null" || node.Value == ""
	}
	return false
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
