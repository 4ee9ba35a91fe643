// Package selector implements dbt's node selection syntax over a parsed
// manifest and its dependency graph. It supports selection methods
// (tag:, path:, group:, access:, package:, source:, resource_type:, fqn:,
// config.*:), graph operators (+model, model+, 2+model, @model), unions by
// whitespace and intersections by comma, plus named selectors loaded from
// a project's selectors.yml.
package selector

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/leapstack-labs/meshify/internal/dag"
	"github.com/leapstack-labs/meshify/internal/dbt"
)

// Selector resolves selection expressions against a single project's
// manifest and graph.
type Selector struct {
	manifest *dbt.Manifest
	graph    *dag.Graph
}

// New creates a selector over the given manifest and dependency graph.
func New(manifest *dbt.Manifest, graph *dag.Graph) *Selector {
	return &Selector{manifest: manifest, graph: graph}
}

// Select resolves a selection expression and an exclusion expression into a
// sorted list of manifest unique IDs. An empty selection expression selects
// every selectable resource. Test nodes are selected indirectly when all of
// their parents are selected.
func (s *Selector) Select(selectExpr, excludeExpr string) ([]string, error) {
	selectable := s.selectableIDs()

	var selected map[string]struct{}
	if strings.TrimSpace(selectExpr) == "" {
		selected = make(map[string]struct{}, len(selectable))
		for id := range selectable {
			selected[id] = struct{}{}
		}
	} else {
		var err error
		selected, err = s.evalExpression(selectExpr)
		if err != nil {
			return nil, err
		}
	}

	excluded := make(map[string]struct{})
	if strings.TrimSpace(excludeExpr) != "" {
		var err error
		excluded, err = s.evalExpression(excludeExpr)
		if err != nil {
			return nil, err
		}
		for id := range excluded {
			delete(selected, id)
		}
	}

	s.selectIndirectTests(selected, excluded)

	out := make([]string, 0, len(selected))
	for id := range selected {
		if _, ok := selectable[id]; ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Selector) selectableIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, r := range s.manifest.SelectableResources() {
		ids[r.Base().UniqueID] = struct{}{}
	}
	return ids
}

// selectIndirectTests adds every test node whose parents are all selected.
// Tests that were explicitly excluded stay out.
func (s *Selector) selectIndirectTests(selected, excluded map[string]struct{}) {
	for id, node := range s.manifest.Nodes {
		if node.ResourceType != dbt.ResourceTypeTest {
			continue
		}
		if _, ok := selected[id]; ok {
			continue
		}
		if _, ok := excluded[id]; ok {
			continue
		}
		if len(node.DependsOn.Nodes) == 0 {
			continue
		}
		all := true
		for _, parent := range node.DependsOn.Nodes {
			if _, ok := selected[parent]; !ok {
				all = false
				break
			}
		}
		if all {
			selected[id] = struct{}{}
		}
	}
}

// evalExpression evaluates a full selection expression: whitespace-separated
// fields are unioned, comma-separated criteria within a field are
// intersected.
func (s *Selector) evalExpression(expr string) (map[string]struct{}, error) {
	result := make(map[string]struct{})
	for _, field := range strings.Fields(expr) {
		set, err := s.evalIntersection(field)
		if err != nil {
			return nil, err
		}
		for id := range set {
			result[id] = struct{}{}
		}
	}
	return result, nil
}

func (s *Selector) evalIntersection(field string) (map[string]struct{}, error) {
	var result map[string]struct{}
	for _, atom := range strings.Split(field, ",") {
		if atom == "" {
			return nil, fmt.Errorf("empty selection criterion in %q", field)
		}
		set, err := s.evalAtom(atom)
		if err != nil {
			return nil, err
		}
		if result == nil {
			result = set
			continue
		}
		for id := range result {
			if _, ok := set[id]; !ok {
				delete(result, id)
			}
		}
	}
	if result == nil {
		result = make(map[string]struct{})
	}
	return result, nil
}

var (
	parentsPrefix  = regexp.MustCompile(`^(\d*)\+`)
	childrenSuffix = regexp.MustCompile(`\+(\d*)$`)
)

// evalAtom evaluates a single selection criterion with its graph operators.
func (s *Selector) evalAtom(atom string) (map[string]struct{}, error) {
	core := atom

	childrensParents := strings.HasPrefix(core, "@")
	if childrensParents {
		core = core[1:]
	}

	parents := false
	parentsDepth := -1
	if m := parentsPrefix.FindStringSubmatch(core); m != nil {
		parents = true
		if m[1] != "" {
			parentsDepth, _ = strconv.Atoi(m[1])
		}
		core = core[len(m[0]):]
	}

	children := false
	childrenDepth := -1
	if m := childrenSuffix.FindStringSubmatch(core); m != nil {
		children = true
		if m[1] != "" {
			childrenDepth, _ = strconv.Atoi(m[1])
		}
		core = core[:len(core)-len(m[0])]
	}

	if core == "" {
		return nil, fmt.Errorf("invalid selection criterion %q", atom)
	}
	if childrensParents && (parents || children) {
		return nil, fmt.Errorf("cannot combine @ with + in %q", atom)
	}

	base, err := s.evalCriterion(core)
	if err != nil {
		return nil, err
	}

	selected := make(map[string]struct{}, len(base))
	for id := range base {
		selected[id] = struct{}{}
	}
	if parents {
		for id := range base {
			for _, up := range s.graph.GetUpstreamNodes(id, parentsDepth) {
				selected[up] = struct{}{}
			}
		}
	}
	if children {
		for id := range base {
			for _, down := range s.graph.GetDownstreamNodes(id, childrenDepth) {
				selected[down] = struct{}{}
			}
		}
	}
	if childrensParents {
		// @model selects the model, its descendants, and the ancestors of
		// all of those.
		descendants := make(map[string]struct{}, len(base))
		for id := range base {
			descendants[id] = struct{}{}
			for _, down := range s.graph.GetDownstreamNodes(id, -1) {
				descendants[down] = struct{}{}
			}
		}
		for id := range descendants {
			selected[id] = struct{}{}
			for _, up := range s.graph.GetUpstreamNodes(id, -1) {
				selected[up] = struct{}{}
			}
		}
	}
	return selected, nil
}

// evalCriterion matches a single method:value criterion (or a bare name
// glob) against every selectable resource.
func (s *Selector) evalCriterion(criterion string) (map[string]struct{}, error) {
	method, value := "", criterion
	if i := strings.Index(criterion, ":"); i >= 0 {
		method, value = criterion[:i], criterion[i+1:]
	}
	if err := validateMethod(method); err != nil {
		return nil, err
	}

	matched := make(map[string]struct{})
	for _, r := range s.manifest.SelectableResources() {
		if matchResource(r, method, value) {
			matched[r.Base().UniqueID] = struct{}{}
		}
	}
	return matched, nil
}

func validateMethod(method string) error {
	switch method {
	case "", "tag", "path", "group", "access", "package", "source", "resource_type", "fqn":
		return nil
	}
	if key, ok := strings.CutPrefix(method, "config."); ok {
		switch key {
		case "materialized", "group", "access":
			return nil
		}
		return fmt.Errorf("unsupported config selection key %q", key)
	}
	return fmt.Errorf("unsupported selection method %q", method)
}

func matchResource(r dbt.Resource, method, value string) bool {
	base := r.Base()
	switch method {
	case "":
		// Bare criteria match resource names. Sources are only reachable
		// through the source: method, matching dbt's behavior.
		if _, isSource := r.(*dbt.Source); isSource {
			return false
		}
		return matchGlob(value, base.Name) || value == base.UniqueID
	case "tag":
		for _, tag := range resourceTags(r) {
			if matchGlob(value, tag) {
				return true
			}
		}
		return false
	case "path":
		return matchPath(value, base.OriginalFilePath) || matchPath(value, base.Path)
	case "group":
		node, ok := r.(*dbt.Node)
		if !ok {
			return false
		}
		return matchGlob(value, nodeGroup(node))
	case "access":
		node, ok := r.(*dbt.Node)
		if !ok {
			return false
		}
		return matchGlob(value, nodeAccess(node))
	case "package":
		return matchGlob(value, base.PackageName)
	case "source":
		source, ok := r.(*dbt.Source)
		if !ok {
			return false
		}
		return matchGlob(value, source.SourceName) ||
			matchGlob(value, source.SourceName+"."+base.Name)
	case "resource_type":
		return matchGlob(value, string(base.ResourceType))
	case "fqn":
		fqn := resourceFQN(r)
		if len(fqn) == 0 {
			return false
		}
		return matchGlob(value, strings.Join(fqn, ".")) || matchGlob(value, base.Name)
	case "config.materialized":
		node, ok := r.(*dbt.Node)
		return ok && matchGlob(value, node.Config.Materialized)
	case "config.group":
		node, ok := r.(*dbt.Node)
		return ok && matchGlob(value, node.Config.Group)
	case "config.access":
		node, ok := r.(*dbt.Node)
		return ok && matchGlob(value, node.Config.Access)
	}
	return false
}

func nodeGroup(node *dbt.Node) string {
	if node.Group != "" {
		return node.Group
	}
	return node.Config.Group
}

func nodeAccess(node *dbt.Node) string {
	if node.Access != "" {
		return node.Access
	}
	return node.Config.Access
}

func resourceTags(r dbt.Resource) []string {
	switch v := r.(type) {
	case *dbt.Node:
		return append(append([]string{}, v.Tags...), v.Config.Tags...)
	case *dbt.Source:
		return v.Tags
	case *dbt.Exposure:
		return v.Tags
	case *dbt.Metric:
		return v.Tags
	}
	return nil
}

func resourceFQN(r dbt.Resource) []string {
	switch v := r.(type) {
	case *dbt.Node:
		return v.FQN
	case *dbt.Source:
		return v.FQN
	case *dbt.Exposure:
		return v.FQN
	case *dbt.Metric:
		return v.FQN
	case *dbt.SemanticModel:
		return v.FQN
	}
	return nil
}

// matchGlob matches value against a shell-style pattern. Patterns without
// glob characters compare literally.
func matchGlob(pattern, value string) bool {
	if !strings.ContainsAny(pattern, "*?[") {
		return pattern == value
	}
	ok, err := path.Match(pattern, value)
	return err == nil && ok
}

// matchPath matches a file path criterion: exact path, enclosing directory,
// or glob.
func matchPath(pattern, filePath string) bool {
	if filePath == "" {
		return false
	}
	filePath = filepath.ToSlash(filePath)
	pattern = filepath.ToSlash(strings.TrimSuffix(pattern, "/"))
	if pattern == filePath || strings.HasPrefix(filePath, pattern+"/") {
		return true
	}
	return matchGlob(pattern, filePath)
}
