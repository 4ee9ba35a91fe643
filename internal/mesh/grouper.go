// Package mesh plans the file changes behind meshify's operations: grouping
// models, enforcing contracts, incrementing versions, splitting subprojects
// out of a parent, and connecting separate projects. Planners only read
// project state and return change sets; committing them is the storage
// layer's job.
package mesh

import (
	"fmt"
	"os"
	"strings"

	"github.com/leapstack-labs/meshify/internal/change"
	"github.com/leapstack-labs/meshify/internal/dag"
	"github.com/leapstack-labs/meshify/internal/dbt"
	"github.com/leapstack-labs/meshify/internal/project"
)

// AccessType mirrors dbt's model access levels.
type AccessType string

const (
	AccessPrivate   AccessType = "private"
	AccessProtected AccessType = "protected"
	AccessPublic    AccessType = "public"
)

// Grouper plans group membership and access changes for a project's models.
type Grouper struct {
	project *project.Project
}

// NewGrouper returns a Grouper for the given project.
func NewGrouper(p *project.Project) *Grouper {
	return &Grouper{project: p}
}

// ClassifyResourceAccess recommends an access level for every selected node:
// interface nodes (consumed outside the selection, or consuming nothing
// downstream) become protected, everything else private.
func ClassifyResourceAccess(graph *dag.Graph, selected []string) map[string]AccessType {
	selectedSet := make(map[string]struct{}, len(selected))
	for _, id := range selected {
		selectedSet[id] = struct{}{}
	}

	access := make(map[string]AccessType, len(selected))
	for _, id := range selected {
		access[id] = AccessPrivate
	}
	for _, id := range graph.IdentifyInterface(selectedSet) {
		access[id] = AccessProtected
	}
	return access
}

// AddGroup plans the changes for assigning selected models to a group: the
// group definition is upserted into the group properties file, and every
// selected model gains a group key plus its classified access level.
func (g *Grouper) AddGroup(name string, owner dbt.Owner, groupYmlPath, selectExpr, excludeExpr, selectorName string) (*change.ChangeSet, error) {
	return g.planGroup(nil, name, owner, groupYmlPath, selectExpr, excludeExpr, selectorName)
}

func (g *Grouper) planGroup(contractor *Contractor, name string, owner dbt.Owner, groupYmlPath, selectExpr, excludeExpr, selectorName string) (*change.ChangeSet, error) {
	selected, err := g.project.SelectResources(selectExpr, excludeExpr, selectorName)
	if err != nil {
		return nil, err
	}

	// Sources cannot carry a group; tests follow their models through the
	// cleaned classification graph.
	nodes := make([]string, 0, len(selected))
	for _, id := range selected {
		if strings.HasPrefix(id, "source.") {
			continue
		}
		nodes = append(nodes, id)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no resources selected for group %q", name)
	}

	access := ClassifyResourceAccess(g.project.GraphWithoutTests(), nodes)

	changeSet := change.NewChangeSet(&change.ResourceChange{
		Operation:  operationFor(groupYmlPath),
		EntityType: change.Group,
		Identifier: name,
		Path:       groupYmlPath,
		Data: change.Data{
			{Key: "name", Value: name},
			{Key: "owner", Value: owner.Map()},
		},
	})

	for _, id := range nodes {
		model, ok := g.project.Manifest.Nodes[id]
		if !ok || model.ResourceType != dbt.ResourceTypeModel {
			continue
		}
		changeSet.Add(g.assignGroup(model, name, access[id]))
		if contractor != nil && access[id] != AccessPrivate {
			changeSet.Add(contractor.GenerateContract(model))
		}
	}
	return changeSet, nil
}

// AddGroupAndContract plans AddGroup's changes plus a contract for every
// grouped model that stays visible outside the group.
func (g *Grouper) AddGroupAndContract(contractor *Contractor, name string, owner dbt.Owner, groupYmlPath, selectExpr, excludeExpr, selectorName string) (*change.ChangeSet, error) {
	return g.planGroup(contractor, name, owner, groupYmlPath, selectExpr, excludeExpr, selectorName)
}

func (g *Grouper) assignGroup(model *dbt.Node, group string, access AccessType) *change.ResourceChange {
	path := g.project.ResolvePatchPath(model)
	return &change.ResourceChange{
		Operation:  operationFor(path),
		EntityType: change.Model,
		Identifier: model.Name,
		Path:       path,
		Data: change.Data{
			{Key: "access", Value: string(access)},
			{Key: "group", Value: group},
		},
	}
}

// GenerateAccess plans a single model's access level update.
func (g *Grouper) GenerateAccess(model *dbt.Node, access AccessType) *change.ResourceChange {
	path := g.project.ResolvePatchPath(model)
	return AccessChange(model, access, path, operationFor(path))
}

// AccessChange builds an access change targeting an explicit properties
// file, for callers that relocate the model's YAML entry first.
func AccessChange(model *dbt.Node, access AccessType, path string, op change.Operation) *change.ResourceChange {
	return &change.ResourceChange{
		Operation:  op,
		EntityType: change.Model,
		Identifier: model.Name,
		Path:       path,
		Data:       change.Data{{Key: "access", Value: string(access)}},
	}
}

// operationFor picks Update when the properties file already exists on disk
// and Add when the change will create it.
func operationFor(path string) change.Operation {
	if _, err := os.Stat(path); err == nil {
		return change.Update
	}
	return change.Add
}
