package mesh

import (
	"fmt"
	"sort"

	"github.com/leapstack-labs/meshify/internal/change"
	"github.com/leapstack-labs/meshify/internal/dbt"
	"github.com/leapstack-labs/meshify/internal/project"
)

// ProjectDependencyType describes how a dependency between two projects was
// defined.
type ProjectDependencyType string

const (
	// SourceDependency marks a dependency defined by source hacking: one
	// project declares a source over a relation another project materializes.
	SourceDependency ProjectDependencyType = "source"
	// PackageDependency marks a dependency defined by installing the
	// upstream project as a package and referencing its models.
	PackageDependency ProjectDependencyType = "package"
)

// ProjectDependency is a shared resource between two dbt projects.
type ProjectDependency struct {
	UpstreamResource      string
	UpstreamProjectName   string
	DownstreamResource    string
	DownstreamProjectName string
	Type                  ProjectDependencyType
}

// Linker detects dependencies between separate dbt projects and plans the
// changes that convert them into explicit cross-project references.
type Linker struct{}

// NewLinker returns a Linker.
func NewLinker() *Linker {
	return &Linker{}
}

// relationDependencies returns the relation names present in both maps,
// sorted for deterministic planning.
func relationDependencies(source, target map[string]string) []string {
	var shared []string
	for relation := range source {
		if _, ok := target[relation]; ok {
			shared = append(shared, relation)
		}
	}
	sort.Strings(shared)
	return shared
}

// sourceDependencies identifies source-hack dependencies between projects:
// one project defines a model, and the other defines a source over the
// relation that model materializes. Both directions are checked.
func (l *Linker) sourceDependencies(p, other *project.Project) []ProjectDependency {
	var dependencies []ProjectDependency

	models := p.Manifest.ModelRelationNames()
	sources := other.Manifest.SourceRelationNames()
	for _, relation := range relationDependencies(models, sources) {
		dependencies = append(dependencies, ProjectDependency{
			UpstreamResource:      models[relation],
			UpstreamProjectName:   p.Name(),
			DownstreamResource:    sources[relation],
			DownstreamProjectName: other.Name(),
			Type:                  SourceDependency,
		})
	}

	backwardModels := other.Manifest.ModelRelationNames()
	backwardSources := p.Manifest.SourceRelationNames()
	for _, relation := range relationDependencies(backwardModels, backwardSources) {
		dependencies = append(dependencies, ProjectDependency{
			UpstreamResource:      backwardModels[relation],
			UpstreamProjectName:   other.Name(),
			DownstreamResource:    backwardSources[relation],
			DownstreamProjectName: p.Name(),
			Type:                  SourceDependency,
		})
	}

	return dependencies
}

// packageDependencies identifies dependencies defined by importing the other
// project as a package and referencing its models.
func (l *Linker) packageDependencies(p, other *project.Project) []ProjectDependency {
	if _, ok := other.Manifest.InstalledPackages()[p.ProjectID()]; !ok {
		if _, ok := p.Manifest.InstalledPackages()[other.ProjectID()]; !ok {
			return nil
		}
	}

	relations := p.Manifest.ModelRelationNames()
	otherRelations := other.Manifest.ModelRelationNames()
	shared := relationDependencies(relations, otherRelations)

	var dependencies []ProjectDependency
	for _, relation := range shared {
		upstream := relations[relation]
		for _, child := range sortedCopy(other.Manifest.ChildMap[upstream]) {
			dependencies = append(dependencies, ProjectDependency{
				UpstreamResource:      upstream,
				UpstreamProjectName:   p.Name(),
				DownstreamResource:    child,
				DownstreamProjectName: other.Name(),
				Type:                  PackageDependency,
			})
		}
	}
	for _, relation := range shared {
		upstream := otherRelations[relation]
		for _, child := range sortedCopy(p.Manifest.ChildMap[upstream]) {
			dependencies = append(dependencies, ProjectDependency{
				UpstreamResource:      upstream,
				UpstreamProjectName:   other.Name(),
				DownstreamResource:    child,
				DownstreamProjectName: p.Name(),
				Type:                  PackageDependency,
			})
		}
	}

	return dependencies
}

// Dependencies detects every dependency between two projects.
func (l *Linker) Dependencies(p, other *project.Project) []ProjectDependency {
	seen := make(map[ProjectDependency]struct{})
	var all []ProjectDependency
	for _, dep := range append(l.sourceDependencies(p, other), l.packageDependencies(p, other)...) {
		if _, ok := seen[dep]; ok {
			continue
		}
		seen[dep] = struct{}{}
		all = append(all, dep)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].UpstreamResource != all[j].UpstreamResource {
			return all[i].UpstreamResource < all[j].UpstreamResource
		}
		if all[i].DownstreamResource != all[j].DownstreamResource {
			return all[i].DownstreamResource < all[j].DownstreamResource
		}
		return all[i].Type < all[j].Type
	})
	return all
}

// GenerateDeleteSourceProperties plans the removal of a source table from its
// properties file.
func (l *Linker) GenerateDeleteSourceProperties(p *project.Project, source *dbt.Source) *change.ResourceChange {
	return &change.ResourceChange{
		Operation:  change.Remove,
		EntityType: change.Source,
		Identifier: source.Name,
		Path:       p.ResolvePatchPath(source),
		SourceName: source.SourceName,
	}
}

// ResolveDependency plans the changes that turn a detected dependency into an
// explicit cross-project reference: the upstream model goes public and gains
// a contract, downstream code is rewritten to two-argument refs, source-hack
// source definitions are deleted, and the downstream project registers the
// upstream one in dependencies.yml. Rewrites chain on any change already
// planned in current for the same file.
func (l *Linker) ResolveDependency(dep ProjectDependency, upstream, downstream *project.Project, current *change.ChangeSet) (*change.ChangeSet, error) {
	upstreamEntry, ok := upstream.Resource(dep.UpstreamResource)
	if !ok {
		return nil, fmt.Errorf("could not find upstream resource %s in project %s", dep.UpstreamResource, upstream.Name())
	}
	downstreamEntry, ok := downstream.Resource(dep.DownstreamResource)
	if !ok {
		return nil, fmt.Errorf("could not find downstream resource %s in project %s", dep.DownstreamResource, downstream.Name())
	}

	changeSet := change.NewChangeSet()

	if model, ok := upstreamEntry.(*dbt.Node); ok && model.ResourceType == dbt.ResourceTypeModel {
		changeSet.Add(NewGrouper(upstream).GenerateAccess(model, AccessPublic))
		changeSet.Add(NewContractor(upstream).GenerateContract(model))
	}

	// Rewrites of one file planned across multiple dependencies must build
	// on each other, so each rewrite chains on current plus the changes
	// already planned here.
	combined := func() *change.ChangeSet {
		merged := change.NewChangeSet()
		merged.Extend(current)
		merged.Extend(changeSet)
		return merged
	}

	switch dep.Type {
	case SourceDependency:
		sourceEntry, ok := downstreamEntry.(*dbt.Source)
		if !ok {
			return nil, fmt.Errorf("the downstream resource %s in this source dependency is not a source", dep.DownstreamResource)
		}
		upstreamNode, ok := upstreamEntry.(*dbt.Node)
		if !ok {
			return nil, fmt.Errorf("the upstream resource %s in this source dependency is not a model", dep.UpstreamResource)
		}

		rewritten := false
		for _, child := range sortedCopy(downstream.Manifest.ChildMap[dep.DownstreamResource]) {
			childEntry, ok := downstream.Resource(child)
			if !ok {
				return nil, fmt.Errorf("could not find child resource %s in project %s", child, downstream.Name())
			}
			childNode, ok := childEntry.(*dbt.Node)
			if !ok || childNode.RawCode == "" {
				continue
			}
			changeSet.Add(GenerateSourceReplacement(
				upstream.Name(), upstreamNode, sourceEntry, childNode,
				downstream.ResolveFilePath(childNode), combined(),
			))
			rewritten = true
		}
		if rewritten {
			changeSet.Add(l.GenerateDeleteSourceProperties(downstream, sourceEntry))
		}

	case PackageDependency:
		downstreamNode, ok := downstreamEntry.(*dbt.Node)
		if !ok {
			return nil, fmt.Errorf("the downstream resource %s in this package dependency is not a node", dep.DownstreamResource)
		}
		upstreamNode, ok := upstreamEntry.(*dbt.Node)
		if !ok {
			return nil, fmt.Errorf("the upstream resource %s in this package dependency is not a node", dep.UpstreamResource)
		}
		changeSet.Add(GenerateReferenceUpdate(
			upstream.Name(), upstreamNode, downstreamNode,
			downstream.ResolveFilePath(downstreamNode), combined(),
		))
	}

	changeSet.Add(UpdateDependenciesYml(upstream.Name(), downstream.Path))

	return changeSet, nil
}

func sortedCopy(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	return out
}
