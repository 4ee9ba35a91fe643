package mesh

import (
	"path/filepath"

	"github.com/leapstack-labs/meshify/internal/change"
)

// DependenciesFileName is the file dbt reads cross-project dependencies from.
const DependenciesFileName = "dependencies.yml"

// UpdateDependenciesYml plans the dependencies.yml entry that registers the
// upstream project as a dependency of the downstream one. The entry is keyed
// by name, so planning the same pair twice collapses into a single row.
func UpdateDependenciesYml(upstreamName, downstreamPath string) *change.ResourceChange {
	return &change.ResourceChange{
		Operation:  change.Add,
		EntityType: change.Project,
		Identifier: upstreamName,
		Path:       filepath.Join(downstreamPath, DependenciesFileName),
		Data: change.Data{
			{Key: "name", Value: upstreamName},
		},
	}
}
