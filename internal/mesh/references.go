package mesh

import (
	"fmt"
	"regexp"

	"github.com/leapstack-labs/meshify/internal/change"
	"github.com/leapstack-labs/meshify/internal/dbt"
)

// updateRefsSQL rewrites {{ ref('model') }} calls into two-argument
// cross-project refs. Both quote styles and optional whitespace match.
func updateRefsSQL(code, projectName, modelName string) string {
	pattern := regexp.MustCompile(`\{\{\s*ref\s*\(\s*['"]` + regexp.QuoteMeta(modelName) + `['"]\s*\)\s*\}\}`)
	replacement := fmt.Sprintf("{{ ref('%s', '%s') }}", projectName, modelName)
	return pattern.ReplaceAllString(code, replacement)
}

// updateRefsPython rewrites dbt.ref("model") calls in python models.
func updateRefsPython(code, projectName, modelName string) string {
	pattern := regexp.MustCompile(`dbt\.ref\s*\(\s*['"]` + regexp.QuoteMeta(modelName) + `['"]\s*\)`)
	replacement := fmt.Sprintf("dbt.ref('%s', '%s')", projectName, modelName)
	return pattern.ReplaceAllString(code, replacement)
}

// replaceSourceWithRefSQL rewrites {{ source('src', 'table') }} calls into a
// cross-project ref on the model that materializes the shared relation.
func replaceSourceWithRefSQL(code, sourceName, tableName, projectName, modelName string) string {
	pattern := regexp.MustCompile(`\{\{\s*source\s*\(\s*['"]` + regexp.QuoteMeta(sourceName) +
		`['"]\s*,\s*['"]` + regexp.QuoteMeta(tableName) + `['"]\s*\)\s*\}\}`)
	replacement := fmt.Sprintf("{{ ref('%s', '%s') }}", projectName, modelName)
	return pattern.ReplaceAllString(code, replacement)
}

// replaceSourceWithRefPython rewrites dbt.source("src", "table") calls.
func replaceSourceWithRefPython(code, sourceName, tableName, projectName, modelName string) string {
	pattern := regexp.MustCompile(`dbt\.source\s*\(\s*['"]` + regexp.QuoteMeta(sourceName) +
		`['"]\s*,\s*['"]` + regexp.QuoteMeta(tableName) + `['"]\s*\)`)
	replacement := fmt.Sprintf("dbt.ref('%s', '%s')", projectName, modelName)
	return pattern.ReplaceAllString(code, replacement)
}

// LatestFileChange returns the most recent planned file change targeting the
// given identifier and path, so later rewrites of the same file can build on
// earlier ones instead of discarding them.
func LatestFileChange(changeSet *change.ChangeSet, identifier, path string) *change.FileChange {
	if changeSet == nil {
		return nil
	}
	var latest *change.FileChange
	for _, c := range changeSet.Changes {
		fileChange, ok := c.(*change.FileChange)
		if !ok {
			continue
		}
		if fileChange.Identifier == identifier && fileChange.Path == path {
			latest = fileChange
		}
	}
	return latest
}

// GenerateReferenceUpdate plans a rewrite of the downstream node's
// references to the upstream model into two-argument refs. The rewrite
// chains on any change already planned for the same file.
func GenerateReferenceUpdate(projectName string, upstream, downstream *dbt.Node, path string, current *change.ChangeSet) *change.FileChange {
	code := downstream.RawCode
	if previous := LatestFileChange(current, downstream.Name, path); previous != nil && previous.Data != "" {
		code = previous.Data
	}

	var updated string
	if downstream.Language == "python" {
		updated = updateRefsPython(code, projectName, upstream.Name)
	} else {
		updated = updateRefsSQL(code, projectName, upstream.Name)
	}

	return &change.FileChange{
		Operation:  change.Update,
		EntityType: change.Code,
		Identifier: downstream.Name,
		Path:       path,
		Data:       updated,
	}
}

// GenerateSourceReplacement plans a rewrite of the downstream node's
// source() calls on a shared relation into a ref on the upstream model that
// materializes it.
func GenerateSourceReplacement(upstreamProject string, upstream *dbt.Node, source *dbt.Source, downstream *dbt.Node, path string, current *change.ChangeSet) *change.FileChange {
	code := downstream.RawCode
	if previous := LatestFileChange(current, downstream.Name, path); previous != nil && previous.Data != "" {
		code = previous.Data
	}

	var updated string
	if downstream.Language == "python" {
		updated = replaceSourceWithRefPython(code, source.SourceName, source.Name, upstreamProject, upstream.Name)
	} else {
		updated = replaceSourceWithRefSQL(code, source.SourceName, source.Name, upstreamProject, upstream.Name)
	}

	return &change.FileChange{
		Operation:  change.Update,
		EntityType: change.Code,
		Identifier: downstream.Name,
		Path:       path,
		Data:       updated,
	}
}
