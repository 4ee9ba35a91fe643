package mesh

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/meshify/internal/change"
	"github.com/leapstack-labs/meshify/internal/dbt"
	"github.com/leapstack-labs/meshify/internal/project"
	"github.com/leapstack-labs/meshify/internal/storage"
)

// ErrNonIntegerVersion is returned when a model's versions hold values that
// cannot be incremented.
var ErrNonIntegerVersion = errors.New("version is not an integer, cannot increment")

// ModelVersioner plans version increments on models.
type ModelVersioner struct {
	project *project.Project
}

// NewModelVersioner returns a ModelVersioner for the given project.
func NewModelVersioner(p *project.Project) *ModelVersioner {
	return &ModelVersioner{project: p}
}

// GenerateVersion plans the next version of a model: the YAML entry gains a
// versions element and a bumped latest_version (held back for prereleases),
// and the model's code file is renamed or copied into _v{N} form.
func (v *ModelVersioner) GenerateVersion(model *dbt.Node, prerelease bool, definedIn string) (*change.ChangeSet, error) {
	path := v.project.ResolvePatchPath(model)

	modelYml, err := v.loadModelYml(path, model.Name)
	if err != nil {
		return nil, err
	}

	versions, err := modelVersions(modelYml)
	if err != nil {
		return nil, err
	}
	currentVersion, err := yamlLatestVersion(modelYml)
	if err != nil {
		return nil, err
	}
	latestVersion, err := maxVersion(versions)
	if err != nil {
		return nil, err
	}

	newLatestVersion := latestVersion + 1
	newCurrentVersion := currentVersion
	if !prerelease {
		newCurrentVersion++
	}

	newVersion := change.Data{{Key: "v", Value: newLatestVersion}}
	if definedIn != "" {
		newVersion.Set("defined_in", definedIn)
	}
	versionsPayload := make([]any, 0, len(versions)+1)
	for _, version := range versions {
		versionsPayload = append(versionsPayload, version)
	}
	versionsPayload = append(versionsPayload, newVersion)

	changeSet := change.NewChangeSet(&change.ResourceChange{
		Operation:  operationFor(path),
		EntityType: change.Model,
		Identifier: model.Name,
		Path:       path,
		Data: change.Data{
			{Key: "latest_version", Value: newCurrentVersion},
			{Key: "versions", Value: versionsPayload},
		},
	})

	modelPath := v.project.ResolveFilePath(model)
	ext := model.FileExtension()
	dir := filepath.Dir(modelPath)

	nextVersionFile := filepath.Join(dir, fmt.Sprintf("%s_v%d.%s", model.Name, newLatestVersion, ext))
	if definedIn != "" {
		nextVersionFile = filepath.Join(dir, fmt.Sprintf("%s.%s", definedIn, ext))
	}

	if !model.LatestVersion.IsSet() {
		// First version: the existing file becomes the versioned one.
		changeSet.Add(&change.FileChange{
			Operation:  change.Move,
			EntityType: change.Code,
			Identifier: model.Name,
			Path:       nextVersionFile,
			Source:     modelPath,
		})
		return changeSet, nil
	}

	changeSet.Add(&change.FileChange{
		Operation:  change.Copy,
		EntityType: change.Code,
		Identifier: model.Name,
		Path:       nextVersionFile,
		Source:     modelPath,
	})

	stem := strings.TrimSuffix(filepath.Base(modelPath), filepath.Ext(modelPath))
	if !strings.HasSuffix(stem, fmt.Sprintf("_v%d", latestVersion)) {
		currentVersionFile := filepath.Join(dir, fmt.Sprintf("%s_v%d.%s", model.Name, currentVersion, ext))
		changeSet.Add(&change.FileChange{
			Operation:  change.Move,
			EntityType: change.Code,
			Identifier: model.Name,
			Path:       currentVersionFile,
			Source:     modelPath,
		})
	}
	return changeSet, nil
}

// loadModelYml reads the model's current entry from its properties file.
// A missing file yields an empty entry.
func (v *ModelVersioner) loadModelYml(path, name string) (change.Data, error) {
	if _, err := os.Stat(path); err != nil {
		return change.Data{}, nil
	}
	doc, err := storage.LoadYAML(path)
	if err != nil {
		return nil, err
	}
	entry := storage.FindNamed(storage.MapValue(doc, "models"), name)
	if entry == nil {
		return change.Data{}, nil
	}
	return storage.DataFromNode(entry)
}

// modelVersions returns the entry's existing versions list.
func modelVersions(modelYml change.Data) ([]change.Data, error) {
	raw, ok := modelYml.Get("versions")
	if !ok {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected versions value %v", raw)
	}
	versions := make([]change.Data, 0, len(items))
	for _, item := range items {
		version, ok := item.(change.Data)
		if !ok {
			return nil, fmt.Errorf("unexpected versions element %v", item)
		}
		versions = append(versions, version)
	}
	return versions, nil
}

// yamlLatestVersion returns the entry's declared latest_version, defaulting
// to zero for unversioned models.
func yamlLatestVersion(modelYml change.Data) (int, error) {
	raw, ok := modelYml.Get("latest_version")
	if !ok {
		return 0, nil
	}
	value, ok := raw.(int)
	if !ok {
		return 0, ErrNonIntegerVersion
	}
	return value, nil
}

// maxVersion finds the highest integer version in the list.
func maxVersion(versions []change.Data) (int, error) {
	highest := 0
	for _, version := range versions {
		raw, _ := version.Get("v")
		value, ok := raw.(int)
		if !ok {
			return 0, ErrNonIntegerVersion
		}
		if value > highest {
			highest = value
		}
	}
	return highest, nil
}
