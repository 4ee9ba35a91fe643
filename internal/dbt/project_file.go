package dbt

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ProjectFileName is the file that marks a directory as a dbt project.
const ProjectFileName = "dbt_project.yml"

// ProjectFile is a parsed dbt_project.yml. The typed fields cover what
// meshify inspects; the full document is retained so subproject creation
// can round-trip settings it does not model.
type ProjectFile struct {
	Name          string   `yaml:"name"`
	Profile       string   `yaml:"profile"`
	ModelPaths    []string `yaml:"model-paths"`
	SeedPaths     []string `yaml:"seed-paths"`
	SnapshotPaths []string `yaml:"snapshot-paths"`
	AnalysisPaths []string `yaml:"analysis-paths"`
	MacroPaths    []string `yaml:"macro-paths"`
	TestPaths     []string `yaml:"test-paths"`
	TargetPath    string   `yaml:"target-path"`

	source []byte
}

// LoadProjectFile parses the dbt_project.yml inside a project directory.
func LoadProjectFile(dir string) (*ProjectFile, error) {
	path := filepath.Join(dir, ProjectFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseProjectFile(data)
}

// ParseProjectFile parses dbt_project.yml contents.
func ParseProjectFile(data []byte) (*ProjectFile, error) {
	project := ProjectFile{source: data}
	if err := yaml.Unmarshal(data, &project); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", ProjectFileName, err)
	}
	if project.Name == "" {
		return nil, fmt.Errorf("%s has no project name", ProjectFileName)
	}
	applyPathDefaults(&project)
	return &project, nil
}

// applyPathDefaults fills in dbt's documented defaults for unset path lists.
func applyPathDefaults(p *ProjectFile) {
	if len(p.ModelPaths) == 0 {
		p.ModelPaths = []string{"models"}
	}
	if len(p.SeedPaths) == 0 {
		p.SeedPaths = []string{"seeds"}
	}
	if len(p.SnapshotPaths) == 0 {
		p.SnapshotPaths = []string{"snapshots"}
	}
	if len(p.AnalysisPaths) == 0 {
		p.AnalysisPaths = []string{"analyses"}
	}
	if len(p.MacroPaths) == 0 {
		p.MacroPaths = []string{"macros"}
	}
	if len(p.TestPaths) == 0 {
		p.TestPaths = []string{"tests"}
	}
	if p.TargetPath == "" {
		p.TargetPath = "target"
	}
}

// Raw returns the file contents the project file was parsed from.
func (p *ProjectFile) Raw() []byte {
	return p.source
}

// Document returns a fresh copy of the full parsed document, including keys
// the typed fields do not cover.
func (p *ProjectFile) Document() (map[string]any, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(p.source, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", ProjectFileName, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}
