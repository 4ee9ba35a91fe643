// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/leapstack-labs/meshify/internal/cli/output"
	"github.com/leapstack-labs/meshify/internal/dbt"
)

// Unique IDs of the retail_shop fixture written by SetupTestProject.
const (
	StgCustomersID = "model.retail_shop.stg_customers"
	CustomersID    = "model.retail_shop.customers"
	RawCustomersID = "source.retail_shop.raw.customers"
)

// SetupTestProject creates a temporary dbt project with parsed artifacts
// under target/, small enough to read in a failure message: a staging model
// over one source and a mart reading from it.
func SetupTestProject(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()

	files := map[string]string{
		"dbt_project.yml": `name: retail_shop
version: "1.0.0"
config-version: 2
profile: retail_shop
model-paths: ["models"]
`,
		"models/schema.yml": `version: 2
models:
  - name: stg_customers
  - name: customers
    description: Customer dimension.
`,
		"models/_sources.yml": `version: 2
sources:
  - name: raw
    tables:
      - name: customers
`,
		"models/stg_customers.sql": "select * from {{ source('raw', 'customers') }}\n",
		"models/customers.sql":     "select * from {{ ref('stg_customers') }}\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("failed to create directory for %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("failed to create %s: %v", name, err)
		}
	}

	if err := os.MkdirAll(filepath.Join(dir, "target"), 0o755); err != nil {
		t.Fatalf("failed to create target directory: %v", err)
	}
	writeArtifact(t, filepath.Join(dir, "target", "manifest.json"), testManifest())
	writeArtifact(t, filepath.Join(dir, "target", "catalog.json"), testCatalog())

	return dir
}

func writeArtifact(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func testManifest() *dbt.Manifest {
	return &dbt.Manifest{
		Metadata: dbt.ManifestMetadata{ProjectName: "retail_shop", ProjectID: "r3ta1l"},
		Nodes: map[string]*dbt.Node{
			StgCustomersID: {
				ResourceBase: dbt.ResourceBase{
					UniqueID:         StgCustomersID,
					Name:             "stg_customers",
					ResourceType:     dbt.ResourceTypeModel,
					PackageName:      "retail_shop",
					Path:             "stg_customers.sql",
					OriginalFilePath: "models/stg_customers.sql",
				},
				PatchPath: "retail_shop://models/schema.yml",
				RawCode:   "select * from {{ source('raw', 'customers') }}\n",
				Language:  "sql",
				Config:    dbt.NodeConfig{Materialized: "view"},
				DependsOn: dbt.DependsOn{Nodes: []string{RawCustomersID}},
			},
			CustomersID: {
				ResourceBase: dbt.ResourceBase{
					UniqueID:         CustomersID,
					Name:             "customers",
					ResourceType:     dbt.ResourceTypeModel,
					PackageName:      "retail_shop",
					Path:             "customers.sql",
					OriginalFilePath: "models/customers.sql",
				},
				PatchPath: "retail_shop://models/schema.yml",
				RawCode:   "select * from {{ ref('stg_customers') }}\n",
				Language:  "sql",
				Config:    dbt.NodeConfig{Materialized: "table"},
				DependsOn: dbt.DependsOn{Nodes: []string{StgCustomersID}},
			},
		},
		Sources: map[string]*dbt.Source{
			RawCustomersID: {
				ResourceBase: dbt.ResourceBase{
					UniqueID:         RawCustomersID,
					Name:             "customers",
					ResourceType:     dbt.ResourceTypeSource,
					PackageName:      "retail_shop",
					Path:             "models/_sources.yml",
					OriginalFilePath: "models/_sources.yml",
				},
				SourceName: "raw",
			},
		},
		ParentMap: map[string][]string{
			StgCustomersID: {RawCustomersID},
			CustomersID:    {StgCustomersID},
		},
		ChildMap: map[string][]string{
			RawCustomersID: {StgCustomersID},
			StgCustomersID: {CustomersID},
			CustomersID:    {},
		},
	}
}

func testCatalog() *dbt.Catalog {
	return &dbt.Catalog{
		Nodes: map[string]*dbt.CatalogTable{
			CustomersID: {
				Metadata: dbt.CatalogMetadata{Type: "TABLE", Schema: "analytics", Name: "customers"},
				Columns: map[string]dbt.CatalogColumn{
					"CUSTOMER_ID": {Type: "INTEGER", Index: 1, Name: "CUSTOMER_ID"},
					"NAME":        {Type: "character varying", Index: 2, Name: "NAME"},
				},
			},
		},
	}
}

// TestRenderer wraps a Renderer for testing with captured output buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates a new test renderer with the specified mode and TTY state.
// Output is captured in buffers for inspection.
func NewTestRenderer(mode output.OutputMode, isTTY bool) *TestRenderer {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &TestRenderer{
		Renderer: output.NewRendererWithTTY(out, errOut, isTTY, mode),
		Out:      out,
		ErrOut:   errOut,
	}
}

// NewTestRendererAuto creates a new test renderer with auto mode detection.
// In tests, non-TTY defaults to markdown output.
func NewTestRendererAuto() *TestRenderer {
	return NewTestRenderer(output.ModeAuto, false)
}

// NewTestRendererText creates a new test renderer in text mode (simulated TTY).
func NewTestRendererText() *TestRenderer {
	return NewTestRenderer(output.ModeText, true)
}

// NewTestRendererMarkdown creates a new test renderer in markdown mode.
func NewTestRendererMarkdown() *TestRenderer {
	return NewTestRenderer(output.ModeMarkdown, false)
}

// NewTestRendererJSON creates a new test renderer in JSON mode.
func NewTestRendererJSON() *TestRenderer {
	return NewTestRenderer(output.ModeJSON, false)
}

// Output returns the combined stdout output as a string.
func (tr *TestRenderer) Output() string {
	return tr.Out.String()
}

// ErrorOutput returns the stderr output as a string.
func (tr *TestRenderer) ErrorOutput() string {
	return tr.ErrOut.String()
}

// Reset clears both output buffers.
func (tr *TestRenderer) Reset() {
	tr.Out.Reset()
	tr.ErrOut.Reset()
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// AssertContains checks that the string contains the expected substring.
func AssertContains(t *testing.T, s, expected string) {
	t.Helper()
	if !strings.Contains(s, expected) {
		t.Errorf("string %q does not contain expected %q", s, expected)
	}
}

// AssertNotContains checks that the string does not contain the substring.
func AssertNotContains(t *testing.T, s, unexpected string) {
	t.Helper()
	if strings.Contains(s, unexpected) {
		t.Errorf("string %q unexpectedly contains %q", s, unexpected)
	}
}

// AssertValidMarkdown performs basic markdown validation.
// It checks for unclosed code fences and basic structure.
func AssertValidMarkdown(t *testing.T, md string) {
	t.Helper()

	fenceCount := strings.Count(md, "```")
	if fenceCount%2 != 0 {
		t.Errorf("unbalanced code fences in markdown: found %d occurrences", fenceCount)
	}

	lines := strings.Split(md, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") && strings.TrimLeft(trimmed, "# ") == "" {
			t.Errorf("empty header at line %d: %q", i+1, line)
		}
	}
}

// AssertOutputMode checks that the renderer output matches expected mode characteristics.
func AssertOutputMode(t *testing.T, tr *TestRenderer, expectedMode output.OutputMode) {
	t.Helper()

	combinedOutput := tr.Output() + tr.ErrorOutput()

	switch expectedMode {
	case output.ModeMarkdown, output.ModeJSON:
		AssertNoANSI(t, combinedOutput)
	case output.ModeText:
		// Text mode may carry ANSI codes when attached to a TTY.
	}
}
