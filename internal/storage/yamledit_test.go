package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/meshify/internal/change"
)

const modelYmlSharedModel = `
models:
  - name: shared_model
`

const modelYmlOneCol = `
models:
  - name: shared_model
    description: "this is a test model"
    columns:
      - name: id
        description: "this is the id column"
`

const modelYmlAllCol = `
models:
  - name: shared_model
    description: "this is a test model"
    columns:
      - name: id
        description: "this is the id column"
      - name: colleague
        description: "this is the colleague column"
`

const modelYmlOtherModel = `
models:
  - name: other_shared_model
    description: "this is a different test model"
  - name: shared_model
`

const sourceYmlOneTable = `
sources:
  - name: test_source
    description: "this is a test source"
    schema: bogus
    database: bogus
    tables:
      - name: table
        description: "this is a test table"
`

const sourceYmlMultipleTables = `
sources:
  - name: test_source
    description: "this is a test source"
    schema: bogus
    database: bogus
    tables:
      - name: table
        description: "this is a test table"
      - name: other_table
        description: "this is a different test table"
`

const exposureYmlMultipleExposures = `
exposures:
  - name: shared_exposure
    description: "this is a test exposure"
    type: dashboard
    url: yager.com/dashboard
    maturity: high
    owner:
      name: nick yager
    depends_on:
      - ref('model')
  - name: anotha_one
    description: "this is also a test exposure"
    type: dashboard
    url: yager.com/dashboard2
    maturity: high
    owner:
      name: nick yager
    depends_on:
      - ref('model')
`

// parseDoc parses a YAML document into its mapping node.
func parseDoc(t *testing.T, content string) *yaml.Node {
	t.Helper()
	doc, err := ParseYAML([]byte(content))
	require.NoError(t, err)
	return doc
}

// docContents renders a document node back into a generic map for
// structural comparison.
func docContents(t *testing.T, doc *yaml.Node) map[string]any {
	t.Helper()
	data, err := MarshalYAML(doc)
	require.NoError(t, err)
	out := map[string]any{}
	require.NoError(t, yaml.Unmarshal(data, &out))
	return out
}

func parseMap(t *testing.T, content string) map[string]any {
	t.Helper()
	out := map[string]any{}
	require.NoError(t, yaml.Unmarshal([]byte(content), &out))
	return out
}

// contractData mirrors the payload the contract planner produces.
func contractData(columns []change.Data) change.Data {
	data := change.Data{
		{Key: "name", Value: "shared_model"},
		{Key: "config", Value: change.Data{
			{Key: "contract", Value: change.Data{{Key: "enforced", Value: true}}},
		}},
	}
	if columns != nil {
		data.Set("columns", columns)
	}
	return data
}

func sharedModelColumns() []change.Data {
	return []change.Data{
		{{Key: "name", Value: "id"}, {Key: "data_type", Value: "integer"}},
		{{Key: "name", Value: "colleague"}, {Key: "data_type", Value: "varchar"}},
	}
}

func TestUpdateResourceNode_AddsFields(t *testing.T) {
	doc := parseDoc(t, modelYmlSharedModel)
	err := UpdateResourceNode(doc, &change.ResourceChange{
		Operation:  change.Update,
		EntityType: change.Model,
		Identifier: "shared_model",
		Data:       change.Data{{Key: "description", Value: "foobar"}},
	})
	require.NoError(t, err)

	expected := parseMap(t, `
models:
  - name: shared_model
    description: foobar
`)
	assert.Equal(t, expected, docContents(t, doc))
}

func TestUpdateResourceNode_OverwritesExistingFields(t *testing.T) {
	doc := parseDoc(t, `
models:
  - name: shared_model
    description: bogus
`)
	err := UpdateResourceNode(doc, &change.ResourceChange{
		Operation:  change.Update,
		EntityType: change.Model,
		Identifier: "shared_model",
		Data:       change.Data{{Key: "description", Value: "foobar"}},
	})
	require.NoError(t, err)

	contents := docContents(t, doc)
	models := contents["models"].([]any)
	assert.Equal(t, "foobar", models[0].(map[string]any)["description"])
}

func TestUpdateResourceNode_PreservesNestedFields(t *testing.T) {
	doc := parseDoc(t, `
models:
  - name: shared_model
    columns:
      - name: column_one
        tests:
          - unique
`)
	err := UpdateResourceNode(doc, &change.ResourceChange{
		Operation:  change.Update,
		EntityType: change.Model,
		Identifier: "shared_model",
		Data: change.Data{{Key: "columns", Value: []change.Data{
			{{Key: "name", Value: "column_one"}, {Key: "data_type", Value: "bogus"}},
		}}},
	})
	require.NoError(t, err)

	contents := docContents(t, doc)
	column := contents["models"].([]any)[0].(map[string]any)["columns"].([]any)[0].(map[string]any)
	assert.Equal(t, "bogus", column["data_type"])
	assert.Equal(t, []any{"unique"}, column["tests"])
}

func TestUpdateResourceNode_ContractNoColumns(t *testing.T) {
	doc := parseDoc(t, `
models:
  - name: shared_model
    description: "this is a test model"
`)
	err := UpdateResourceNode(doc, &change.ResourceChange{
		Operation:  change.Update,
		EntityType: change.Model,
		Identifier: "shared_model",
		Data:       contractData(sharedModelColumns()),
	})
	require.NoError(t, err)

	expected := parseMap(t, `
models:
  - name: shared_model
    description: "this is a test model"
    config:
      contract:
        enforced: true
    columns:
      - name: id
        data_type: integer
      - name: colleague
        data_type: varchar
`)
	assert.Equal(t, expected, docContents(t, doc))
}

func TestUpdateResourceNode_ContractOneColumn(t *testing.T) {
	doc := parseDoc(t, modelYmlOneCol)
	err := UpdateResourceNode(doc, &change.ResourceChange{
		Operation:  change.Update,
		EntityType: change.Model,
		Identifier: "shared_model",
		Data:       contractData(sharedModelColumns()),
	})
	require.NoError(t, err)

	expected := parseMap(t, `
models:
  - name: shared_model
    description: "this is a test model"
    config:
      contract:
        enforced: true
    columns:
      - name: id
        description: "this is the id column"
        data_type: integer
      - name: colleague
        data_type: varchar
`)
	assert.Equal(t, expected, docContents(t, doc))
}

func TestUpdateResourceNode_ContractAllColumns(t *testing.T) {
	doc := parseDoc(t, modelYmlAllCol)
	err := UpdateResourceNode(doc, &change.ResourceChange{
		Operation:  change.Update,
		EntityType: change.Model,
		Identifier: "shared_model",
		Data:       contractData(sharedModelColumns()),
	})
	require.NoError(t, err)

	expected := parseMap(t, `
models:
  - name: shared_model
    description: "this is a test model"
    config:
      contract:
        enforced: true
    columns:
      - name: id
        description: "this is the id column"
        data_type: integer
      - name: colleague
        description: "this is the colleague column"
        data_type: varchar
`)
	assert.Equal(t, expected, docContents(t, doc))
}

func TestUpdateResourceNode_ContractEmptyFile(t *testing.T) {
	doc := EmptyMapping()
	err := UpdateResourceNode(doc, &change.ResourceChange{
		Operation:  change.Add,
		EntityType: change.Model,
		Identifier: "shared_model",
		Data:       contractData(sharedModelColumns()),
	})
	require.NoError(t, err)

	expected := parseMap(t, `
models:
  - name: shared_model
    config:
      contract:
        enforced: true
    columns:
      - name: id
        data_type: integer
      - name: colleague
        data_type: varchar
`)
	assert.Equal(t, expected, docContents(t, doc))
}

func TestUpdateResourceNode_ContractKeepsSiblings(t *testing.T) {
	doc := parseDoc(t, modelYmlOtherModel)
	err := UpdateResourceNode(doc, &change.ResourceChange{
		Operation:  change.Update,
		EntityType: change.Model,
		Identifier: "shared_model",
		Data:       contractData(sharedModelColumns()),
	})
	require.NoError(t, err)

	expected := parseMap(t, `
models:
  - name: other_shared_model
    description: "this is a different test model"
  - name: shared_model
    config:
      contract:
        enforced: true
    columns:
      - name: id
        data_type: integer
      - name: colleague
        data_type: varchar
`)
	assert.Equal(t, expected, docContents(t, doc))
}

func TestUpdateResourceNode_GroupAndAccess(t *testing.T) {
	groupData := change.Data{
		{Key: "group", Value: "test_group"},
		{Key: "access", Value: "public"},
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:  "adds group and access",
			input: modelYmlSharedModel,
			expected: `
models:
  - name: shared_model
    access: public
    group: test_group
`,
		},
		{
			name: "overwrites existing group",
			input: `
models:
  - name: shared_model
    access: private
    group: old_group
`,
			expected: `
models:
  - name: shared_model
    access: public
    group: test_group
`,
		},
		{
			name: "preserves sibling models",
			input: `
models:
  - name: shared_model
  - name: other_model
  - name: other_other_model
`,
			expected: `
models:
  - name: shared_model
    access: public
    group: test_group
  - name: other_model
  - name: other_other_model
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := parseDoc(t, tt.input)
			err := UpdateResourceNode(doc, &change.ResourceChange{
				Operation:  change.Add,
				EntityType: change.Model,
				Identifier: "shared_model",
				Data:       groupData,
			})
			require.NoError(t, err)
			assert.Equal(t, parseMap(t, tt.expected), docContents(t, doc))
		})
	}
}

func TestUpdateResourceNode_AddGroupEntry(t *testing.T) {
	groupChange := &change.ResourceChange{
		Operation:  change.Add,
		EntityType: change.Group,
		Identifier: "test_group",
		Data: change.Data{
			{Key: "name", Value: "test_group"},
			{Key: "owner", Value: change.Data{
				{Key: "name", Value: "Shaina Fake"},
				{Key: "email", Value: "fake@example.com"},
			}},
		},
	}

	expected := parseMap(t, `
groups:
  - name: test_group
    owner:
      name: Shaina Fake
      email: fake@example.com
`)

	t.Run("empty file", func(t *testing.T) {
		doc := EmptyMapping()
		require.NoError(t, UpdateResourceNode(doc, groupChange))
		assert.Equal(t, expected, docContents(t, doc))
	})

	t.Run("existing groups", func(t *testing.T) {
		doc := parseDoc(t, `
groups:
  - name: other_group
    owner:
      name: Ted Real
      email: real@example.com
`)
		require.NoError(t, UpdateResourceNode(doc, groupChange))

		contents := docContents(t, doc)
		groups := contents["groups"].([]any)
		require.Len(t, groups, 2)
		assert.Equal(t, "other_group", groups[0].(map[string]any)["name"])
		assert.Equal(t, "test_group", groups[1].(map[string]any)["name"])
	})

	t.Run("predefined group is updated", func(t *testing.T) {
		doc := parseDoc(t, `
groups:
  - name: test_group
    owner:
      name: Ted Real
      email: real@example.com
`)
		require.NoError(t, UpdateResourceNode(doc, groupChange))
		assert.Equal(t, expected, docContents(t, doc))
	})
}

func TestUpdateResourceNode_VersionsReplaceWholesale(t *testing.T) {
	doc := parseDoc(t, `
models:
  - name: shared_model
    latest_version: 1
    description: "this is a test model"
    versions:
      - v: 1
`)
	err := UpdateResourceNode(doc, &change.ResourceChange{
		Operation:  change.Update,
		EntityType: change.Model,
		Identifier: "shared_model",
		Data: change.Data{
			{Key: "name", Value: "shared_model"},
			{Key: "latest_version", Value: 2},
			{Key: "versions", Value: []change.Data{
				{{Key: "v", Value: 1}},
				{{Key: "v", Value: 2}, {Key: "defined_in", Value: "daves_model"}},
			}},
		},
	})
	require.NoError(t, err)

	expected := parseMap(t, `
models:
  - name: shared_model
    latest_version: 2
    description: "this is a test model"
    versions:
      - v: 1
      - v: 2
        defined_in: daves_model
`)
	assert.Equal(t, expected, docContents(t, doc))
}

func TestUpdateResourceNode_NilValueDeletesKey(t *testing.T) {
	doc := parseDoc(t, `
models:
  - name: shared_model
    access: private
`)
	err := UpdateResourceNode(doc, &change.ResourceChange{
		Operation:  change.Update,
		EntityType: change.Model,
		Identifier: "shared_model",
		Data:       change.Data{{Key: "access", Value: nil}},
	})
	require.NoError(t, err)

	contents := docContents(t, doc)
	model := contents["models"].([]any)[0].(map[string]any)
	assert.NotContains(t, model, "access")
}

func TestUpdateResourceNode_CanonicalModelKeyOrder(t *testing.T) {
	doc := parseDoc(t, `
models:
  - name: shared_model
    columns:
      - name: id
    description: "this is a test model"
`)
	err := UpdateResourceNode(doc, &change.ResourceChange{
		Operation:  change.Update,
		EntityType: change.Model,
		Identifier: "shared_model",
		Data: change.Data{
			{Key: "access", Value: "protected"},
			{Key: "group", Value: "finance"},
		},
	})
	require.NoError(t, err)

	models := MapValue(doc, "models")
	require.NotNil(t, models)
	entry := FindNamed(models, "shared_model")
	require.NotNil(t, entry)
	assert.Equal(t, []string{"name", "description", "access", "group", "columns"}, MapKeys(entry))
}

func TestUpdateResourceNode_PreservesComments(t *testing.T) {
	source := `# schema definitions
models:
  # the shared model
  - name: shared_model
`
	doc := parseDoc(t, source)
	err := UpdateResourceNode(doc, &change.ResourceChange{
		Operation:  change.Update,
		EntityType: change.Model,
		Identifier: "shared_model",
		Data:       change.Data{{Key: "access", Value: "public"}},
	})
	require.NoError(t, err)

	data, err := MarshalYAML(doc)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# the shared model")
}

func TestRemoveResourceNode_LastModelDrainsDocument(t *testing.T) {
	doc := parseDoc(t, modelYmlOneCol)
	err := RemoveResourceNode(doc, &change.ResourceChange{
		Operation:  change.Remove,
		EntityType: change.Model,
		Identifier: "shared_model",
	})
	require.NoError(t, err)
	assert.True(t, DocumentDrained(doc))
}

func TestRemoveResourceNode_KeepsSiblings(t *testing.T) {
	doc := parseDoc(t, modelYmlOtherModel)
	err := RemoveResourceNode(doc, &change.ResourceChange{
		Operation:  change.Remove,
		EntityType: change.Model,
		Identifier: "shared_model",
	})
	require.NoError(t, err)

	expected := parseMap(t, `
models:
  - name: other_shared_model
    description: "this is a different test model"
`)
	assert.Equal(t, expected, docContents(t, doc))
}

func TestRemoveResourceNode_LastSourceTableDropsSource(t *testing.T) {
	doc := parseDoc(t, sourceYmlOneTable)
	err := RemoveResourceNode(doc, &change.ResourceChange{
		Operation:  change.Remove,
		EntityType: change.Source,
		Identifier: "table",
		SourceName: "test_source",
	})
	require.NoError(t, err)
	assert.True(t, DocumentDrained(doc))
}

func TestRemoveResourceNode_SourceTableKeepsRemainder(t *testing.T) {
	doc := parseDoc(t, sourceYmlMultipleTables)
	err := RemoveResourceNode(doc, &change.ResourceChange{
		Operation:  change.Remove,
		EntityType: change.Source,
		Identifier: "table",
		SourceName: "test_source",
	})
	require.NoError(t, err)

	expected := parseMap(t, `
sources:
  - name: test_source
    description: "this is a test source"
    schema: bogus
    database: bogus
    tables:
      - name: other_table
        description: "this is a different test table"
`)
	assert.Equal(t, expected, docContents(t, doc))
}

func TestRemoveResourceNode_ExposureKeepsRemainder(t *testing.T) {
	doc := parseDoc(t, exposureYmlMultipleExposures)
	err := RemoveResourceNode(doc, &change.ResourceChange{
		Operation:  change.Remove,
		EntityType: change.Exposure,
		Identifier: "shared_exposure",
	})
	require.NoError(t, err)

	contents := docContents(t, doc)
	exposures := contents["exposures"].([]any)
	require.Len(t, exposures, 1)
	assert.Equal(t, "anotha_one", exposures[0].(map[string]any)["name"])
}

func TestRemoveResourceNode_MissingResource(t *testing.T) {
	doc := parseDoc(t, modelYmlSharedModel)

	err := RemoveResourceNode(doc, &change.ResourceChange{
		Operation:  change.Remove,
		EntityType: change.Model,
		Identifier: "missing_model",
	})
	assert.Error(t, err)

	err = RemoveResourceNode(doc, &change.ResourceChange{
		Operation:  change.Remove,
		EntityType: change.Metric,
		Identifier: "missing_metric",
	})
	assert.Error(t, err)
}

func TestDocumentDrained(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"empty document", "", true},
		{"version header only", "version: 2\n", true},
		{"has resources", modelYmlSharedModel, false},
		{"version and resources", "version: 2\n" + modelYmlSharedModel, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := parseDoc(t, tt.content)
			assert.Equal(t, tt.want, DocumentDrained(doc))
		})
	}
}
