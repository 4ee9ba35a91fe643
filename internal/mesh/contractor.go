package mesh

import (
	"strings"

	"github.com/leapstack-labs/meshify/internal/change"
	"github.com/leapstack-labs/meshify/internal/dbt"
	"github.com/leapstack-labs/meshify/internal/project"
)

// Contractor plans model contract changes from catalog column metadata.
type Contractor struct {
	project *project.Project
}

// NewContractor returns a Contractor for the given project.
func NewContractor(p *project.Project) *Contractor {
	return &Contractor{project: p}
}

// GenerateContract plans the change enforcing a contract on a model: the
// contract config plus a columns list typed from the catalog. Models without
// a catalog entry get the contract config alone.
func (c *Contractor) GenerateContract(model *dbt.Node) *change.ResourceChange {
	path := c.project.ResolvePatchPath(model)
	return c.ContractChange(model, path, operationFor(path))
}

// ContractChange builds a contract change targeting an explicit properties
// file, for callers that relocate the model's YAML entry first.
func (c *Contractor) ContractChange(model *dbt.Node, path string, op change.Operation) *change.ResourceChange {
	data := change.Data{
		{Key: "config", Value: change.Data{
			{Key: "contract", Value: change.Data{
				{Key: "enforced", Value: true},
			}},
		}},
	}
	if columns := c.contractColumns(model); len(columns) > 0 {
		data.Set("columns", columns)
	}

	return &change.ResourceChange{
		Operation:  op,
		EntityType: change.Model,
		Identifier: model.Name,
		Path:       path,
		Data:       data,
	}
}

// contractColumns builds the typed column list for a contract in catalog
// order. Column names keep the case the model's YAML already uses so the
// merge lands on the existing entries instead of duplicating them.
func (c *Contractor) contractColumns(model *dbt.Node) []change.Data {
	entry, ok := c.project.CatalogEntry(model.UniqueID)
	if !ok || len(entry.Columns) == 0 {
		return nil
	}

	originalCase := make(map[string]string, len(model.Columns))
	for name := range model.Columns {
		originalCase[strings.ToLower(name)] = name
	}

	ordered := entry.OrderedColumns()
	columns := make([]change.Data, 0, len(ordered))
	for _, column := range ordered {
		name, ok := originalCase[strings.ToLower(column.Name)]
		if !ok {
			name = strings.ToLower(column.Name)
		}
		columns = append(columns, change.Data{
			{Key: "name", Value: name},
			{Key: "data_type", Value: strings.ToLower(column.Type)},
		})
	}
	return columns
}
