package dbt

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Catalog is the subset of dbt's catalog.json that meshify reads.
type Catalog struct {
	Nodes   map[string]*CatalogTable `json:"nodes"`
	Sources map[string]*CatalogTable `json:"sources"`
}

// CatalogTable describes a materialized relation in the warehouse.
type CatalogTable struct {
	Metadata CatalogMetadata          `json:"metadata"`
	Columns  map[string]CatalogColumn `json:"columns"`
}

// CatalogMetadata identifies the relation a catalog entry describes.
type CatalogMetadata struct {
	Type     string `json:"type"`
	Schema   string `json:"schema"`
	Name     string `json:"name"`
	Database string `json:"database,omitempty"`
	Comment  string `json:"comment,omitempty"`
	Owner    string `json:"owner,omitempty"`
}

// CatalogColumn is a single column of a cataloged relation.
type CatalogColumn struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Comment string `json:"comment,omitempty"`
}

// LoadCatalog reads a catalog.json produced by dbt docs generate.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	var catalog Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}
	return &catalog, nil
}

// Entry returns the catalog entry for a unique ID, checking nodes first and
// sources second.
func (c *Catalog) Entry(uniqueID string) (*CatalogTable, bool) {
	if c == nil {
		return nil, false
	}
	if table, ok := c.Nodes[uniqueID]; ok {
		return table, true
	}
	table, ok := c.Sources[uniqueID]
	return table, ok
}

// OrderedColumns returns the table's columns sorted by their catalog index,
// the order the warehouse reports them in.
func (t *CatalogTable) OrderedColumns() []CatalogColumn {
	columns := make([]CatalogColumn, 0, len(t.Columns))
	for _, column := range t.Columns {
		columns = append(columns, column)
	}
	sort.Slice(columns, func(i, j int) bool {
		if columns[i].Index != columns[j].Index {
			return columns[i].Index < columns[j].Index
		}
		return columns[i].Name < columns[j].Name
	})
	return columns
}
