// Package change describes units of work to perform against the files of a
// dbt project. Mesh operations plan their edits as Change values collected
// into ChangeSets; committing a ChangeSet to disk is the storage layer's job.
package change

import (
	"fmt"
	"strings"
)

// Operation describes the type of work being performed.
type Operation string

const (
	Add    Operation = "add"
	Update Operation = "update"
	Remove Operation = "remove"
	Copy   Operation = "copy"
	Move   Operation = "move"
)

// preposition links an operation to its path in human readable summaries.
func (o Operation) preposition() string {
	switch o {
	case Add, Copy, Move:
		return "to"
	case Remove:
		return "from"
	default:
		return "in"
	}
}

// EntityType is the type of entity a Change operates on.
type EntityType string

const (
	Model         EntityType = "model"
	Analysis      EntityType = "analysis"
	Test          EntityType = "test"
	Snapshot      EntityType = "snapshot"
	Seed          EntityType = "seed"
	Source        EntityType = "source"
	Macro         EntityType = "macro"
	Documentation EntityType = "doc"
	Exposure      EntityType = "exposure"
	Metric        EntityType = "metric"
	Group         EntityType = "group"
	SemanticModel EntityType = "semantic_model"
	Project       EntityType = "project"
	Code          EntityType = "code"
)

// Pluralize returns the YAML section name for the entity type.
func (e EntityType) Pluralize() string {
	if e == Analysis {
		return "analyses"
	}
	return string(e) + "s"
}

// Entry is a single key/value pair in a change payload.
type Entry struct {
	Key   string
	Value any
}

// Data is an ordered resource payload. Order matters: new keys and new
// resources are written to YAML in the order the planner listed them.
type Data []Entry

// Get returns the value stored under key.
func (d Data) Get(key string) (any, bool) {
	for _, entry := range d {
		if entry.Key == key {
			return entry.Value, true
		}
	}
	return nil, false
}

// Has reports whether key is present.
func (d Data) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Set replaces the value under key, appending the entry when absent.
func (d *Data) Set(key string, value any) {
	for i, entry := range *d {
		if entry.Key == key {
			(*d)[i].Value = value
			return
		}
	}
	*d = append(*d, Entry{Key: key, Value: value})
}

// Change is a single unit of work against a project file.
type Change interface {
	// Description renders a human readable summary for logs and dry runs.
	Description() string
}

// ResourceChange edits a single named resource in a YAML properties file.
type ResourceChange struct {
	Operation  Operation
	EntityType EntityType
	Identifier string
	Path       string
	Data       Data

	// SourceName holds the name of the enclosing source block when the
	// resource is a table nested inside a source definition.
	SourceName string
}

func (c *ResourceChange) Description() string {
	name := c.Identifier
	if c.SourceName != "" {
		name = c.SourceName + "." + c.Identifier
	}
	return fmt.Sprintf("%s %s `%s` %s %s",
		capitalize(string(c.Operation)), c.EntityType, name, c.Operation.preposition(), c.Path)
}

// FileChange edits the raw content of a file. Data carries the new content
// for add and update operations; Source names the file to copy or move from.
type FileChange struct {
	Operation  Operation
	EntityType EntityType
	Identifier string
	Path       string
	Data       string
	Source     string
}

func (c *FileChange) Description() string {
	if c.Source != "" {
		return fmt.Sprintf("%s %s `%s` from %s to %s",
			capitalize(string(c.Operation)), c.EntityType, c.Identifier, c.Source, c.Path)
	}
	return fmt.Sprintf("%s %s `%s` %s %s",
		capitalize(string(c.Operation)), c.EntityType, c.Identifier, c.Operation.preposition(), c.Path)
}

// ChangeSet is an ordered collection of Changes to be performed together.
type ChangeSet struct {
	Changes []Change
}

// NewChangeSet builds a ChangeSet from zero or more changes.
func NewChangeSet(changes ...Change) *ChangeSet {
	return &ChangeSet{Changes: changes}
}

// Add appends a change to the set.
func (cs *ChangeSet) Add(c Change) {
	cs.Changes = append(cs.Changes, c)
}

// Extend appends every change from another set. A nil other is a no-op.
func (cs *ChangeSet) Extend(other *ChangeSet) {
	if other == nil {
		return
	}
	cs.Changes = append(cs.Changes, other.Changes...)
}

// Len returns the number of changes in the set.
func (cs *ChangeSet) Len() int {
	return len(cs.Changes)
}

// Flatten combines multiple change sets into a single ordered list.
func Flatten(changeSets []*ChangeSet) []Change {
	var changes []Change
	for _, cs := range changeSets {
		if cs == nil {
			continue
		}
		changes = append(changes, cs.Changes...)
	}
	return changes
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
