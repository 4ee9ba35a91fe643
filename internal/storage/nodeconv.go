package storage

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/meshify/internal/change"
)

// DataFromNode converts a parsed mapping node into an ordered payload,
// preserving the key order found in the file. Nested mappings become nested
// payloads and sequences become []any.
func DataFromNode(node *yaml.Node) (change.Data, error) {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("cannot convert a %s node into resource data", nodeKind(node))
	}
	data := make(change.Data, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		value, err := valueFromNode(node.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", node.Content[i].Value, err)
		}
		data = append(data, change.Entry{Key: node.Content[i].Value, Value: value})
	}
	return data, nil
}

func valueFromNode(node *yaml.Node) (any, error) {
	switch node.Kind {
	case yaml.MappingNode:
		return DataFromNode(node)
	case yaml.SequenceNode:
		items := make([]any, 0, len(node.Content))
		for _, elem := range node.Content {
			value, err := valueFromNode(elem)
			if err != nil {
				return nil, err
			}
			items = append(items, value)
		}
		return items, nil
	case yaml.AliasNode:
		return valueFromNode(node.Alias)
	default:
		var value any
		if err := node.Decode(&value); err != nil {
			return nil, err
		}
		return value, nil
	}
}

// ExtractResourceEntry pulls a named resource out of a parsed properties
// document as an ordered payload. For a source table, sourceName addresses
// the enclosing source block and the returned payload is that block narrowed
// to the single named table.
func ExtractResourceEntry(doc *yaml.Node, entity change.EntityType, name, sourceName string) (change.Data, error) {
	section := entity.Pluralize()
	seq := MapValue(doc, section)
	if seq == nil || seq.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("no %s section found", section)
	}

	if sourceName != "" {
		source := FindNamed(seq, sourceName)
		if source == nil {
			return nil, fmt.Errorf("no source named %q found in the %s section", sourceName, section)
		}
		table := FindNamed(MapValue(source, "tables"), name)
		if table == nil {
			return nil, fmt.Errorf("no table named %q found in source %q", name, sourceName)
		}
		data, err := DataFromNode(source)
		if err != nil {
			return nil, err
		}
		tableData, err := DataFromNode(table)
		if err != nil {
			return nil, err
		}
		data.Set("tables", []any{tableData})
		return data, nil
	}

	entry := FindNamed(seq, name)
	if entry == nil {
		return nil, fmt.Errorf("no %s named %q found", entity, name)
	}
	return DataFromNode(entry)
}
