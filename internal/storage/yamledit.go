package storage

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/meshify/internal/change"
)

// modelKeyOrder is the canonical key order for model entries in properties
// files. Keys outside this list keep their found order and follow after.
var modelKeyOrder = []string{
	"name",
	"description",
	"latest_version",
	"access",
	"group",
	"config",
	"meta",
	"tests",
	"columns",
	"versions",
}

// UpdateResourceNode applies a resource change to a parsed properties
// document. The resource is looked up by name within the plural section for
// its entity type; missing sections and resources are created. Source table
// changes address the enclosing source block and merge into its tables.
func UpdateResourceNode(doc *yaml.Node, c *change.ResourceChange) error {
	identifier := c.Identifier
	if c.SourceName != "" {
		identifier = c.SourceName
	}

	section := c.EntityType.Pluralize()
	seq := MapValue(doc, section)
	created := false
	if seq == nil || seq.Kind != yaml.SequenceNode {
		seq = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		created = true
	}

	target := FindNamed(seq, identifier)
	if target == nil {
		target = EmptyMapping()
		// A freshly created entry always carries its name, whether or
		// not the payload repeats it.
		MapSet(target, "name", ScalarNode(identifier))
		seq.Content = append(seq.Content, target)
	}

	if err := mergeMapping(target, c.Data); err != nil {
		return fmt.Errorf("updating %s %q: %w", c.EntityType, identifier, err)
	}
	formatResource(c.EntityType, target)

	if created {
		MapSet(doc, section, seq)
	}
	if len(seq.Content) == 0 {
		MapDelete(doc, section)
	}
	return nil
}

// RemoveResourceNode removes a resource from a parsed properties document.
// Removing the last table of a source drops the whole source block, and
// removing the last resource of a section drops the section.
func RemoveResourceNode(doc *yaml.Node, c *change.ResourceChange) error {
	section := c.EntityType.Pluralize()
	seq := MapValue(doc, section)
	if seq == nil || seq.Kind != yaml.SequenceNode {
		return fmt.Errorf("no %s section found", section)
	}

	if c.SourceName != "" {
		source := FindNamed(seq, c.SourceName)
		if source == nil {
			return fmt.Errorf("no source named %q found in the %s section", c.SourceName, section)
		}
		tables := MapValue(source, "tables")
		if tables == nil || tables.Kind != yaml.SequenceNode || !RemoveNamed(tables, c.Identifier) {
			return fmt.Errorf("no table named %q found in source %q", c.Identifier, c.SourceName)
		}
		// Drop the source definition once its last table is removed.
		if len(tables.Content) == 0 {
			RemoveNamed(seq, c.SourceName)
		}
	} else {
		if !RemoveNamed(seq, c.Identifier) {
			return fmt.Errorf("no %s named %q found", c.EntityType, c.Identifier)
		}
	}

	if len(seq.Content) == 0 {
		MapDelete(doc, section)
	}
	return nil
}

// DocumentDrained reports whether a properties document holds no resources.
// A lone `version:` header does not count as content.
func DocumentDrained(doc *yaml.Node) bool {
	if doc == nil || doc.Kind != yaml.MappingNode {
		return true
	}
	switch len(doc.Content) {
	case 0:
		return true
	case 2:
		return doc.Content[0].Value == "version"
	}
	return false
}

// mergeMapping applies an ordered payload to a mapping node. Nested
// mappings merge key by key, nil values delete keys, named lists merge by
// name with new entries appended, and any other value replaces the target.
func mergeMapping(target *yaml.Node, data change.Data) error {
	if target.Kind != yaml.MappingNode {
		return fmt.Errorf("cannot merge into a %s node", nodeKind(target))
	}

	for _, entry := range data {
		if entry.Value == nil {
			MapDelete(target, entry.Key)
			continue
		}

		existing := MapValue(target, entry.Key)
		merged, err := mergeValue(existing, entry.Value)
		if err != nil {
			return fmt.Errorf("key %q: %w", entry.Key, err)
		}
		MapSet(target, entry.Key, merged)
	}
	return nil
}

// mergeValue merges an update value into an existing node, returning the
// node to store. A nil existing node encodes the update outright.
func mergeValue(existing *yaml.Node, value any) (*yaml.Node, error) {
	switch typed := value.(type) {
	case change.Data:
		if existing == nil || existing.Kind != yaml.MappingNode {
			existing = EmptyMapping()
		}
		if err := mergeMapping(existing, typed); err != nil {
			return nil, err
		}
		return existing, nil

	case map[string]any:
		return mergeValue(existing, dataFromMap(typed))
	}

	if items, ok := namedItems(value); ok && existing != nil && existing.Kind == yaml.SequenceNode {
		return existing, mergeNamedList(existing, items)
	}

	return encodeValue(value)
}

// mergeNamedList upserts named payload entries into a sequence of named
// mappings, appending entries whose name is new.
func mergeNamedList(seq *yaml.Node, items []change.Data) error {
	for _, item := range items {
		name, _ := item.Get("name")
		key := fmt.Sprintf("%v", name)

		target := FindNamed(seq, key)
		if target == nil {
			node, err := encodeValue(item)
			if err != nil {
				return err
			}
			seq.Content = append(seq.Content, node)
			continue
		}
		if err := mergeMapping(target, item); err != nil {
			return err
		}
	}
	return nil
}

// namedItems normalizes a list payload into ordered entries when every
// element is a mapping that carries a name key. Lists of unnamed mappings,
// such as model versions, rewrite their target wholesale instead.
func namedItems(value any) ([]change.Data, bool) {
	var raw []any
	switch typed := value.(type) {
	case []any:
		raw = typed
	case []change.Data:
		for _, item := range typed {
			raw = append(raw, item)
		}
	case []map[string]any:
		for _, item := range typed {
			raw = append(raw, item)
		}
	default:
		return nil, false
	}

	if len(raw) == 0 {
		return nil, false
	}

	items := make([]change.Data, 0, len(raw))
	for _, elem := range raw {
		var item change.Data
		switch typed := elem.(type) {
		case change.Data:
			item = typed
		case map[string]any:
			item = dataFromMap(typed)
		default:
			return nil, false
		}
		if !item.Has("name") {
			return nil, false
		}
		items = append(items, item)
	}
	return items, true
}

// dataFromMap converts a plain map into an ordered payload with sorted keys
// so repeated runs write identical YAML.
func dataFromMap(m map[string]any) change.Data {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	data := make(change.Data, 0, len(m))
	for _, key := range keys {
		data = append(data, change.Entry{Key: key, Value: m[key]})
	}
	return data
}

// encodeValue converts a payload value into a YAML node. Ordered payloads
// keep their order; plain maps sort their keys.
func encodeValue(value any) (*yaml.Node, error) {
	switch typed := value.(type) {
	case change.Data:
		node := EmptyMapping()
		for _, entry := range typed {
			if entry.Value == nil {
				continue
			}
			child, err := encodeValue(entry.Value)
			if err != nil {
				return nil, err
			}
			MapSet(node, entry.Key, child)
		}
		return node, nil

	case map[string]any:
		return encodeValue(dataFromMap(typed))

	case []any:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, elem := range typed {
			child, err := encodeValue(elem)
			if err != nil {
				return nil, err
			}
			seq.Content = append(seq.Content, child)
		}
		return seq, nil

	case []change.Data:
		items := make([]any, len(typed))
		for i, elem := range typed {
			items[i] = elem
		}
		return encodeValue(items)

	case []map[string]any:
		items := make([]any, len(typed))
		for i, elem := range typed {
			items[i] = elem
		}
		return encodeValue(items)

	case []string:
		items := make([]any, len(typed))
		for i, elem := range typed {
			items[i] = elem
		}
		return encodeValue(items)
	}

	node := &yaml.Node{}
	if err := node.Encode(value); err != nil {
		return nil, err
	}
	return node, nil
}

// formatResource reorders a model entry into canonical key order. Unknown
// keys follow the canonical ones in their found order. Other entity types
// keep their found order.
func formatResource(entity change.EntityType, resource *yaml.Node) {
	if entity != change.Model || resource.Kind != yaml.MappingNode {
		return
	}

	type pair struct {
		key   *yaml.Node
		value *yaml.Node
	}

	var order []string
	pairs := map[string]pair{}
	for i := 0; i+1 < len(resource.Content); i += 2 {
		key := resource.Content[i].Value
		order = append(order, key)
		pairs[key] = pair{key: resource.Content[i], value: resource.Content[i+1]}
	}

	content := make([]*yaml.Node, 0, len(resource.Content))
	placed := map[string]bool{}
	for _, key := range modelKeyOrder {
		if p, ok := pairs[key]; ok {
			content = append(content, p.key, p.value)
			placed[key] = true
		}
	}
	for _, key := range order {
		if !placed[key] {
			p := pairs[key]
			content = append(content, p.key, p.value)
		}
	}
	resource.Content = content
}

// EmptyMapping returns a new empty mapping node.
func EmptyMapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

// ScalarNode returns a string scalar node.
func ScalarNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

// MapValue returns the value node stored under key, or nil.
func MapValue(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// MapSet stores a value under key, keeping the key's position when it
// already exists and appending it otherwise.
func MapSet(m *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = value
			return
		}
	}
	m.Content = append(m.Content, ScalarNode(key), value)
}

// MapDelete removes a key from a mapping node.
func MapDelete(m *yaml.Node, key string) bool {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content = append(m.Content[:i], m.Content[i+2:]...)
			return true
		}
	}
	return false
}

// MapKeys returns a mapping node's keys in document order.
func MapKeys(m *yaml.Node) []string {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	keys := make([]string, 0, len(m.Content)/2)
	for i := 0; i+1 < len(m.Content); i += 2 {
		keys = append(keys, m.Content[i].Value)
	}
	return keys
}

// FindNamed returns the mapping element of a sequence whose name key holds
// the given value, or nil.
func FindNamed(seq *yaml.Node, name string) *yaml.Node {
	if seq == nil || seq.Kind != yaml.SequenceNode {
		return nil
	}
	for _, elem := range seq.Content {
		if elem.Kind != yaml.MappingNode {
			continue
		}
		if value := MapValue(elem, "name"); value != nil && value.Value == name {
			return elem
		}
	}
	return nil
}

// RemoveNamed removes the first mapping element of a sequence whose name
// key holds the given value.
func RemoveNamed(seq *yaml.Node, name string) bool {
	for i, elem := range seq.Content {
		if elem.Kind != yaml.MappingNode {
			continue
		}
		if value := MapValue(elem, "name"); value != nil && value.Value == name {
			seq.Content = append(seq.Content[:i], seq.Content[i+1:]...)
			return true
		}
	}
	return false
}
