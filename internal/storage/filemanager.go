// Package storage commits planned changes to a dbt project's files. YAML
// documents are edited as yaml.v3 node trees so that key order, unrelated
// entries, and comments survive a rewrite.
package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ReadFile returns the raw content of a file.
func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile writes raw content to a file, creating parent directories as
// needed.
func WriteFile(path string, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// TouchFile creates an empty file, creating parent directories as needed.
// Existing content is left alone.
func TouchFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	return file.Close()
}

// CopyFile copies a file from source to target, creating parent directories
// as needed.
func CopyFile(source, target string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	out, err := os.Create(target)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// MoveFile moves a file from source to target, creating parent directories
// as needed.
func MoveFile(source, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if err := os.Rename(source, target); err == nil {
		return nil
	}
	// Rename fails across filesystems. Fall back to copy and delete.
	if err := CopyFile(source, target); err != nil {
		return err
	}
	return os.Remove(source)
}

// DeleteFile removes a file.
func DeleteFile(path string) error {
	return os.Remove(path)
}

// LoadYAML parses a YAML file into a document mapping node. Empty or
// missing content yields an empty mapping.
func LoadYAML(path string) (*yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseYAML(data)
}

// ParseYAML parses YAML content into its top-level mapping node.
func ParseYAML(data []byte) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		root := doc.Content[0]
		if root.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("expected a mapping at the document root, found %s", nodeKind(root))
		}
		return root, nil
	}
	return EmptyMapping(), nil
}

// WriteYAML serializes a mapping node to a file. Keys holding empty lists
// are stripped before writing; a two space indent matches dbt convention.
func WriteYAML(path string, doc *yaml.Node) error {
	data, err := MarshalYAML(doc)
	if err != nil {
		return err
	}
	return WriteFile(path, string(data))
}

// MarshalYAML serializes a mapping node with empty list fields removed.
func MarshalYAML(doc *yaml.Node) ([]byte, error) {
	stripEmptyLists(doc)

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(doc); err != nil {
		return nil, err
	}
	if err := encoder.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadYAMLMap decodes a YAML file into a generic map. Use LoadYAML when the
// document will be edited and written back.
func ReadYAMLMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	contents := map[string]any{}
	if err := yaml.Unmarshal(data, &contents); err != nil {
		return nil, err
	}
	return contents, nil
}

// stripEmptyLists removes mapping entries whose value is an empty sequence.
// Nested mappings and sequence elements are cleaned recursively.
func stripEmptyLists(node *yaml.Node) {
	if node == nil {
		return
	}
	switch node.Kind {
	case yaml.DocumentNode:
		for _, child := range node.Content {
			stripEmptyLists(child)
		}
	case yaml.SequenceNode:
		for _, child := range node.Content {
			stripEmptyLists(child)
		}
	case yaml.MappingNode:
		filtered := node.Content[:0]
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			stripEmptyLists(value)
			if value.Kind == yaml.SequenceNode && len(value.Content) == 0 {
				continue
			}
			filtered = append(filtered, key, value)
		}
		node.Content = filtered
	}
}

func nodeKind(node *yaml.Node) string {
	switch node.Kind {
	case yaml.DocumentNode:
		return "document"
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	}
	return "unknown"
}
