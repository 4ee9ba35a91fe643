package storage

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/meshify/internal/change"
)

// RawFileEditor performs raw content operations on files.
type RawFileEditor struct{}

// Apply commits a file change to disk.
func (e RawFileEditor) Apply(c *change.FileChange) error {
	switch c.Operation {
	case change.Add:
		return e.add(c)
	case change.Update:
		if _, err := os.Stat(c.Path); err != nil {
			return fmt.Errorf("unable to find file %s", c.Path)
		}
		return e.add(c)
	case change.Copy:
		if c.Source == "" {
			return fmt.Errorf("no source file provided in %s operation", c.Operation)
		}
		return CopyFile(c.Source, c.Path)
	case change.Move:
		if c.Source == "" {
			return fmt.Errorf("no source file provided in %s operation", c.Operation)
		}
		return MoveFile(c.Source, c.Path)
	}
	return fmt.Errorf("unsupported operation %q for file changes", c.Operation)
}

func (e RawFileEditor) add(c *change.FileChange) error {
	if c.Data == "" {
		return TouchFile(c.Path)
	}
	return WriteFile(c.Path, c.Data)
}

// ResourceFileEditor performs resource operations on YAML properties files.
type ResourceFileEditor struct{}

// Apply commits a resource change to disk.
func (e ResourceFileEditor) Apply(c *change.ResourceChange) error {
	switch c.Operation {
	case change.Add:
		return e.add(c)
	case change.Update:
		return e.update(c)
	case change.Remove:
		return e.remove(c)
	}
	return fmt.Errorf("unsupported operation %q for resource changes", c.Operation)
}

// add upserts a resource, creating the file when it does not exist yet.
func (e ResourceFileEditor) add(c *change.ResourceChange) error {
	doc := EmptyMapping()
	if _, err := os.Stat(c.Path); err == nil {
		loaded, err := LoadYAML(c.Path)
		if err != nil {
			return err
		}
		doc = loaded
	}

	if err := UpdateResourceNode(doc, c); err != nil {
		return err
	}
	return WriteYAML(c.Path, doc)
}

func (e ResourceFileEditor) update(c *change.ResourceChange) error {
	doc, err := LoadYAML(c.Path)
	if err != nil {
		return err
	}
	if err := UpdateResourceNode(doc, c); err != nil {
		return err
	}
	return e.writeOrRemove(c.Path, doc)
}

func (e ResourceFileEditor) remove(c *change.ResourceChange) error {
	doc, err := LoadYAML(c.Path)
	if err != nil {
		return err
	}
	if err := RemoveResourceNode(doc, c); err != nil {
		return err
	}
	return e.writeOrRemove(c.Path, doc)
}

// writeOrRemove writes the document back, deleting the file instead when no
// resources remain in it.
func (e ResourceFileEditor) writeOrRemove(path string, doc *yaml.Node) error {
	if DocumentDrained(doc) {
		return DeleteFile(path)
	}
	return WriteYAML(path, doc)
}
