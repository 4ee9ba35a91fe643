package selector

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SelectorsFileName is the well-known file dbt reads named selectors from.
const SelectorsFileName = "selectors.yml"

type selectorsFile struct {
	Selectors []namedSelector `yaml:"selectors"`
}

type namedSelector struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Definition  any    `yaml:"definition"`
}

// NamedSelection reads selectors.yml from the project directory and compiles
// the named selector's definition into a selection expression.
func NamedSelection(projectDir, name string) (string, error) {
	filePath := filepath.Join(projectDir, SelectorsFileName)
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("reading selectors file: %w", err)
	}
	var file selectorsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return "", fmt.Errorf("parsing %s: %w", filePath, err)
	}
	for _, sel := range file.Selectors {
		if sel.Name == name {
			return compileDefinition(sel.Definition)
		}
	}
	return "", fmt.Errorf("selector %q not found in %s", name, filePath)
}

// compileDefinition flattens a selectors.yml definition tree into the
// equivalent inline selection expression.
func compileDefinition(def any) (string, error) {
	switch v := def.(type) {
	case string:
		return v, nil
	case []any:
		return compileUnion(v)
	case map[string]any:
		if children, ok := v["union"]; ok {
			list, ok := children.([]any)
			if !ok {
				return "", fmt.Errorf("union definition must be a list, got %T", children)
			}
			return compileUnion(list)
		}
		if children, ok := v["intersection"]; ok {
			list, ok := children.([]any)
			if !ok {
				return "", fmt.Errorf("intersection definition must be a list, got %T", children)
			}
			return compileIntersection(list)
		}
		if _, ok := v["method"]; ok {
			return compileMethod(v)
		}
		if _, ok := v["exclude"]; ok {
			return "", fmt.Errorf("exclude is not supported inside selector definitions")
		}
	case nil:
		return "", fmt.Errorf("selector has no definition")
	}
	return "", fmt.Errorf("unsupported selector definition %v", def)
}

func compileUnion(children []any) (string, error) {
	parts := make([]string, 0, len(children))
	for _, child := range children {
		expr, err := compileDefinition(child)
		if err != nil {
			return "", err
		}
		parts = append(parts, expr)
	}
	return strings.Join(parts, " "), nil
}

func compileIntersection(children []any) (string, error) {
	parts := make([]string, 0, len(children))
	for _, child := range children {
		expr, err := compileDefinition(child)
		if err != nil {
			return "", err
		}
		if strings.ContainsAny(expr, " \t") {
			return "", fmt.Errorf("cannot nest a union inside an intersection in %s", SelectorsFileName)
		}
		parts = append(parts, expr)
	}
	return strings.Join(parts, ","), nil
}

func compileMethod(def map[string]any) (string, error) {
	value := def["value"]
	if value == nil {
		return "", fmt.Errorf("selector definition is missing a value")
	}
	criterion := fmt.Sprintf("%v", value)
	if method, _ := def["method"].(string); method != "" {
		criterion = method + ":" + criterion
	}

	if cp, _ := def["childrens_parents"].(bool); cp {
		return "@" + criterion, nil
	}
	if parents, _ := def["parents"].(bool); parents {
		prefix := "+"
		if depth, ok := def["parents_depth"].(int); ok {
			prefix = strconv.Itoa(depth) + "+"
		}
		criterion = prefix + criterion
	}
	if children, _ := def["children"].(bool); children {
		suffix := "+"
		if depth, ok := def["children_depth"].(int); ok {
			suffix = "+" + strconv.Itoa(depth)
		}
		criterion = criterion + suffix
	}
	return criterion, nil
}
