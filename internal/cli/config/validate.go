package config

import (
	"fmt"
	"os"
	"strings"
)

// validOutputs enumerates the accepted --output values.
var validOutputs = map[string]struct{}{
	"":         {},
	"auto":     {},
	"text":     {},
	"markdown": {},
	"md":       {},
	"json":     {},
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if _, ok := validOutputs[strings.ToLower(c.OutputFormat)]; !ok {
		return fmt.Errorf("invalid output format %q (expected auto, text, markdown, or json)", c.OutputFormat)
	}
	if c.ReadCatalog && c.NoReadCatalog {
		return fmt.Errorf("--read-catalog and --no-read-catalog are mutually exclusive")
	}
	return nil
}

// ValidateProjectDir checks that the configured project directory exists.
// Commands that load a project call this before doing any work so the
// failure names the flag to fix.
func (c *Config) ValidateProjectDir() error {
	if _, err := os.Stat(c.ProjectPath); os.IsNotExist(err) {
		return fmt.Errorf("project directory does not exist: %s\nHint: use --project-path to point at a dbt project", c.ProjectPath)
	}
	return nil
}
