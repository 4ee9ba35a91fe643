// Package config provides configuration management for the meshify CLI.
//
// Configuration is assembled from defaults, an optional meshify.yaml file,
// MESHIFY_ environment variables, and explicitly set command line flags, in
// that order of increasing precedence.
package config

// Config holds all CLI configuration options.
type Config struct {
	ProjectPath   string   `koanf:"project_path"`
	ProjectPaths  []string `koanf:"project_paths"`
	DryRun        bool     `koanf:"dry_run"`
	ReadCatalog   bool     `koanf:"read_catalog"`
	NoReadCatalog bool     `koanf:"no_read_catalog"`
	NoInvokeDbt   bool     `koanf:"no_invoke_dbt"`
	Verbose       bool     `koanf:"verbose"`
	OutputFormat  string   `koanf:"output"`
}

// Default configuration values.
const (
	DefaultProjectPath = "."
	DefaultOutput      = "auto" // Auto-detect: TTY=text, non-TTY=markdown
)
