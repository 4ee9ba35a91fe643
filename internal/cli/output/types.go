package output

// ResourceInfo describes one selected resource in list output.
type ResourceInfo struct {
	UniqueID     string `json:"unique_id"`
	Name         string `json:"name"`
	ResourceType string `json:"resource_type"`
	FilePath     string `json:"file_path,omitempty"`
	Access       string `json:"access,omitempty"`
	Group        string `json:"group,omitempty"`
	Version      string `json:"version,omitempty"`
	Materialized string `json:"materialized,omitempty"`
}

// ListSummary aggregates list results.
type ListSummary struct {
	Total  int            `json:"total"`
	ByType map[string]int `json:"by_type"`
}

// ListOutput is the JSON payload of the list command.
type ListOutput struct {
	Project   string         `json:"project"`
	Resources []ResourceInfo `json:"resources"`
	Summary   ListSummary    `json:"summary"`
}

// PlanStep describes one change in a planned change set.
type PlanStep struct {
	Step        int    `json:"step"`
	Operation   string `json:"operation,omitempty"`
	EntityType  string `json:"entity_type,omitempty"`
	Name        string `json:"name,omitempty"`
	Path        string `json:"path,omitempty"`
	Description string `json:"description"`
}

// PlanOutput is the JSON payload describing the changes a command planned.
type PlanOutput struct {
	DryRun bool       `json:"dry_run"`
	Steps  []PlanStep `json:"steps"`
}

// DependencyInfo describes one detected cross-project dependency.
type DependencyInfo struct {
	Type              string `json:"type"`
	Upstream          string `json:"upstream"`
	UpstreamProject   string `json:"upstream_project"`
	Downstream        string `json:"downstream"`
	DownstreamProject string `json:"downstream_project"`
}

// ConnectOutput is the JSON payload of the connect command.
type ConnectOutput struct {
	Projects     []string         `json:"projects"`
	Dependencies []DependencyInfo `json:"dependencies"`
	Plan         *PlanOutput      `json:"plan,omitempty"`
}
