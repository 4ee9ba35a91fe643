// Package dbt reads the JSON artifacts a dbt invocation leaves in a
// project's target directory, parses dbt_project.yml, and shells out to the
// dbt binary when artifacts need to be (re)generated.
package dbt

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// ResourceType identifies the kind of a manifest entry.
type ResourceType string

const (
	ResourceTypeModel         ResourceType = "model"
	ResourceTypeAnalysis      ResourceType = "analysis"
	ResourceTypeTest          ResourceType = "test"
	ResourceTypeUnitTest      ResourceType = "unit_test"
	ResourceTypeSnapshot      ResourceType = "snapshot"
	ResourceTypeSeed          ResourceType = "seed"
	ResourceTypeSource        ResourceType = "source"
	ResourceTypeMacro         ResourceType = "macro"
	ResourceTypeDoc           ResourceType = "doc"
	ResourceTypeExposure      ResourceType = "exposure"
	ResourceTypeMetric        ResourceType = "metric"
	ResourceTypeGroup         ResourceType = "group"
	ResourceTypeSemanticModel ResourceType = "semantic_model"
)

// Pluralize returns the section name used for this resource type in dbt
// properties files ("models:", "sources:", "analyses:", ...).
func (rt ResourceType) Pluralize() string {
	if rt == ResourceTypeAnalysis {
		return "analyses"
	}
	return string(rt) + "s"
}

// TypeFromID extracts the resource type prefix from a manifest unique ID
// such as "model.jaffle_shop.stg_orders".
func TypeFromID(uniqueID string) ResourceType {
	prefix, _, _ := strings.Cut(uniqueID, ".")
	return ResourceType(prefix)
}

// VersionValue is a model version identifier. dbt permits both numeric and
// string values; meshify can only increment integer versions.
type VersionValue struct {
	raw string
	set bool
}

// NewVersion returns a set integer version value.
func NewVersion(v int) VersionValue {
	return VersionValue{raw: strconv.Itoa(v), set: true}
}

func (v *VersionValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch value := raw.(type) {
	case nil:
	case string:
		v.raw = value
		v.set = true
	case float64:
		v.raw = strconv.FormatFloat(value, 'f', -1, 64)
		v.set = true
	default:
		return fmt.Errorf("unsupported version value %v", raw)
	}
	return nil
}

func (v VersionValue) MarshalJSON() ([]byte, error) {
	if !v.set {
		return []byte("null"), nil
	}
	if i, err := strconv.Atoi(v.raw); err == nil {
		return json.Marshal(i)
	}
	return json.Marshal(v.raw)
}

// IsSet reports whether the manifest carried a version value at all.
func (v VersionValue) IsSet() bool { return v.set }

func (v VersionValue) String() string { return v.raw }

// Int converts the version to an integer.
func (v VersionValue) Int() (int, error) { return strconv.Atoi(v.raw) }

// Equal reports whether two version values are both unset or carry the
// same value.
func (v VersionValue) Equal(other VersionValue) bool {
	return v.set == other.set && v.raw == other.raw
}

// ResourceBase holds the fields shared by every manifest entry.
type ResourceBase struct {
	UniqueID         string       `json:"unique_id"`
	Name             string       `json:"name"`
	ResourceType     ResourceType `json:"resource_type"`
	PackageName      string       `json:"package_name"`
	Path             string       `json:"path"`
	OriginalFilePath string       `json:"original_file_path"`
}

// Base returns the shared fields of a manifest entry.
func (r *ResourceBase) Base() *ResourceBase { return r }

// Resource is the common view over manifest entries.
type Resource interface {
	Base() *ResourceBase
}

// DependsOn lists the direct dependencies of a node.
type DependsOn struct {
	Nodes  []string `json:"nodes"`
	Macros []string `json:"macros"`
}

// ContractConfig mirrors a node's contract settings.
type ContractConfig struct {
	Enforced bool `json:"enforced"`
}

// NodeConfig is the subset of a node's resolved config meshify inspects.
type NodeConfig struct {
	Materialized string          `json:"materialized,omitempty"`
	Group        string          `json:"group,omitempty"`
	Access       string          `json:"access,omitempty"`
	Contract     *ContractConfig `json:"contract,omitempty"`
	Tags         []string        `json:"tags,omitempty"`
}

// ColumnInfo is a column definition carried on a manifest node or source.
type ColumnInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	DataType    string `json:"data_type,omitempty"`
}

// Node is a manifest entry for models, seeds, snapshots, analyses and tests.
type Node struct {
	ResourceBase
	PatchPath     string                `json:"patch_path,omitempty"`
	FQN           []string              `json:"fqn,omitempty"`
	Alias         string                `json:"alias,omitempty"`
	Database      string                `json:"database,omitempty"`
	Schema        string                `json:"schema,omitempty"`
	RelationName  string                `json:"relation_name,omitempty"`
	RawCode       string                `json:"raw_code,omitempty"`
	Language      string                `json:"language,omitempty"`
	Config        NodeConfig            `json:"config"`
	Tags          []string              `json:"tags,omitempty"`
	Columns       map[string]ColumnInfo `json:"columns,omitempty"`
	DependsOn     DependsOn             `json:"depends_on"`
	Access        string                `json:"access,omitempty"`
	Group         string                `json:"group,omitempty"`
	Version       VersionValue          `json:"version,omitempty"`
	LatestVersion VersionValue          `json:"latest_version,omitempty"`
}

// IsVersioned reports whether the model carries any version metadata.
func (n *Node) IsVersioned() bool {
	return n.Version.IsSet() || n.LatestVersion.IsSet()
}

// IsCurrentVersion reports whether the node is the model's latest version
// (unversioned models are trivially current).
func (n *Node) IsCurrentVersion() bool {
	return n.Version.Equal(n.LatestVersion)
}

// FileExtension returns the extension of the node's defining file based on
// its language ("sql" unless the model is written in python).
func (n *Node) FileExtension() string {
	if n.Language == "python" {
		return "py"
	}
	return "sql"
}

// Source is a manifest entry for a source table.
type Source struct {
	ResourceBase
	SourceName   string                `json:"source_name"`
	Database     string                `json:"database,omitempty"`
	Schema       string                `json:"schema,omitempty"`
	Identifier   string                `json:"identifier,omitempty"`
	RelationName string                `json:"relation_name,omitempty"`
	Columns      map[string]ColumnInfo `json:"columns,omitempty"`
	Tags         []string              `json:"tags,omitempty"`
	FQN          []string              `json:"fqn,omitempty"`
}

// Macro is a manifest entry for a Jinja macro.
type Macro struct {
	ResourceBase
	MacroSQL  string         `json:"macro_sql,omitempty"`
	DependsOn MacroDependsOn `json:"depends_on"`
}

// MacroDependsOn lists the macros a macro calls.
type MacroDependsOn struct {
	Macros []string `json:"macros"`
}

// Doc is a manifest entry for a documentation block.
type Doc struct {
	ResourceBase
	BlockContents string `json:"block_contents,omitempty"`
}

// Exposure is a manifest entry for a downstream exposure.
type Exposure struct {
	ResourceBase
	FQN       []string  `json:"fqn,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	DependsOn DependsOn `json:"depends_on"`
}

// Metric is a manifest entry for a metric definition.
type Metric struct {
	ResourceBase
	FQN       []string  `json:"fqn,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	DependsOn DependsOn `json:"depends_on"`
}

// SemanticModel is a manifest entry for a semantic model definition.
type SemanticModel struct {
	ResourceBase
	FQN       []string  `json:"fqn,omitempty"`
	DependsOn DependsOn `json:"depends_on"`
}

// Owner identifies the owner of a dbt group. dbt accepts arbitrary extra
// owner properties beyond name and email.
type Owner struct {
	Name       string
	Email      string
	Properties map[string]any
}

func (o *Owner) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if name, ok := raw["name"].(string); ok {
		o.Name = name
	}
	if email, ok := raw["email"].(string); ok {
		o.Email = email
	}
	delete(raw, "name")
	delete(raw, "email")
	if len(raw) > 0 {
		o.Properties = raw
	}
	return nil
}

func (o Owner) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Map())
}

// Map returns the owner as the mapping written to a group properties entry.
func (o Owner) Map() map[string]any {
	out := make(map[string]any, len(o.Properties)+2)
	if o.Name != "" {
		out["name"] = o.Name
	}
	if o.Email != "" {
		out["email"] = o.Email
	}
	for key, value := range o.Properties {
		out[key] = value
	}
	return out
}

// Group is a manifest entry for a dbt group definition.
type Group struct {
	ResourceBase
	Owner Owner `json:"owner"`
}

// ManifestMetadata describes the project that produced a manifest.
type ManifestMetadata struct {
	ProjectName string `json:"project_name"`
	ProjectID   string `json:"project_id"`
	AdapterType string `json:"adapter_type,omitempty"`
	DbtVersion  string `json:"dbt_version,omitempty"`
}

// Manifest is the subset of dbt's manifest.json that meshify reads.
type Manifest struct {
	Metadata       ManifestMetadata          `json:"metadata"`
	Nodes          map[string]*Node          `json:"nodes"`
	Sources        map[string]*Source        `json:"sources"`
	Macros         map[string]*Macro         `json:"macros"`
	Docs           map[string]*Doc           `json:"docs"`
	Exposures      map[string]*Exposure      `json:"exposures"`
	Metrics        map[string]*Metric        `json:"metrics"`
	Groups         map[string]*Group         `json:"groups"`
	SemanticModels map[string]*SemanticModel `json:"semantic_models"`
	ParentMap      map[string][]string       `json:"parent_map"`
	ChildMap       map[string][]string       `json:"child_map"`
}

// LoadManifest reads a manifest.json produced by dbt parse.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return &manifest, nil
}

// Resource returns the manifest entry with the given unique ID.
func (m *Manifest) Resource(uniqueID string) (Resource, bool) {
	switch TypeFromID(uniqueID) {
	case ResourceTypeSource:
		r, ok := m.Sources[uniqueID]
		return r, ok
	case ResourceTypeMacro:
		r, ok := m.Macros[uniqueID]
		return r, ok
	case ResourceTypeDoc:
		r, ok := m.Docs[uniqueID]
		return r, ok
	case ResourceTypeExposure:
		r, ok := m.Exposures[uniqueID]
		return r, ok
	case ResourceTypeMetric:
		r, ok := m.Metrics[uniqueID]
		return r, ok
	case ResourceTypeGroup:
		r, ok := m.Groups[uniqueID]
		return r, ok
	case ResourceTypeSemanticModel:
		r, ok := m.SemanticModels[uniqueID]
		return r, ok
	default:
		r, ok := m.Nodes[uniqueID]
		return r, ok
	}
}

// Models returns the manifest's model nodes keyed by unique ID.
func (m *Manifest) Models() map[string]*Node {
	models := make(map[string]*Node)
	for id, node := range m.Nodes {
		if node.ResourceType == ResourceTypeModel {
			models[id] = node
		}
	}
	return models
}

// SelectableResources returns every manifest entry subject to node
// selection, sorted by unique ID for deterministic iteration.
func (m *Manifest) SelectableResources() []Resource {
	out := make([]Resource, 0, len(m.Nodes)+len(m.Sources)+len(m.Exposures)+len(m.Metrics)+len(m.SemanticModels))
	for _, r := range m.Nodes {
		out = append(out, r)
	}
	for _, r := range m.Sources {
		out = append(out, r)
	}
	for _, r := range m.Exposures {
		out = append(out, r)
	}
	for _, r := range m.Metrics {
		out = append(out, r)
	}
	for _, r := range m.SemanticModels {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Base().UniqueID < out[j].Base().UniqueID
	})
	return out
}

// ModelRelationNames maps lowercased relation names to model unique IDs.
func (m *Manifest) ModelRelationNames() map[string]string {
	relations := make(map[string]string)
	for id, node := range m.Nodes {
		if node.ResourceType != ResourceTypeModel || node.RelationName == "" {
			continue
		}
		relations[strings.ToLower(node.RelationName)] = id
	}
	return relations
}

// SourceRelationNames maps lowercased relation names to source unique IDs.
func (m *Manifest) SourceRelationNames() map[string]string {
	relations := make(map[string]string)
	for id, source := range m.Sources {
		if source.RelationName == "" {
			continue
		}
		relations[strings.ToLower(source.RelationName)] = id
	}
	return relations
}

// InstalledPackages returns the project IDs of every package that
// contributed entries to this manifest.
func (m *Manifest) InstalledPackages() map[string]struct{} {
	packages := make(map[string]struct{})
	add := func(packageName string) {
		if packageName != "" {
			packages[ProjectID(packageName)] = struct{}{}
		}
	}
	for _, n := range m.Nodes {
		add(n.PackageName)
	}
	for _, s := range m.Sources {
		add(s.PackageName)
	}
	for _, e := range m.Exposures {
		add(e.PackageName)
	}
	for _, mt := range m.Metrics {
		add(mt.PackageName)
	}
	for _, mc := range m.Macros {
		add(mc.PackageName)
	}
	return packages
}

// ProjectID derives the identifier dbt assigns to a project with the given
// name. dbt hashes project names so manifests can reference packages
// without embedding their configuration.
func ProjectID(projectName string) string {
	sum := md5.Sum([]byte(projectName))
	return hex.EncodeToString(sum[:])
}
