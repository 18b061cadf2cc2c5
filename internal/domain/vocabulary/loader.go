package vocabulary

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk declarative vocabulary schema (spec.md §6). It must
// load cleanly at process start; a schema mismatch is fatal, mirroring the
// teacher's internal/config validation posture.
type File struct {
	Version    string          `yaml:"version"`
	Metadata   map[string]any  `yaml:"metadata"`
	Vocabulary VocabularyBlock `yaml:"vocabulary"`
	// Templates maps slot name -> variant name -> format string.
	Templates map[string]map[string]string `yaml:"templates"`
	// ExtractionRules and Examples support LLM-assisted rule authoring in
	// the wider system; the core treats them as opaque passthrough data.
	ExtractionRules map[string]any `yaml:"extraction_rules"`
	Examples        []any          `yaml:"examples"`
}

// VocabularyBlock holds the closed-set keyword tables.
type VocabularyBlock struct {
	Actions           map[string]entry `yaml:"actions"`
	ResourceTypes     map[string]entry `yaml:"resource_types"`
	SensitivityLevels map[string]entry `yaml:"sensitivity_levels"`
	Volumes           map[string]entry `yaml:"volumes"`
	AuthnLevels       map[string]entry `yaml:"authn_levels"`
}

// LoadFile reads and parses a vocabulary YAML file from disk.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vocabulary: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("vocabulary: parse %s: %w", path, err)
	}
	if f.Version == "" {
		return nil, fmt.Errorf("vocabulary: %s missing required top-level 'version'", path)
	}
	return &f, nil
}

// Load reads path and builds an immutable Registry from it. Intended to be
// called exactly once, during process bootstrap.
func Load(path string) (*Registry, error) {
	f, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return New(f)
}

// entryYAML mirrors the on-disk {keywords: [...]} shape for entry.
type entryYAML struct {
	Keywords []string `yaml:"keywords"`
}

// UnmarshalYAML adapts the on-disk {keywords: [...]} shape to entry.
func (e *entry) UnmarshalYAML(node *yaml.Node) error {
	var y entryYAML
	if err := node.Decode(&y); err != nil {
		return err
	}
	e.Keywords = y.Keywords
	return nil
}
