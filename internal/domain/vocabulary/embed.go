package vocabulary

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed default_vocabulary.yaml
var defaultVocabularyYAML []byte

// LoadDefault parses the built-in vocabulary file embedded in the binary.
// Operators may override it entirely with Load(path) pointed at a custom
// file; LoadDefault exists so the gateway can start with a sane vocabulary
// when none is configured, matching spec.md §6's "must load cleanly at
// process start" contract without requiring an on-disk file for the common
// case.
func LoadDefault() (*Registry, error) {
	var f File
	if err := yaml.Unmarshal(defaultVocabularyYAML, &f); err != nil {
		return nil, fmt.Errorf("vocabulary: parse embedded default: %w", err)
	}
	return New(&f)
}
