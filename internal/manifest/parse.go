package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingBinary indicates a manifest without a binary field.
	ErrMissingBinary = errors.New("manifest: binary is required")
	// ErrMissingVerb indicates a manifest without a verb field.
	ErrMissingVerb = errors.New("manifest: verb is required")
)

// Format selects the manifest encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFor picks the encoding from a file name. Anything that is not
// .yaml or .yml is read as JSON, including files without an extension.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Parse decodes and validates a single manifest.
func Parse(data []byte, format Format) (Entry, error) {
	var e Entry
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &e); err != nil {
			return Entry{}, fmt.Errorf("invalid manifest YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &e); err != nil {
			return Entry{}, fmt.Errorf("invalid manifest JSON: %w", err)
		}
	}
	e = e.Normalized()
	if e.Binary == "" {
		return Entry{}, ErrMissingBinary
	}
	if e.Verb == "" {
		return Entry{}, ErrMissingVerb
	}
	for i, c := range e.NounConstraints {
		if c.Name == "" {
			return Entry{}, fmt.Errorf("manifest: noun constraint %d has no name", i)
		}
	}
	return e, nil
}

// ParseFile reads and parses the manifest at path.
func ParseFile(path string) (Entry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, fmt.Errorf("cannot read manifest %s: %w", path, err)
	}
	e, err := Parse(b, FormatFor(path))
	if err != nil {
		return Entry{}, fmt.Errorf("%s: %w", path, err)
	}
	return e, nil
}

// EntryID derives a manifest entry id from its file path.
func EntryID(path string) string {
	return filepath.Base(path)
}
