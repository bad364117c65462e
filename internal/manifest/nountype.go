package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TypeField is the JSON key that carries entity type information.
const TypeField = "@type"

// ErrNoType indicates JSON content without a usable @type field.
var ErrNoType = errors.New("manifest: no @type in JSON noun")

// ExtractTypes returns the entity types embedded in a JSON object's @type
// field, which may be a string or an array of strings.
func ExtractTypes(content string) ([]string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &obj); err != nil {
		return nil, fmt.Errorf("invalid JSON noun: %w", err)
	}
	raw, ok := obj[TypeField]
	if !ok {
		return nil, ErrNoType
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		types := NormalizeAll([]string{single})
		if len(types) == 0 {
			return nil, ErrNoType
		}
		return types, nil
	}

	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, fmt.Errorf("%w: must be a string or array of strings", ErrNoType)
	}
	types := NormalizeAll(many)
	if len(types) == 0 {
		return nil, ErrNoType
	}
	return types, nil
}
