package model

import (
	"encoding/json"
	"fmt"
)

// CanonicalJSON serializes the spec into its canonical form: keys sorted
// lexicographically at every nesting level, absent optional fields omitted,
// no insignificant whitespace. Two specs describing the same edits always
// produce the same bytes, which makes the output usable as a cache key
// component.
func (s *TransformationSpec) CanonicalJSON() ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal spec: %w", err)
	}

	// Round-tripping through a generic map sorts the keys: encoding/json
	// writes map keys in lexicographic order, and nested objects decode
	// into nested maps, so the ordering applies recursively.
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("rebuild spec tree: %w", err)
	}

	canonical, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical spec: %w", err)
	}
	return canonical, nil
}
