// Package labels maps output class indices to human-readable class names.
//
// The label file is a JSON object from class name to class index, e.g.
// {"Apple___Apple_scab": 0, "Apple___Black_rot": 1}.
package labels

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

type Labels struct {
	names []string
}

// Load reads the label file at path and checks that it names exactly
// classCount classes with the indices 0..classCount-1.
func Load(path string, classCount int) (*Labels, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	var mapping map[string]float64
	if err := json.Unmarshal(raw, &mapping); err != nil {
		return nil, fmt.Errorf("parse labels: %w", err)
	}
	return FromMapping(mapping, classCount)
}

func FromMapping(mapping map[string]float64, classCount int) (*Labels, error) {
	if len(mapping) != classCount {
		return nil, fmt.Errorf("expected %d classes, found %d", classCount, len(mapping))
	}
	names := make([]string, classCount)
	for label, index := range mapping {
		if index != math.Trunc(index) {
			return nil, fmt.Errorf("class %q has non-integer index %v", label, index)
		}
		i := int(index)
		if i < 0 || i >= classCount {
			return nil, fmt.Errorf("class %q has index %d outside [0, %d)", label, i, classCount)
		}
		if names[i] != "" {
			return nil, fmt.Errorf("duplicate class index %d (%q and %q)", i, names[i], label)
		}
		names[i] = label
	}
	return &Labels{names: names}, nil
}

// Name returns the label of class i. A nil *Labels has no names.
func (l *Labels) Name(i int) (string, bool) {
	if l == nil || i < 0 || i >= len(l.names) {
		return "", false
	}
	return l.names[i], true
}

// All returns the labels in index order, or nil for a nil *Labels.
func (l *Labels) All() []string {
	if l == nil {
		return nil
	}
	return append([]string(nil), l.names...)
}
