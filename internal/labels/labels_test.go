package labels

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"Tomato___healthy": 2, "Apple___Apple_scab": 0, "Apple___Black_rot": 1}`), 0o600))

	l, err := Load(path, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"Apple___Apple_scab", "Apple___Black_rot", "Tomato___healthy"}, l.All())

	name, ok := l.Name(2)
	assert.True(t, ok)
	assert.Equal(t, "Tomato___healthy", name)
	_, ok = l.Name(3)
	assert.False(t, ok)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"), 3)
	assert.ErrorContains(t, err, "read labels")

	path := filepath.Join(t.TempDir(), "labels.json")
	require.NoError(t, os.WriteFile(path, []byte(`["a", "b"]`), 0o600))
	_, err = Load(path, 2)
	assert.ErrorContains(t, err, "parse labels")
}

func TestFromMappingValidation(t *testing.T) {
	tests := []struct {
		name    string
		mapping map[string]float64
		wantMsg string
	}{
		{"wrong count", map[string]float64{"a": 0}, "expected 2 classes, found 1"},
		{"fractional index", map[string]float64{"a": 0, "b": 0.5}, "non-integer index"},
		{"out of range", map[string]float64{"a": 0, "b": 2}, "outside [0, 2)"},
		{"duplicate", map[string]float64{"a": 1, "b": 1}, "duplicate class index 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromMapping(tt.mapping, 2)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestNilLabels(t *testing.T) {
	var l *Labels
	_, ok := l.Name(0)
	assert.False(t, ok)
	assert.Nil(t, l.All())
}
