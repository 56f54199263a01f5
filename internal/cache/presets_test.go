package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestPresets(t *testing.T) {
	all := Presets()
	require.Len(t, all, 4)
	assert.Equal(t, "development", all[0].Name)
	assert.Equal(t, "staging", all[3].Name)

	for _, p := range all {
		assert.Positive(t, p.PlacesHours, p.Name)
		assert.Positive(t, p.ImagesHours, p.Name)
		assert.Positive(t, p.SearchesHours, p.Name)
	}
}

func TestLookupPreset(t *testing.T) {
	p, ok := LookupPreset("development")
	require.True(t, ok)
	assert.Equal(t, 1, p.SearchesHours)

	_, ok = LookupPreset("turbo")
	assert.False(t, ok)
}

func TestPreset_OverridesResolve(t *testing.T) {
	p, _ := LookupPreset("production-conservative")
	ttls := ResolveTTLs(p.Overrides(), nil)

	assert.Equal(t, 720, ttls.Hours(PartitionPlaces))
	assert.Equal(t, 2160, ttls.Hours(PartitionImages))
	assert.Equal(t, 168, ttls.Hours(PartitionSearches))
	assert.Equal(t, DefaultTTLHours, ttls.Hours(PartitionDefault))
}

func TestPreset_YAML(t *testing.T) {
	p, _ := LookupPreset("staging")
	out, err := yaml.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(out), "places_hours: 168")

	var back Preset
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, p, back)
}
