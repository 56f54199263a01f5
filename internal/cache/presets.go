package cache

import (
	"sort"
	"strconv"
)

// Preset is a suggested TTL configuration. Presets are reference data for
// operators; nothing applies them automatically.
type Preset struct {
	Name          string `yaml:"name" json:"name"`
	Description   string `yaml:"description" json:"description"`
	PlacesHours   int    `yaml:"places_hours" json:"places_hours"`
	ImagesHours   int    `yaml:"images_hours" json:"images_hours"`
	SearchesHours int    `yaml:"searches_hours" json:"searches_hours"`
}

var presets = map[string]Preset{
	"development": {
		Name:          "development",
		Description:   "short TTLs so API changes show up quickly",
		PlacesHours:   24,
		ImagesHours:   168,
		SearchesHours: 1,
	},
	"staging": {
		Name:          "staging",
		Description:   "close to production, refreshes weekly",
		PlacesHours:   168,
		ImagesHours:   720,
		SearchesHours: 24,
	},
	"production": {
		Name:          "production",
		Description:   "maximum reuse; entries live for a year",
		PlacesHours:   DefaultTTLHours,
		ImagesHours:   DefaultTTLHours,
		SearchesHours: DefaultTTLHours,
	},
	"production-conservative": {
		Name:          "production-conservative",
		Description:   "fresher place details at a higher API cost",
		PlacesHours:   720,
		ImagesHours:   2160,
		SearchesHours: 168,
	},
}

// Presets returns every preset sorted by name.
func Presets() []Preset {
	out := make([]Preset, 0, len(presets))
	for _, p := range presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LookupPreset returns the preset with the given name.
func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[name]
	return p, ok
}

// Overrides renders the preset as the override map ResolveTTLs accepts.
func (p Preset) Overrides() map[Partition]string {
	return map[Partition]string{
		PartitionPlaces:   strconv.Itoa(p.PlacesHours),
		PartitionImages:   strconv.Itoa(p.ImagesHours),
		PartitionSearches: strconv.Itoa(p.SearchesHours),
	}
}
