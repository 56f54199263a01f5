package cache

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolveTTLs(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[Partition]string
		want      map[Partition]int
		warns     int
	}{
		{
			name: "no overrides",
			want: map[Partition]int{PartitionPlaces: 8760, PartitionImages: 8760, PartitionSearches: 8760, PartitionDefault: 8760},
		},
		{
			name:      "valid override",
			overrides: map[Partition]string{PartitionSearches: "24", PartitionImages: " 720 "},
			want:      map[Partition]int{PartitionPlaces: 8760, PartitionImages: 720, PartitionSearches: 24},
		},
		{
			name:      "garbage falls back",
			overrides: map[Partition]string{PartitionPlaces: "abc"},
			want:      map[Partition]int{PartitionPlaces: 8760},
			warns:     1,
		},
		{
			name:      "negative falls back",
			overrides: map[Partition]string{PartitionPlaces: "-5"},
			want:      map[Partition]int{PartitionPlaces: 8760},
			warns:     1,
		},
		{
			name:      "zero means unset",
			overrides: map[Partition]string{PartitionImages: "0"},
			want:      map[Partition]int{PartitionImages: 8760},
		},
		{
			name:      "very large accepted with warning",
			overrides: map[Partition]string{PartitionDefault: "100000"},
			want:      map[Partition]int{PartitionDefault: 100000},
			warns:     1,
		},
		{
			name:      "beyond duration range capped",
			overrides: map[Partition]string{PartitionSearches: "3000000"},
			want:      map[Partition]int{PartitionSearches: MaxTTLHours},
			warns:     1,
		},
		{
			name:      "at duration range kept",
			overrides: map[Partition]string{PartitionImages: "2562047"},
			want:      map[Partition]int{PartitionImages: 2562047},
			warns:     1,
		},
		{
			name:      "fractional rejected",
			overrides: map[Partition]string{PartitionSearches: "1.5"},
			want:      map[Partition]int{PartitionSearches: 8760},
			warns:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&logs, nil))

			got := ResolveTTLs(tt.overrides, logger)
			for p, h := range tt.want {
				assert.Equal(t, h, got[p], "partition %s", p)
			}
			assert.Equal(t, tt.warns, strings.Count(logs.String(), "level=WARN"))
		})
	}
}

func TestTTLs_HoursFallback(t *testing.T) {
	ttls := TTLs{PartitionDefault: 48}
	assert.Equal(t, 48, ttls.Hours(PartitionPlaces))
	assert.Equal(t, 48*time.Hour, ttls.For(PartitionImages))

	assert.Equal(t, DefaultTTLHours, TTLs{}.Hours(PartitionSearches))
	assert.Equal(t, DefaultTTLHours, TTLs(nil).Hours("unknown"))
}

func TestFormatHours(t *testing.T) {
	tests := []struct {
		hours int
		want  string
	}{
		{0, "0 hours"},
		{1, "1 hour"},
		{12, "12 hours"},
		{24, "1 day"},
		{168, "7 days"},
		{720, "30 days"},
		{8760, "1 year"},
		{8784, "1 year 1 day"},
		{87600, "10 years"},
		{17640, "2 years 5 days"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatHours(tt.hours), "hours=%d", tt.hours)
	}
}

func TestTTLs_Report(t *testing.T) {
	ttls := ResolveTTLs(map[Partition]string{PartitionSearches: "24"}, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	report := ttls.Report()

	assert.Contains(t, report, "searches")
	assert.Contains(t, report, "(1 day)")
	assert.Contains(t, report, "(1 year)")
	assert.Equal(t, len(ConfiguredPartitions)+1, strings.Count(report, "\n"))
}

func TestTTLs_LogSummary(t *testing.T) {
	var logs bytes.Buffer
	DefaultTTLs().LogSummary(slog.New(slog.NewTextHandler(&logs, nil)))

	out := logs.String()
	assert.Contains(t, out, "cache TTLs resolved")
	assert.Contains(t, out, `places="1 year"`)
}

func TestTTLs_ForNeverOverflows(t *testing.T) {
	ttls := TTLs{PartitionSearches: MaxTTLHours + 1000, PartitionPlaces: MaxTTLHours}
	assert.Equal(t, time.Duration(MaxTTLHours)*time.Hour, ttls.For(PartitionSearches))
	assert.Positive(t, ttls.For(PartitionPlaces))
}
