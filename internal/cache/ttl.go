package cache

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTTLHours is the TTL of every partition without an override (365 days).
	DefaultTTLHours = 8760

	// LargeTTLHours is the threshold above which an override is flagged (10 years).
	LargeTTLHours = 10 * DefaultTTLHours

	// MaxTTLHours is the largest TTL a time.Duration can hold (about 292 years).
	MaxTTLHours = int(math.MaxInt64 / int64(time.Hour))
)

// ConfiguredPartitions lists the partitions that accept a TTL override.
var ConfiguredPartitions = []Partition{PartitionPlaces, PartitionImages, PartitionSearches, PartitionDefault}

// TTLs maps each partition to its TTL in whole hours.
type TTLs map[Partition]int

// DefaultTTLs returns the TTLs used when no override is configured.
func DefaultTTLs() TTLs {
	t := make(TTLs, len(ConfiguredPartitions))
	for _, p := range ConfiguredPartitions {
		t[p] = DefaultTTLHours
	}
	return t
}

// ResolveTTLs applies environment-style overrides (integer hours) over the defaults.
// Unparseable and negative values fall back to the default with a warning; values
// above ten years are accepted but flagged, and values above MaxTTLHours are
// capped to it. An empty or zero value means "not set".
func ResolveTTLs(overrides map[Partition]string, logger *slog.Logger) TTLs {
	if logger == nil {
		logger = slog.Default()
	}

	ttls := DefaultTTLs()
	for _, p := range ConfiguredPartitions {
		raw := strings.TrimSpace(overrides[p])
		if raw == "" {
			continue
		}

		hours, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			logger.Warn("invalid cache TTL override, using default",
				"partition", p, "value", raw, "default_hours", DefaultTTLHours)
		case hours < 0:
			logger.Warn("negative cache TTL override, using default",
				"partition", p, "value", hours, "default_hours", DefaultTTLHours)
		case hours == 0:
			// unset
		case hours > MaxTTLHours:
			logger.Warn("cache TTL override exceeds the maximum, capping",
				"partition", p, "value", hours, "max_hours", MaxTTLHours)
			ttls[p] = MaxTTLHours
		default:
			if hours > LargeTTLHours {
				logger.Warn("cache TTL override exceeds ten years",
					"partition", p, "hours", hours, "ttl", FormatHours(hours))
			}
			ttls[p] = hours
		}
	}
	return ttls
}

// Hours returns the TTL of p in hours. Unknown partitions use the default partition.
func (t TTLs) Hours(p Partition) int {
	if h, ok := t[p]; ok && h > 0 {
		return h
	}
	if h, ok := t[PartitionDefault]; ok && h > 0 {
		return h
	}
	return DefaultTTLHours
}

// For returns the TTL of p as a duration, capped at MaxTTLHours.
func (t TTLs) For(p Partition) time.Duration {
	return time.Duration(min(t.Hours(p), MaxTTLHours)) * time.Hour
}

// Report renders the TTLs as one line per partition.
func (t TTLs) Report() string {
	var b strings.Builder
	b.WriteString("Cache TTL configuration:\n")
	for _, p := range ConfiguredPartitions {
		h := t.Hours(p)
		fmt.Fprintf(&b, "  %-9s %6dh (%s)\n", p, h, FormatHours(h))
	}
	return b.String()
}

// LogSummary writes the TTLs to logger at info level.
func (t TTLs) LogSummary(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	args := make([]any, 0, 2*len(ConfiguredPartitions))
	for _, p := range ConfiguredPartitions {
		args = append(args, string(p), FormatHours(t.Hours(p)))
	}
	logger.Info("cache TTLs resolved", args...)
}

// FormatHours renders a number of hours for humans: "12 hours", "30 days",
// "1 year", "2 years 5 days".
func FormatHours(hours int) string {
	if hours < 24 {
		return plural(hours, "hour")
	}

	days := hours / 24
	if days < 365 {
		return plural(days, "day")
	}

	years, rest := days/365, days%365
	if rest == 0 {
		return plural(years, "year")
	}
	return plural(years, "year") + " " + plural(rest, "day")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
