package exchangelog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Stats summarises the records of one itinerary.
type Stats struct {
	ItineraryID   string    `json:"itinerary_id,omitempty"`
	RequestCount  int       `json:"request_count"`
	ResponseCount int       `json:"response_count"`
	ErrorCount    int       `json:"error_count"`
	FileCount     int       `json:"file_count"`
	TotalBytes    int64     `json:"total_bytes"`
	TotalTokens   int64     `json:"total_tokens"`
	Oldest        time.Time `json:"oldest,omitzero"`
	Newest        time.Time `json:"newest,omitzero"`
}

func (s *Stats) merge(o Stats) {
	s.RequestCount += o.RequestCount
	s.ResponseCount += o.ResponseCount
	s.ErrorCount += o.ErrorCount
	s.FileCount += o.FileCount
	s.TotalBytes += o.TotalBytes
	s.TotalTokens += o.TotalTokens
	s.observe(o.Oldest)
	s.observe(o.Newest)
}

func (s *Stats) observe(t time.Time) {
	if t.IsZero() {
		return
	}
	if s.Oldest.IsZero() || t.Before(s.Oldest) {
		s.Oldest = t
	}
	if s.Newest.IsZero() || t.After(s.Newest) {
		s.Newest = t
	}
}

// AllStats summarises every itinerary.
type AllStats struct {
	Itineraries []Stats `json:"itineraries"`
	Total       Stats   `json:"total"`
}

// Stats reports the records of one itinerary. An itinerary without records
// yields zero stats.
func (l *Log) Stats(itineraryID string) (Stats, error) {
	if !validItinerary(itineraryID) {
		return Stats{}, fmt.Errorf("invalid itinerary id %q", itineraryID)
	}

	stats := Stats{ItineraryID: itineraryID}
	dir := filepath.Join(l.dir, itineraryID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return stats, nil
		}
		return stats, fmt.Errorf("failed to list exchange log %s: %w", itineraryID, err)
	}

	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		name := de.Name()

		stats.FileCount++
		stats.TotalBytes += info.Size()
		stats.observe(info.ModTime())

		switch {
		case strings.HasPrefix(name, requestPrefix):
			stats.RequestCount++
		case strings.HasPrefix(name, responsePrefix):
			stats.ResponseCount++
			b, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				l.logger.Debug("skipping unreadable exchange response", "file", name, "error", err)
				continue
			}
			if gjson.GetBytes(b, "error").String() != "" {
				stats.ErrorCount++
			}
			stats.TotalTokens += gjson.GetBytes(b, "usage.total_tokens").Int()
		}
	}
	return stats, nil
}

// AllStats reports every itinerary, sorted by id, and their totals.
func (l *Log) AllStats() (AllStats, error) {
	all := AllStats{Itineraries: []Stats{}}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return all, nil
		}
		return all, fmt.Errorf("failed to list exchange log: %w", err)
	}

	for _, de := range entries {
		if !de.IsDir() || !validItinerary(de.Name()) {
			continue
		}
		s, err := l.Stats(de.Name())
		if err != nil {
			return all, err
		}
		all.Itineraries = append(all.Itineraries, s)
		all.Total.merge(s)
	}

	sort.Slice(all.Itineraries, func(i, j int) bool {
		return all.Itineraries[i].ItineraryID < all.Itineraries[j].ItineraryID
	})
	return all, nil
}
