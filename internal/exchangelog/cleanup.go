package exchangelog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultRetentionDays is used by Cleanup when no age is given.
const DefaultRetentionDays = 30

// CleanupResult reports what Cleanup removed and what it could not.
type CleanupResult struct {
	Deleted int      `json:"deleted"`
	Errors  []string `json:"errors,omitempty"`
}

// Cleanup deletes records last modified more than olderThanDays days ago
// (DefaultRetentionDays when olderThanDays <= 0). With an empty itineraryID
// every itinerary is swept. Per-file failures are collected, not fatal;
// directories left empty are removed.
func (l *Log) Cleanup(ctx context.Context, olderThanDays int, itineraryID string) CleanupResult {
	if olderThanDays <= 0 {
		olderThanDays = DefaultRetentionDays
	}
	cutoff := l.clock.Now().AddDate(0, 0, -olderThanDays)

	var res CleanupResult
	if itineraryID != "" {
		if !validItinerary(itineraryID) {
			res.Errors = append(res.Errors, fmt.Sprintf("invalid itinerary id %q", itineraryID))
			return res
		}
		l.cleanupDir(ctx, filepath.Join(l.dir, itineraryID), cutoff, &res)
	} else {
		entries, err := os.ReadDir(l.dir)
		if err != nil && !os.IsNotExist(err) {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", l.dir, err))
		}
		for _, de := range entries {
			if de.IsDir() {
				l.cleanupDir(ctx, filepath.Join(l.dir, de.Name()), cutoff, &res)
			}
		}
	}

	if res.Deleted > 0 || len(res.Errors) > 0 {
		l.logger.Info("exchange log cleanup finished",
			"deleted", res.Deleted, "errors", len(res.Errors), "older_than_days", olderThanDays)
	}
	return res
}

func (l *Log) cleanupDir(ctx context.Context, dir string, cutoff time.Time, res *CleanupResult) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", dir, err))
		}
		return
	}

	remaining := 0
	for _, de := range entries {
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, ctx.Err().Error())
			return
		}
		path := filepath.Join(dir, de.Name())
		if de.IsDir() {
			remaining++
			continue
		}
		info, err := de.Info()
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", path, err))
			remaining++
			continue
		}
		if !info.ModTime().Before(cutoff) {
			remaining++
			continue
		}
		if err := os.Remove(path); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", path, err))
			remaining++
			continue
		}
		res.Deleted++
	}

	if remaining == 0 {
		os.Remove(dir)
	}
}
