// Package stats summarizes the registry's contents for reporting. The
// reporter is a pure read-only fold with no side effects.
package stats

import (
	"log"
	"os"

	"github.com/zots0127/tempstore/pkg/clock"
	"github.com/zots0127/tempstore/pkg/registry"
	"github.com/zots0127/tempstore/pkg/types"
)

// Reporter aggregates registry contents into summary statistics
type Reporter struct {
	registry *registry.Registry
	clock    clock.Clock
	logger   *log.Logger
}

// NewReporter creates a stats reporter over the given registry
func NewReporter(reg *registry.Registry, clk clock.Clock) *Reporter {
	return &Reporter{
		registry: reg,
		clock:    clk,
		logger:   log.New(os.Stdout, "[StatsReporter] ", log.LstdFlags),
	}
}

// Summarize folds every tracked file into a StorageStats snapshot
func (r *Reporter) Summarize() *types.StorageStats {
	files := r.registry.All()

	stats := &types.StorageStats{
		TotalFiles:  len(files),
		ByStatus:    make(map[types.FileStatus]int),
		ByMimeType:  make(map[string]int),
		ByUser:      make(map[string]types.UserUsage),
		GeneratedAt: r.clock.Now(),
	}

	for _, f := range files {
		stats.TotalSize += f.FileSize
		stats.ByStatus[f.Status]++
		stats.ByMimeType[f.MimeType]++

		usage := stats.ByUser[f.UserID]
		usage.Count++
		usage.Size += f.FileSize
		stats.ByUser[f.UserID] = usage

		if f.FileSize > stats.LargestFileSize {
			stats.LargestFileSize = f.FileSize
		}
		if stats.OldestFileAt == nil || f.CreatedAt.Before(*stats.OldestFileAt) {
			created := f.CreatedAt
			stats.OldestFileAt = &created
		}
	}

	if stats.TotalFiles > 0 {
		stats.AverageFileSize = stats.TotalSize / int64(stats.TotalFiles)
	}

	return stats
}
