package cleanup

import (
	"context"
	"log"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/zots0127/tempstore/pkg/clock"
	"github.com/zots0127/tempstore/pkg/metrics"
	"github.com/zots0127/tempstore/pkg/registry"
	"github.com/zots0127/tempstore/pkg/session"
	"github.com/zots0127/tempstore/pkg/types"
)

// Janitor scans the registry on demand or on schedule, asks the policy
// engine whether each file qualifies, deletes matches and produces a
// structured report. One sweep runs at a time; an overlapping trigger
// is skipped rather than queued.
type Janitor struct {
	registry *registry.Registry
	engine   *Engine
	sessions *session.Aggregator
	history  *HistoryStore // nil when history is disabled
	clock    clock.Clock
	logger   *log.Logger

	pruneSessions bool

	mu      sync.Mutex
	running bool
}

// NewJanitor wires a janitor. history may be nil.
func NewJanitor(reg *registry.Registry, engine *Engine, sessions *session.Aggregator,
	history *HistoryStore, clk clock.Clock, pruneSessions bool) *Janitor {
	return &Janitor{
		registry:      reg,
		engine:        engine,
		sessions:      sessions,
		history:       history,
		clock:         clk,
		logger:        log.New(os.Stdout, "[Janitor] ", log.LstdFlags),
		pruneSessions: pruneSessions,
	}
}

// Sweep runs one scan-and-delete cycle. Dry-run sweeps count matches
// exactly like live sweeps but delete nothing. Per-file errors are
// collected in the result and never abort the remainder of the scan.
// A concurrent sweep in progress returns (nil, false).
func (j *Janitor) Sweep(ctx context.Context, req *types.CleanupRequest) (*types.CleanupResult, bool) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		metrics.SweepsSkipped.Inc()
		j.logger.Printf("Sweep already in progress, skipping")
		return nil, false
	}
	j.running = true
	j.mu.Unlock()

	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	if req == nil {
		req = &types.CleanupRequest{}
	}

	now := j.clock.Now()
	result := &types.CleanupResult{
		CleanupID: uuid.New().String(),
		StartedAt: now,
		DryRun:    req.DryRun,
		Summary: types.CleanupSummary{
			ByStatus: make(map[types.FileStatus]int),
			ByAge:    make(map[string]int),
		},
	}

	files := j.registry.All()
	result.FilesScanned = len(files)

	reasons := make(map[string]bool)

	for _, f := range files {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, "sweep aborted: "+ctx.Err().Error())
			break
		}

		shouldDelete, reason := j.engine.ShouldDelete(f, req, now)
		if !shouldDelete {
			continue
		}

		reasons[reason] = true
		result.Summary.ByStatus[f.Status]++
		result.Summary.ByAge[types.AgeBucket(f.AgeHours(now))]++

		if req.DryRun {
			continue
		}

		// Delete errors only on storage failure; the record is removed
		// from the registry either way, so the file still counts as
		// deleted and its bytes as reclaimed.
		if err := j.registry.Delete(ctx, f.ID); err != nil {
			result.Errors = append(result.Errors, err.Error())
			metrics.SweepErrorsTotal.Inc()
		}
		result.FilesDeleted++
		result.BytesReclaimed += f.FileSize
		if f.FileSize > result.Summary.LargestFileDeleted {
			result.Summary.LargestFileDeleted = f.FileSize
		}
	}

	if !req.DryRun && j.pruneSessions {
		j.sessions.PruneExpired()
	}

	result.PolicyApplied = joinReasons(reasons)
	result.CompletedAt = j.clock.Now()

	metrics.FilesDeletedTotal.Add(float64(result.FilesDeleted))
	metrics.BytesReclaimedTotal.Add(float64(result.BytesReclaimed))
	metrics.SweepDuration.Observe(result.CompletedAt.Sub(result.StartedAt).Seconds())
	metrics.FilesTracked.Set(float64(j.registry.Count()))

	if j.history != nil {
		if err := j.history.Record(result); err != nil {
			j.logger.Printf("Failed to record sweep %s in history: %v", result.CleanupID, err)
		}
	}

	j.logger.Printf("Sweep %s: scanned %d, deleted %d, reclaimed %d bytes, %d errors (dry-run=%v)",
		result.CleanupID, result.FilesScanned, result.FilesDeleted,
		result.BytesReclaimed, len(result.Errors), req.DryRun)

	return result, true
}

// joinReasons renders the distinct match reasons as a stable label
func joinReasons(reasons map[string]bool) string {
	if len(reasons) == 0 {
		return "none"
	}
	out := make([]string, 0, len(reasons))
	for r := range reasons {
		out = append(out, r)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}
