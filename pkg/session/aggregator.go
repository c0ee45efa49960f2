// Package session maintains per-session rollups over the files that
// belong to an upload session. Every derived field is a pure function of
// the current member files; the aggregator recomputes them on each
// registry mutation instead of keeping increment/decrement call sites.
package session

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/zots0127/tempstore/pkg/clock"
	"github.com/zots0127/tempstore/pkg/types"
)

// Aggregator owns the session map. Sessions are created lazily on the
// first file of a session and retained after their files are gone;
// expired empty sessions can be pruned explicitly (see PruneExpired).
type Aggregator struct {
	mu       sync.RWMutex
	sessions map[string]*types.UploadSession
	ttl      time.Duration
	clock    clock.Clock
	logger   *log.Logger
}

// NewAggregator creates an aggregator; ttl is the expiry horizon given
// to newly created sessions.
func NewAggregator(ttl time.Duration, clk clock.Clock) *Aggregator {
	return &Aggregator{
		sessions: make(map[string]*types.UploadSession),
		ttl:      ttl,
		clock:    clk,
		logger:   log.New(os.Stdout, "[SessionAggregator] ", log.LstdFlags),
	}
}

// Refresh recomputes the session's rollups from its current member
// files, creating the session if this is its first file. files must be
// the complete, creation-ordered member list.
func (a *Aggregator) Refresh(sessionID, userID string, files []*types.TemporaryFile) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()

	s, ok := a.sessions[sessionID]
	if !ok {
		s = &types.UploadSession{
			SessionID: sessionID,
			UserID:    userID,
			Status:    types.SessionActive,
			StartedAt: now,
			ExpiresAt: now.Add(a.ttl),
		}
		a.sessions[sessionID] = s
	}

	s.TotalFiles = len(files)
	s.CompletedFiles = 0
	s.FailedFiles = 0
	s.TotalSize = 0
	s.UploadedSize = 0
	s.Files = make([]types.TemporaryFile, 0, len(files))

	for _, f := range files {
		s.TotalSize += f.FileSize
		switch f.Status {
		case types.StatusCompleted:
			s.CompletedFiles++
			s.UploadedSize += f.FileSize
		case types.StatusFailed:
			s.FailedFiles++
		}
		s.Files = append(s.Files, *f.Clone())
	}

	s.Status = deriveStatus(s, now)
	s.LastActivity = now
}

// deriveStatus computes the session status from its rollups
func deriveStatus(s *types.UploadSession, now time.Time) types.SessionStatus {
	switch {
	case s.TotalFiles > 0 && s.CompletedFiles == s.TotalFiles:
		return types.SessionCompleted
	case s.TotalFiles > 0 && s.FailedFiles == s.TotalFiles:
		return types.SessionFailed
	case now.After(s.ExpiresAt):
		return types.SessionExpired
	default:
		return types.SessionActive
	}
}

// Get returns a snapshot of the session or ErrNotFound
func (a *Aggregator) Get(sessionID string) (*types.UploadSession, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s, ok := a.sessions[sessionID]
	if !ok {
		return nil, types.ErrNotFound
	}

	cp := *s
	cp.Files = append([]types.TemporaryFile(nil), s.Files...)
	return &cp, nil
}

// Count returns the number of tracked sessions
func (a *Aggregator) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.sessions)
}

// PruneExpired removes sessions that have passed their expiry and hold
// no member files. Sessions with files, or still inside their TTL, are
// retained as audit records. Returns the number of sessions removed.
func (a *Aggregator) PruneExpired() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	pruned := 0
	for id, s := range a.sessions {
		if s.TotalFiles == 0 && now.After(s.ExpiresAt) {
			delete(a.sessions, id)
			pruned++
		}
	}

	if pruned > 0 {
		a.logger.Printf("Pruned %d expired empty sessions", pruned)
	}
	return pruned
}
