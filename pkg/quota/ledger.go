// Package quota enforces per-user storage limits. Usage counters are
// never incremented in place; they are recomputed from the registry's
// current contents after every mutation, so partial failures cannot
// leave the ledger drifted.
package quota

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/zots0127/tempstore/pkg/clock"
	"github.com/zots0127/tempstore/pkg/config"
	"github.com/zots0127/tempstore/pkg/types"
)

// Ledger holds per-user quota records, lazily created with the
// configured defaults on first reference.
type Ledger struct {
	mu       sync.RWMutex
	quotas   map[string]*types.StorageQuota
	defaults config.QuotaConfig
	clock    clock.Clock
	logger   *log.Logger
}

// NewLedger creates a ledger applying the given defaults to new users
func NewLedger(defaults config.QuotaConfig, clk clock.Clock) *Ledger {
	return &Ledger{
		quotas:   make(map[string]*types.StorageQuota),
		defaults: defaults,
		clock:    clk,
		logger:   log.New(os.Stdout, "[QuotaLedger] ", log.LstdFlags),
	}
}

// ensure returns the user's quota record, creating a default one if
// absent. Caller must hold the write lock.
func (l *Ledger) ensure(userID string) *types.StorageQuota {
	q, ok := l.quotas[userID]
	if !ok {
		q = &types.StorageQuota{
			UserID:               userID,
			TotalQuota:           l.defaults.TotalQuota,
			MaxFileSize:          l.defaults.MaxFileSize,
			MaxConcurrentUploads: l.defaults.MaxConcurrentUploads,
			WarningThreshold:     l.defaults.WarningThreshold,
			LastUpdated:          l.clock.Now(),
		}
		l.quotas[userID] = q
	}
	return q
}

// Admit decides whether a new file of fileSize bytes may be created for
// the user. activeUploads is the count of that user's files currently in
// pending or uploading status. Rejection leaves the ledger untouched.
func (l *Ledger) Admit(userID string, fileSize int64, activeUploads int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	q := l.ensure(userID)

	if fileSize > q.MaxFileSize {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", types.ErrFileTooLarge, fileSize, q.MaxFileSize)
	}
	if q.UsedSpace+fileSize > q.TotalQuota {
		return fmt.Errorf("%w: %d used + %d requested exceeds %d",
			types.ErrQuotaExceeded, q.UsedSpace, fileSize, q.TotalQuota)
	}
	if activeUploads >= q.MaxConcurrentUploads {
		return fmt.Errorf("%w: %d active, limit %d",
			types.ErrTooManyConcurrentUploads, activeUploads, q.MaxConcurrentUploads)
	}

	return nil
}

// Recompute derives the user's usage counters from the files currently
// tracked for them. Called by the registry after every create or delete
// affecting the user.
func (l *Ledger) Recompute(userID string, files []*types.TemporaryFile) {
	l.mu.Lock()
	defer l.mu.Unlock()

	q := l.ensure(userID)

	var space int64
	for _, f := range files {
		space += f.FileSize
	}

	q.TemporarySpace = space
	// Only ephemeral files are tracked by this subsystem, so used space
	// equals the temporary space.
	q.UsedSpace = space
	q.FileCount = len(files)
	q.QuotaExceeded = q.UsedSpace > q.TotalQuota
	q.IsWarningTriggered = q.TotalQuota > 0 &&
		float64(q.UsedSpace)/float64(q.TotalQuota)*100 >= q.WarningThreshold
	q.LastUpdated = l.clock.Now()

	if q.QuotaExceeded {
		l.logger.Printf("User %s exceeded quota: %d of %d bytes", userID, q.UsedSpace, q.TotalQuota)
	}
}

// Get returns a snapshot of the user's quota, creating a default record
// if the user has not been seen before.
func (l *Ledger) Get(userID string) types.StorageQuota {
	l.mu.Lock()
	defer l.mu.Unlock()

	return *l.ensure(userID)
}
