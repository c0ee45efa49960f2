// Package registry is the authoritative in-memory map of temporary
// files. It owns record creation, mutation and deletion, and drives the
// quota ledger and session aggregator so their derived state always
// reflects the registry's contents.
package registry

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zots0127/tempstore/pkg/clock"
	"github.com/zots0127/tempstore/pkg/config"
	"github.com/zots0127/tempstore/pkg/quota"
	"github.com/zots0127/tempstore/pkg/session"
	"github.com/zots0127/tempstore/pkg/storage"
	"github.com/zots0127/tempstore/pkg/types"
)

// Registry guards the file map with a single RWMutex. Create is one
// critical section per file: admit, insert, recompute quota and refresh
// the session happen under the same lock so two concurrent creates
// cannot overshoot a quota.
type Registry struct {
	mu    sync.RWMutex
	files map[string]*types.TemporaryFile
	order []string // file ids in creation order

	ledger   *quota.Ledger
	sessions *session.Aggregator
	store    storage.ObjectStorage
	clock    clock.Clock

	bucket        string
	defaultExpiry time.Duration
	deleteTimeout time.Duration

	logger *log.Logger
}

// NewRegistry wires the registry with its collaborators
func NewRegistry(cfg *config.Config, ledger *quota.Ledger, sessions *session.Aggregator,
	store storage.ObjectStorage, clk clock.Clock) *Registry {
	return &Registry{
		files:         make(map[string]*types.TemporaryFile),
		ledger:        ledger,
		sessions:      sessions,
		store:         store,
		clock:         clk,
		bucket:        cfg.Storage.Bucket,
		defaultExpiry: time.Duration(cfg.Expiry.DefaultFileHours) * time.Hour,
		deleteTimeout: cfg.Storage.DeleteTimeout,
		logger:        log.New(os.Stdout, "[FileRegistry] ", log.LstdFlags),
	}
}

// Create admits the request against the user's quota and, on success,
// inserts a new pending record and updates the derived state. On
// rejection nothing is inserted and no quota is charged.
func (r *Registry) Create(req *types.CreateFileRequest) (*types.TemporaryFile, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if req.OriginalFileName == "" {
		return nil, fmt.Errorf("original file name is required")
	}
	if req.FileSize < 0 {
		return nil, fmt.Errorf("file size must not be negative, got %d", req.FileSize)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ledger.Admit(req.UserID, req.FileSize, r.activeUploadsLocked(req.UserID)); err != nil {
		return nil, err
	}

	now := r.clock.Now()

	id := uuid.New().String()
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	expiry := r.defaultExpiry
	if req.ExpectedProcessingTime > 0 {
		hours := float64(req.ExpectedProcessingTime) / 60
		if hours < 1 {
			hours = 1
		}
		expiry = time.Duration(hours * float64(time.Hour))
	}

	var metadata map[string]interface{}
	if req.Metadata != nil {
		metadata = make(map[string]interface{}, len(req.Metadata))
		for k, v := range req.Metadata {
			metadata[k] = v
		}
	}

	f := &types.TemporaryFile{
		ID:               id,
		UserID:           req.UserID,
		SessionID:        sessionID,
		OriginalFileName: req.OriginalFileName,
		StoragePath:      fmt.Sprintf("temp/%s/%s/%s-%s", req.UserID, sessionID, id, req.OriginalFileName),
		BucketName:       r.bucket,
		FileSize:         req.FileSize,
		MimeType:         req.MimeType,
		Status:           types.StatusPending,
		ExpiresAt:        now.Add(expiry),
		CreatedAt:        now,
		UpdatedAt:        now,
		Metadata:         metadata,
	}

	r.files[id] = f
	r.order = append(r.order, id)

	r.ledger.Recompute(req.UserID, r.userFilesLocked(req.UserID))
	r.sessions.Refresh(sessionID, req.UserID, r.sessionFilesLocked(sessionID))

	r.logger.Printf("Created file %s for user %s (%d bytes, session %s)",
		id, req.UserID, req.FileSize, sessionID)

	return f.Clone(), nil
}

// Update applies a partial patch to an existing file. Metadata is
// shallow-merged into the existing bag; extend_expiry adds hours to the
// current expiry. FileSize cannot change: capacity was already charged.
func (r *Registry) Update(id string, patch *types.UpdateFileRequest) (*types.TemporaryFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}

	if patch.Status != nil {
		if !patch.Status.IsValid() {
			return nil, fmt.Errorf("invalid status %q", *patch.Status)
		}
		f.Status = *patch.Status
	}

	if len(patch.Metadata) > 0 {
		if f.Metadata == nil {
			f.Metadata = make(map[string]interface{}, len(patch.Metadata))
		}
		for k, v := range patch.Metadata {
			f.Metadata[k] = v
		}
	}

	if patch.ExtendExpiry != nil {
		f.ExpiresAt = f.ExpiresAt.Add(time.Duration(*patch.ExtendExpiry) * time.Hour)
	}

	f.UpdatedAt = r.clock.Now()

	r.sessions.Refresh(f.SessionID, f.UserID, r.sessionFilesLocked(f.SessionID))

	return f.Clone(), nil
}

// Get returns a snapshot of the file or ErrNotFound
func (r *Registry) Get(id string) (*types.TemporaryFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}
	return f.Clone(), nil
}

// ListByUser returns the user's files in creation order
func (r *Registry) ListByUser(userID string) []*types.TemporaryFile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*types.TemporaryFile
	for _, id := range r.order {
		if f := r.files[id]; f != nil && f.UserID == userID {
			out = append(out, f.Clone())
		}
	}
	return out
}

// All returns snapshots of every tracked file in creation order
func (r *Registry) All() []*types.TemporaryFile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.TemporaryFile, 0, len(r.files))
	for _, id := range r.order {
		if f := r.files[id]; f != nil {
			out = append(out, f.Clone())
		}
	}
	return out
}

// Count returns the number of tracked files
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.files)
}

// Delete removes the file from the registry and, best-effort, from
// object storage. Unknown ids are a no-op. A storage failure is
// reported as ErrStorageDeleteFailed but never blocks registry removal;
// the record is gone and the quota recomputed either way.
//
// The registry lock is not held across the storage call: the record is
// copied first, the delete attempted with a bounded timeout, and the
// map entry removed afterwards under the lock again.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	f, ok := r.files[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	snapshot := f.Clone()
	r.mu.Unlock()

	deleteCtx, cancel := context.WithTimeout(ctx, r.deleteTimeout)
	storageErr := r.store.Delete(deleteCtx, snapshot.BucketName, snapshot.StoragePath)
	cancel()

	r.mu.Lock()
	if _, still := r.files[id]; still {
		delete(r.files, id)
		for i, oid := range r.order {
			if oid == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		r.ledger.Recompute(snapshot.UserID, r.userFilesLocked(snapshot.UserID))
		r.sessions.Refresh(snapshot.SessionID, snapshot.UserID, r.sessionFilesLocked(snapshot.SessionID))
	}
	r.mu.Unlock()

	if storageErr != nil {
		r.logger.Printf("Storage delete failed for %s (%s/%s): %v",
			id, snapshot.BucketName, snapshot.StoragePath, storageErr)
		return fmt.Errorf("%w: %s: %v", types.ErrStorageDeleteFailed, id, storageErr)
	}

	r.logger.Printf("Deleted file %s for user %s", id, snapshot.UserID)
	return nil
}

// activeUploadsLocked counts the user's files in pending or uploading
// status. Caller must hold the lock.
func (r *Registry) activeUploadsLocked(userID string) int {
	count := 0
	for _, f := range r.files {
		if f.UserID == userID &&
			(f.Status == types.StatusPending || f.Status == types.StatusUploading) {
			count++
		}
	}
	return count
}

// userFilesLocked returns the user's files in creation order without
// cloning. Caller must hold the lock and must not retain the slice.
func (r *Registry) userFilesLocked(userID string) []*types.TemporaryFile {
	var out []*types.TemporaryFile
	for _, id := range r.order {
		if f := r.files[id]; f != nil && f.UserID == userID {
			out = append(out, f)
		}
	}
	return out
}

// sessionFilesLocked returns the session's files in creation order
// without cloning. Caller must hold the lock.
func (r *Registry) sessionFilesLocked(sessionID string) []*types.TemporaryFile {
	var out []*types.TemporaryFile
	for _, id := range r.order {
		if f := r.files[id]; f != nil && f.SessionID == sessionID {
			out = append(out, f)
		}
	}
	return out
}
