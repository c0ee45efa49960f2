// Package storage defines the object-storage delete capability the
// registry consumes. Deletion is best-effort: the registry remains the
// source of truth for quota and user-visible state even when the
// backing object cannot be removed.
package storage

import "context"

// ObjectStorage is the capability this subsystem consumes from the
// object-storage collaborator. It is a required interface; callers that
// do not need real storage wire the no-op implementation.
type ObjectStorage interface {
	// Delete removes the object at path inside bucket. Implementations
	// must honor ctx cancellation and return rather than panic on failure.
	Delete(ctx context.Context, bucket, path string) error
}

// Nop is an ObjectStorage that accepts every delete. Used for local
// runs and tests where no real backend exists.
type Nop struct{}

// Delete does nothing and succeeds
func (Nop) Delete(ctx context.Context, bucket, path string) error {
	return nil
}
