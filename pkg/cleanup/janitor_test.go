package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zots0127/tempstore/pkg/clock"
	"github.com/zots0127/tempstore/pkg/config"
	"github.com/zots0127/tempstore/pkg/quota"
	"github.com/zots0127/tempstore/pkg/registry"
	"github.com/zots0127/tempstore/pkg/session"
	"github.com/zots0127/tempstore/pkg/storage"
	"github.com/zots0127/tempstore/pkg/types"
)

// failingStorage rejects every delete
type failingStorage struct{}

func (failingStorage) Delete(ctx context.Context, bucket, path string) error {
	return errors.New("backend offline")
}

// blockingStorage parks deletes until released, to hold a sweep open
type blockingStorage struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingStorage) Delete(ctx context.Context, bucket, path string) error {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return nil
}

type janitorFixture struct {
	registry *registry.Registry
	ledger   *quota.Ledger
	sessions *session.Aggregator
	janitor  *Janitor
	clock    *clock.Fake
}

func newJanitorFixture(t *testing.T, store storage.ObjectStorage, pruneSessions bool) *janitorFixture {
	t.Helper()

	cfg := config.Default()
	cfg.Storage.Bucket = "test-bucket"
	cfg.Storage.DeleteTimeout = time.Second

	clk := clock.NewFake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	ledger := quota.NewLedger(cfg.Quota, clk)
	sessions := session.NewAggregator(24*time.Hour, clk)
	if store == nil {
		store = storage.Nop{}
	}
	reg := registry.NewRegistry(cfg, ledger, sessions, store, clk)

	engine, err := NewEngine(config.DefaultPolicies())
	require.NoError(t, err)

	return &janitorFixture{
		registry: reg,
		ledger:   ledger,
		sessions: sessions,
		janitor:  NewJanitor(reg, engine, sessions, nil, clk, pruneSessions),
		clock:    clk,
	}
}

// addFile creates a file and optionally moves it to the given status
func (fx *janitorFixture) addFile(t *testing.T, userID string, size int64, status types.FileStatus) *types.TemporaryFile {
	t.Helper()

	f, err := fx.registry.Create(&types.CreateFileRequest{
		UserID:           userID,
		OriginalFileName: "data.bin",
		FileSize:         size,
		MimeType:         "application/octet-stream",
	})
	require.NoError(t, err)

	if status != types.StatusPending {
		f, err = fx.registry.Update(f.ID, &types.UpdateFileRequest{Status: &status})
		require.NoError(t, err)
	}
	return f
}

func TestSweepDeletesOldCompletedFiles(t *testing.T) {
	fx := newJanitorFixture(t, nil, false)

	f := fx.addFile(t, "u1", 500, types.StatusCompleted)
	fx.clock.Advance(200 * time.Hour)

	result, ran := fx.janitor.Sweep(context.Background(), &types.CleanupRequest{})
	require.True(t, ran)

	assert.Equal(t, 1, result.FilesScanned)
	assert.Equal(t, 1, result.FilesDeleted)
	assert.Equal(t, int64(500), result.BytesReclaimed)
	assert.Equal(t, int64(500), result.Summary.LargestFileDeleted)
	assert.Equal(t, 1, result.Summary.ByStatus[types.StatusCompleted])
	assert.Equal(t, 1, result.Summary.ByAge[types.AgeBucketOverWeek])
	assert.Empty(t, result.Errors)
	assert.NotEmpty(t, result.CleanupID)

	_, err := fx.registry.Get(f.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Zero(t, fx.ledger.Get("u1").TemporarySpace)
}

func TestSweepAgeBuckets(t *testing.T) {
	fx := newJanitorFixture(t, nil, false)

	// Four failed files created at staggered times land in four buckets.
	fx.addFile(t, "u1", 10, types.StatusFailed) // will be > 1 week old
	fx.clock.Advance(195 * time.Hour)
	fx.addFile(t, "u1", 10, types.StatusFailed) // < 1 week
	fx.clock.Advance(71 * time.Hour)
	fx.addFile(t, "u1", 10, types.StatusFailed) // < 1 day
	fx.clock.Advance(3 * time.Hour)
	fx.addFile(t, "u1", 10, types.StatusFailed) // < 1 hour
	fx.clock.Advance(30 * time.Minute)

	result, ran := fx.janitor.Sweep(context.Background(), &types.CleanupRequest{})
	require.True(t, ran)

	assert.Equal(t, 4, result.FilesDeleted)
	assert.Equal(t, 1, result.Summary.ByAge[types.AgeBucketUnderHour])
	assert.Equal(t, 1, result.Summary.ByAge[types.AgeBucketUnderDay])
	assert.Equal(t, 1, result.Summary.ByAge[types.AgeBucketUnderWeek])
	assert.Equal(t, 1, result.Summary.ByAge[types.AgeBucketOverWeek])
}

func TestSweepDryRunMatchesLiveCounts(t *testing.T) {
	fx := newJanitorFixture(t, nil, false)

	fx.addFile(t, "u1", 100, types.StatusCompleted)
	fx.addFile(t, "u1", 200, types.StatusFailed)
	fx.addFile(t, "u2", 300, types.StatusPending)
	fx.clock.Advance(200 * time.Hour)

	dry, ran := fx.janitor.Sweep(context.Background(), &types.CleanupRequest{DryRun: true})
	require.True(t, ran)

	assert.True(t, dry.DryRun)
	assert.Equal(t, 3, dry.FilesScanned)
	assert.Zero(t, dry.FilesDeleted)
	assert.Zero(t, dry.BytesReclaimed)
	assert.Equal(t, 3, fx.registry.Count(), "dry run must leave the registry unchanged")

	live, ran := fx.janitor.Sweep(context.Background(), &types.CleanupRequest{})
	require.True(t, ran)

	assert.Equal(t, dry.FilesScanned, live.FilesScanned)
	assert.Equal(t, dry.Summary.ByStatus, live.Summary.ByStatus)
	assert.Equal(t, dry.Summary.ByAge, live.Summary.ByAge)
	assert.Equal(t, 3, live.FilesDeleted)
	assert.Zero(t, fx.registry.Count())
}

func TestSweepUserScopedRequest(t *testing.T) {
	fx := newJanitorFixture(t, nil, false)

	target := fx.addFile(t, "u1", 100, types.StatusFailed)
	keepOtherUser := fx.addFile(t, "u2", 100, types.StatusFailed)
	keepOtherStatus := fx.addFile(t, "u1", 100, types.StatusPending)

	result, ran := fx.janitor.Sweep(context.Background(), &types.CleanupRequest{
		Statuses: []types.FileStatus{types.StatusFailed},
		UserIDs:  []string{"u1"},
	})
	require.True(t, ran)

	assert.Equal(t, 3, result.FilesScanned)
	assert.Equal(t, 1, result.FilesDeleted)

	_, err := fx.registry.Get(target.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = fx.registry.Get(keepOtherUser.ID)
	assert.NoError(t, err, "u2's failed file must survive a u1-scoped sweep")
	_, err = fx.registry.Get(keepOtherStatus.ID)
	assert.NoError(t, err, "u1's non-failed file must survive")
}

func TestSweepStorageErrorsDoNotAbort(t *testing.T) {
	fx := newJanitorFixture(t, failingStorage{}, false)

	fx.addFile(t, "u1", 100, types.StatusFailed)
	fx.addFile(t, "u1", 200, types.StatusFailed)
	fx.clock.Advance(time.Hour)

	result, ran := fx.janitor.Sweep(context.Background(), &types.CleanupRequest{})
	require.True(t, ran)

	// Every file was processed despite each storage delete failing
	assert.Equal(t, 2, result.FilesDeleted)
	assert.Len(t, result.Errors, 2)
	assert.Zero(t, fx.registry.Count(), "registry removal proceeds past storage failures")
}

func TestSweepSkipsWhenAlreadyRunning(t *testing.T) {
	store := &blockingStorage{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	fx := newJanitorFixture(t, store, false)

	fx.addFile(t, "u1", 100, types.StatusFailed)
	fx.clock.Advance(time.Hour)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, ran := fx.janitor.Sweep(context.Background(), &types.CleanupRequest{})
		assert.True(t, ran)
	}()

	<-store.entered

	_, ran := fx.janitor.Sweep(context.Background(), &types.CleanupRequest{})
	assert.False(t, ran, "a concurrent sweep must be skipped, not queued")

	close(store.release)
	<-done

	// With the first sweep finished, sweeping works again
	_, ran = fx.janitor.Sweep(context.Background(), &types.CleanupRequest{})
	assert.True(t, ran)
}

func TestSweepSessionPruning(t *testing.T) {
	t.Run("RetainedByDefault", func(t *testing.T) {
		fx := newJanitorFixture(t, nil, false)

		f := fx.addFile(t, "u1", 100, types.StatusFailed)
		fx.clock.Advance(48 * time.Hour)

		_, ran := fx.janitor.Sweep(context.Background(), &types.CleanupRequest{})
		require.True(t, ran)

		_, err := fx.sessions.Get(f.SessionID)
		assert.NoError(t, err, "sessions are retained as audit records by default")
	})

	t.Run("PrunedWhenEnabled", func(t *testing.T) {
		fx := newJanitorFixture(t, nil, true)

		f := fx.addFile(t, "u1", 100, types.StatusFailed)
		fx.clock.Advance(48 * time.Hour) // past the session TTL

		_, ran := fx.janitor.Sweep(context.Background(), &types.CleanupRequest{})
		require.True(t, ran)

		_, err := fx.sessions.Get(f.SessionID)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})
}

func TestSweepPolicyAppliedLabel(t *testing.T) {
	fx := newJanitorFixture(t, nil, false)

	result, ran := fx.janitor.Sweep(context.Background(), &types.CleanupRequest{})
	require.True(t, ran)
	assert.Equal(t, "none", result.PolicyApplied)

	fx.addFile(t, "u1", 100, types.StatusFailed)
	result, ran = fx.janitor.Sweep(context.Background(), &types.CleanupRequest{})
	require.True(t, ran)
	assert.Equal(t, "expired-files", result.PolicyApplied)
}
