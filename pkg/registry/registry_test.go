package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zots0127/tempstore/pkg/clock"
	"github.com/zots0127/tempstore/pkg/config"
	"github.com/zots0127/tempstore/pkg/quota"
	"github.com/zots0127/tempstore/pkg/session"
	"github.com/zots0127/tempstore/pkg/storage"
	"github.com/zots0127/tempstore/pkg/types"
)

// MockStorage is a testify mock of the object-storage delete capability
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Delete(ctx context.Context, bucket, path string) error {
	args := m.Called(ctx, bucket, path)
	return args.Error(0)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Quota = config.QuotaConfig{
		TotalQuota:           1000,
		MaxFileSize:          500,
		MaxConcurrentUploads: 3,
		WarningThreshold:     80,
	}
	cfg.Storage.Bucket = "test-bucket"
	cfg.Storage.DeleteTimeout = time.Second
	return cfg
}

func newTestRegistry(t *testing.T, store storage.ObjectStorage) (*Registry, *quota.Ledger, *session.Aggregator, *clock.Fake) {
	t.Helper()

	cfg := testConfig()
	clk := clock.NewFake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	ledger := quota.NewLedger(cfg.Quota, clk)
	sessions := session.NewAggregator(24*time.Hour, clk)
	if store == nil {
		store = storage.Nop{}
	}
	return NewRegistry(cfg, ledger, sessions, store, clk), ledger, sessions, clk
}

func createReq(userID string, size int64) *types.CreateFileRequest {
	return &types.CreateFileRequest{
		UserID:           userID,
		OriginalFileName: "report.pdf",
		FileSize:         size,
		MimeType:         "application/pdf",
	}
}

func TestRegistryCreate(t *testing.T) {
	reg, ledger, sessions, clk := newTestRegistry(t, nil)

	f, err := reg.Create(createReq("u1", 100))
	require.NoError(t, err)

	assert.NotEmpty(t, f.ID)
	assert.NotEmpty(t, f.SessionID)
	assert.Equal(t, types.StatusPending, f.Status)
	assert.Equal(t, "test-bucket", f.BucketName)
	assert.Equal(t, clk.Now(), f.CreatedAt)
	assert.Equal(t, clk.Now(), f.UpdatedAt)
	assert.Equal(t, clk.Now().Add(24*time.Hour), f.ExpiresAt)

	expectedPath := fmt.Sprintf("temp/u1/%s/%s-report.pdf", f.SessionID, f.ID)
	assert.Equal(t, expectedPath, f.StoragePath)

	// Quota and session reflect the new file immediately
	q := ledger.Get("u1")
	assert.Equal(t, int64(100), q.TemporarySpace)
	assert.Equal(t, 1, q.FileCount)

	s, err := sessions.Get(f.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, s.TotalFiles)
	assert.Equal(t, int64(100), s.TotalSize)
}

func TestRegistryCreateExpiry(t *testing.T) {
	tests := []struct {
		name              string
		processingMinutes int
		want              time.Duration
	}{
		{"DefaultWhenAbsent", 0, 24 * time.Hour},
		{"MinimumOneHour", 30, time.Hour},
		{"ExactHours", 120, 2 * time.Hour},
		{"FractionalHours", 90, 90 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _, _, clk := newTestRegistry(t, nil)

			req := createReq("u1", 10)
			req.ExpectedProcessingTime = tt.processingMinutes

			f, err := reg.Create(req)
			require.NoError(t, err)
			assert.Equal(t, clk.Now().Add(tt.want), f.ExpiresAt)
		})
	}
}

func TestRegistryCreateRejections(t *testing.T) {
	reg, ledger, _, _ := newTestRegistry(t, nil)

	// Fill up to 900 of 1000, completed so they don't count as active uploads
	for i := 0; i < 2; i++ {
		f, err := reg.Create(createReq("u1", 450))
		require.NoError(t, err)
		done := types.StatusCompleted
		_, err = reg.Update(f.ID, &types.UpdateFileRequest{Status: &done})
		require.NoError(t, err)
	}

	_, err := reg.Create(createReq("u1", 200))
	assert.ErrorIs(t, err, types.ErrQuotaExceeded)

	// Rejection inserted nothing
	assert.Equal(t, 2, reg.Count())
	assert.Equal(t, int64(900), ledger.Get("u1").TemporarySpace)

	_, err = reg.Create(createReq("u1", 50))
	assert.NoError(t, err)
}

func TestRegistryConcurrentUploadLimit(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t, nil)

	for i := 0; i < 3; i++ {
		_, err := reg.Create(createReq("u1", 10))
		require.NoError(t, err)
	}

	_, err := reg.Create(createReq("u1", 10))
	assert.ErrorIs(t, err, types.ErrTooManyConcurrentUploads)

	// Another user is unaffected
	_, err = reg.Create(createReq("u2", 10))
	assert.NoError(t, err)
}

func TestRegistryUpdate(t *testing.T) {
	reg, _, sessions, clk := newTestRegistry(t, nil)

	req := createReq("u1", 100)
	req.Metadata = map[string]interface{}{"tags": "scan", "retryCount": 1}
	f, err := reg.Create(req)
	require.NoError(t, err)

	clk.Advance(10 * time.Minute)

	completed := types.StatusCompleted
	extend := 2
	updated, err := reg.Update(f.ID, &types.UpdateFileRequest{
		Status:       &completed,
		Metadata:     map[string]interface{}{"retryCount": 2, "ocrText": "hello"},
		ExtendExpiry: &extend,
	})
	require.NoError(t, err)

	assert.Equal(t, types.StatusCompleted, updated.Status)
	assert.Equal(t, clk.Now(), updated.UpdatedAt)
	assert.Equal(t, f.ExpiresAt.Add(2*time.Hour), updated.ExpiresAt)

	// Shallow merge: untouched keys survive, patched keys win
	assert.Equal(t, "scan", updated.Metadata["tags"])
	assert.Equal(t, 2, updated.Metadata["retryCount"])
	assert.Equal(t, "hello", updated.Metadata["ocrText"])

	// Session sees the status change
	s, err := sessions.Get(f.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, s.CompletedFiles)
	assert.Equal(t, int64(100), s.UploadedSize)
}

func TestRegistryUpdateErrors(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t, nil)

	_, err := reg.Update("missing", &types.UpdateFileRequest{})
	assert.ErrorIs(t, err, types.ErrNotFound)

	f, err := reg.Create(createReq("u1", 10))
	require.NoError(t, err)

	bogus := types.FileStatus("bogus")
	_, err = reg.Update(f.ID, &types.UpdateFileRequest{Status: &bogus})
	assert.Error(t, err)
}

func TestRegistryGetAndList(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t, nil)

	_, err := reg.Get("missing")
	assert.ErrorIs(t, err, types.ErrNotFound)

	var ids []string
	for i := 0; i < 3; i++ {
		req := createReq("u1", 10)
		req.OriginalFileName = fmt.Sprintf("file-%d.txt", i)
		f, err := reg.Create(req)
		require.NoError(t, err)
		ids = append(ids, f.ID)
	}
	_, err = reg.Create(createReq("u2", 10))
	require.NoError(t, err)

	files := reg.ListByUser("u1")
	require.Len(t, files, 3)
	for i, f := range files {
		assert.Equal(t, ids[i], f.ID, "files must come back in creation order")
	}

	assert.Empty(t, reg.ListByUser("nobody"))
	assert.Len(t, reg.All(), 4)
}

func TestRegistryDelete(t *testing.T) {
	store := new(MockStorage)
	reg, ledger, sessions, _ := newTestRegistry(t, store)

	f, err := reg.Create(createReq("u1", 100))
	require.NoError(t, err)

	store.On("Delete", mock.Anything, "test-bucket", f.StoragePath).Return(nil).Once()

	require.NoError(t, reg.Delete(context.Background(), f.ID))
	store.AssertExpectations(t)

	_, err = reg.Get(f.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	q := ledger.Get("u1")
	assert.Zero(t, q.TemporarySpace)
	assert.Zero(t, q.FileCount)

	s, err := sessions.Get(f.SessionID)
	require.NoError(t, err)
	assert.Zero(t, s.TotalFiles)

	// Second delete is a no-op success with no double recompute
	require.NoError(t, reg.Delete(context.Background(), f.ID))
	assert.Zero(t, ledger.Get("u1").FileCount)
}

func TestRegistryDeleteStorageFailure(t *testing.T) {
	store := new(MockStorage)
	reg, ledger, _, _ := newTestRegistry(t, store)

	f, err := reg.Create(createReq("u1", 100))
	require.NoError(t, err)

	store.On("Delete", mock.Anything, "test-bucket", f.StoragePath).
		Return(errors.New("bucket unavailable"))

	err = reg.Delete(context.Background(), f.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrStorageDeleteFailed)
	assert.True(t, strings.Contains(err.Error(), "bucket unavailable"))

	// The record is removed and the quota recomputed regardless
	_, err = reg.Get(f.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Zero(t, ledger.Get("u1").TemporarySpace)
}

func TestRegistryQuotaNoDrift(t *testing.T) {
	reg, ledger, _, _ := newTestRegistry(t, nil)

	var created []*types.TemporaryFile
	sizes := []int64{100, 200, 50}
	for _, size := range sizes {
		f, err := reg.Create(createReq("u1", size))
		require.NoError(t, err)
		created = append(created, f)
	}

	check := func() {
		t.Helper()
		var want int64
		for _, f := range reg.ListByUser("u1") {
			want += f.FileSize
		}
		q := ledger.Get("u1")
		assert.Equal(t, want, q.TemporarySpace)
		assert.Equal(t, len(reg.ListByUser("u1")), q.FileCount)
	}

	check()
	require.NoError(t, reg.Delete(context.Background(), created[1].ID))
	check()
	require.NoError(t, reg.Delete(context.Background(), created[1].ID)) // repeat
	check()
	require.NoError(t, reg.Delete(context.Background(), created[0].ID))
	check()
}

func TestRegistrySessionGrouping(t *testing.T) {
	reg, _, sessions, _ := newTestRegistry(t, nil)

	req1 := createReq("u1", 100)
	req1.SessionID = "batch-1"
	req2 := createReq("u1", 200)
	req2.SessionID = "batch-1"

	_, err := reg.Create(req1)
	require.NoError(t, err)
	_, err = reg.Create(req2)
	require.NoError(t, err)

	s, err := sessions.Get("batch-1")
	require.NoError(t, err)
	assert.Equal(t, 2, s.TotalFiles)
	assert.Equal(t, int64(300), s.TotalSize)
}
