package types

import (
	"errors"
	"time"
)

// FileStatus represents the lifecycle state of a temporary file
type FileStatus string

const (
	StatusPending    FileStatus = "pending"
	StatusUploading  FileStatus = "uploading"
	StatusCompleted  FileStatus = "completed"
	StatusProcessing FileStatus = "processing"
	StatusFailed     FileStatus = "failed"
	StatusExpired    FileStatus = "expired"
)

// ValidStatuses lists every accepted file status
var ValidStatuses = []FileStatus{
	StatusPending, StatusUploading, StatusCompleted,
	StatusProcessing, StatusFailed, StatusExpired,
}

// IsValid reports whether s is one of the known file statuses
func (s FileStatus) IsValid() bool {
	for _, v := range ValidStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// SessionStatus represents the state of an upload session
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionExpired   SessionStatus = "expired"
)

// Sentinel errors for the subsystem. Callers match with errors.Is.
var (
	ErrQuotaExceeded            = errors.New("quota exceeded")
	ErrFileTooLarge             = errors.New("file exceeds maximum allowed size")
	ErrTooManyConcurrentUploads = errors.New("too many concurrent uploads")
	ErrNotFound                 = errors.New("file not found")
	ErrStorageDeleteFailed      = errors.New("storage delete failed")
	ErrInvalidPolicy            = errors.New("invalid cleanup policy configuration")
)

// TemporaryFile represents an uploaded-but-not-yet-finalized file tracked
// by the registry. FileSize is immutable after creation; the quota was
// already charged for it.
type TemporaryFile struct {
	ID               string                 `json:"id"`
	UserID           string                 `json:"user_id"`
	SessionID        string                 `json:"session_id"`
	OriginalFileName string                 `json:"original_file_name"`
	StoragePath      string                 `json:"storage_path"`
	BucketName       string                 `json:"bucket_name"`
	FileSize         int64                  `json:"file_size"`
	MimeType         string                 `json:"mime_type"`
	Status           FileStatus             `json:"status"`
	ExpiresAt        time.Time              `json:"expires_at"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// AgeHours returns the age of the file in hours at the given instant
func (f *TemporaryFile) AgeHours(now time.Time) float64 {
	return now.Sub(f.CreatedAt).Hours()
}

// RetryCount reads metadata["retryCount"], tolerating the numeric types
// JSON decoding produces. Missing or malformed values count as zero.
func (f *TemporaryFile) RetryCount() int {
	if f.Metadata == nil {
		return 0
	}
	switch v := f.Metadata["retryCount"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Clone returns a copy safe to hand out without holding the registry
// lock. The metadata map is copied one level deep.
func (f *TemporaryFile) Clone() *TemporaryFile {
	cp := *f
	if f.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(f.Metadata))
		for k, v := range f.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// UploadSession groups files uploaded together. All derived fields are
// recomputable as a pure function of the current member files.
type UploadSession struct {
	SessionID      string          `json:"session_id"`
	UserID         string          `json:"user_id"`
	TotalFiles     int             `json:"total_files"`
	CompletedFiles int             `json:"completed_files"`
	FailedFiles    int             `json:"failed_files"`
	TotalSize      int64           `json:"total_size"`
	UploadedSize   int64           `json:"uploaded_size"`
	Status         SessionStatus   `json:"status"`
	StartedAt      time.Time       `json:"started_at"`
	LastActivity   time.Time       `json:"last_activity"`
	ExpiresAt      time.Time       `json:"expires_at"`
	Files          []TemporaryFile `json:"files"`
}

// StorageQuota tracks per-user limits and usage. Usage fields are always
// recomputed from the registry, never incrementally maintained.
type StorageQuota struct {
	UserID               string    `json:"user_id"`
	TotalQuota           int64     `json:"total_quota"`
	UsedSpace            int64     `json:"used_space"`
	TemporarySpace       int64     `json:"temporary_space"`
	FileCount            int       `json:"file_count"`
	MaxFileSize          int64     `json:"max_file_size"`
	MaxConcurrentUploads int       `json:"max_concurrent_uploads"`
	QuotaExceeded        bool      `json:"quota_exceeded"`
	WarningThreshold     float64   `json:"warning_threshold"`
	IsWarningTriggered   bool      `json:"is_warning_triggered"`
	LastUpdated          time.Time `json:"last_updated"`
}

// PolicyConditions are the AND-ed predicates of a cleanup policy
type PolicyConditions struct {
	MaxAgeHours   float64      `json:"max_age_hours" yaml:"max_age_hours"`
	Statuses      []FileStatus `json:"statuses" yaml:"statuses"`
	MinRetryCount *int         `json:"min_retry_count,omitempty" yaml:"min_retry_count,omitempty"`
	SizeThreshold *int64       `json:"size_threshold,omitempty" yaml:"size_threshold,omitempty"`
}

// PolicyActions describe what happens to a matched file
type PolicyActions struct {
	DeleteFile    bool `json:"delete_file" yaml:"delete_file"`
	NotifyUser    bool `json:"notify_user" yaml:"notify_user"`
	LogEvent      bool `json:"log_event" yaml:"log_event"`
	MoveToArchive bool `json:"move_to_archive,omitempty" yaml:"move_to_archive,omitempty"`
}

// CleanupPolicy is a static, startup-seeded deletion rule
type CleanupPolicy struct {
	ID          string           `json:"id" yaml:"id"`
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description" yaml:"description"`
	IsActive    bool             `json:"is_active" yaml:"is_active"`
	Priority    int              `json:"priority" yaml:"priority"`
	Conditions  PolicyConditions `json:"conditions" yaml:"conditions"`
	Actions     PolicyActions    `json:"actions" yaml:"actions"`
}

// Age bucket labels used in cleanup summaries
const (
	AgeBucketUnderHour = "< 1 hour"
	AgeBucketUnderDay  = "< 1 day"
	AgeBucketUnderWeek = "< 1 week"
	AgeBucketOverWeek  = "> 1 week"
)

// AgeBucket maps hours-since-creation to a reporting bucket using
// half-open intervals at 1, 24 and 168 hours.
func AgeBucket(ageHours float64) string {
	switch {
	case ageHours < 1:
		return AgeBucketUnderHour
	case ageHours < 24:
		return AgeBucketUnderDay
	case ageHours < 168:
		return AgeBucketUnderWeek
	default:
		return AgeBucketOverWeek
	}
}

// CleanupSummary breaks down matched files for one sweep
type CleanupSummary struct {
	ByStatus           map[FileStatus]int `json:"by_status"`
	ByAge              map[string]int     `json:"by_age"`
	LargestFileDeleted int64              `json:"largest_file_deleted"`
}

// CleanupResult is the structured report of one janitor sweep
type CleanupResult struct {
	CleanupID      string         `json:"cleanup_id"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    time.Time      `json:"completed_at"`
	FilesScanned   int            `json:"files_scanned"`
	FilesDeleted   int            `json:"files_deleted"`
	BytesReclaimed int64          `json:"bytes_reclaimed"`
	Errors         []string       `json:"errors,omitempty"`
	PolicyApplied  string         `json:"policy_applied"`
	DryRun         bool           `json:"dry_run"`
	Summary        CleanupSummary `json:"summary"`
}

// CreateFileRequest carries the caller-supplied fields for a new file
type CreateFileRequest struct {
	UserID                 string                 `json:"user_id"`
	SessionID              string                 `json:"session_id,omitempty"`
	OriginalFileName       string                 `json:"original_file_name"`
	FileSize               int64                  `json:"file_size"`
	MimeType               string                 `json:"mime_type"`
	ExpectedProcessingTime int                    `json:"expected_processing_time,omitempty"` // minutes
	Metadata               map[string]interface{} `json:"metadata,omitempty"`
}

// UpdateFileRequest is a partial patch applied to an existing file.
// Metadata is shallow-merged into the existing bag, never replaced.
type UpdateFileRequest struct {
	Status       *FileStatus            `json:"status,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	ExtendExpiry *int                   `json:"extend_expiry,omitempty"` // hours added to current expiry
}

// CleanupRequest parameterizes a manual sweep. The zero value matches
// the scheduled sweep (no force, no dry-run, no filters).
type CleanupRequest struct {
	ForceCleanup bool         `json:"force_cleanup,omitempty"`
	DryRun       bool         `json:"dry_run,omitempty"`
	OlderThan    *float64     `json:"older_than,omitempty"` // hours
	Statuses     []FileStatus `json:"statuses,omitempty"`
	UserIDs      []string     `json:"user_ids,omitempty"`
}

// UserUsage is the per-user slice of storage statistics
type UserUsage struct {
	Count int   `json:"count"`
	Size  int64 `json:"size"`
}

// StorageStats is a read-only summary over all tracked files
type StorageStats struct {
	TotalFiles      int                  `json:"total_files"`
	TotalSize       int64                `json:"total_size"`
	AverageFileSize int64                `json:"average_file_size"`
	OldestFileAt    *time.Time           `json:"oldest_file_at,omitempty"`
	LargestFileSize int64                `json:"largest_file_size"`
	ByStatus        map[FileStatus]int   `json:"by_status"`
	ByMimeType      map[string]int       `json:"by_mime_type"`
	ByUser          map[string]UserUsage `json:"by_user"`
	GeneratedAt     time.Time            `json:"generated_at"`
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}
