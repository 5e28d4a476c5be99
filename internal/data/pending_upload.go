package data

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"time"

	"CloudRelay/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// UploadStatus represents the state of a queued upload.
type UploadStatus string

// Upload status constants.
const (
	UploadPending   UploadStatus = "pending"
	UploadRequeued  UploadStatus = "requeued"
	UploadSkipped   UploadStatus = "skipped"
	UploadCompleted UploadStatus = "completed"
	UploadFailed    UploadStatus = "failed"
)

// DefaultMaxUploadRetries applies when an upload row carries no retry limit.
const DefaultMaxUploadRetries = 3

// Scan implements sql.Scanner interface for UploadStatus.
func (s *UploadStatus) Scan(value interface{}) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*s = UploadStatus(v)
	case string:
		*s = UploadStatus(v)
	default:
		return fmt.Errorf("cannot scan type %T into UploadStatus", value)
	}
	return nil
}

// Value implements driver.Valuer interface for UploadStatus.
func (s UploadStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// PendingUpload is the GORM model for the pending_uploads table.
type PendingUpload struct {
	ID          int64           `gorm:"primaryKey;column:id"`
	PrincipalID int64           `gorm:"column:principal_id;not null;index:idx_owner_provider"`
	Provider    model.Provider  `gorm:"column:provider;size:32;not null;index:idx_owner_provider"`
	LocalPath   string          `gorm:"column:local_path;size:1024;not null"`
	RemotePath  string          `gorm:"column:remote_path;size:1024"`
	Status      UploadStatus    `gorm:"column:status;size:16;not null;default:pending;index"`
	ErrorKind   model.ErrorKind `gorm:"column:error_kind;size:64"`
	LastError   string          `gorm:"column:last_error;type:text"`
	RetryCount  int             `gorm:"column:retry_count;not null;default:0"`
	MaxRetries  int             `gorm:"column:max_retries;not null;default:3"`
	SkipReason  string          `gorm:"column:skip_reason;size:255"`
	CreatedAt   time.Time       `gorm:"column:created_at;index"`
	UpdatedAt   time.Time       `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM.
func (PendingUpload) TableName() string {
	return "pending_uploads"
}

// LocalSourceExists reports whether the local file is still on disk.
func (u *PendingUpload) LocalSourceExists() bool {
	if u.LocalPath == "" {
		return false
	}
	info, err := os.Stat(u.LocalPath)
	return err == nil && !info.IsDir()
}

// CanBeRetried reports whether the upload has retries left and its failure, if any, is recoverable.
func (u *PendingUpload) CanBeRetried() bool {
	limit := u.MaxRetries
	if limit <= 0 {
		limit = DefaultMaxUploadRetries
	}
	if u.RetryCount >= limit {
		return false
	}
	return u.ErrorKind == "" || u.ErrorKind.IsRecoverable()
}

// PendingUploadRepo implements pending upload persistence.
type PendingUploadRepo struct {
	db     *gorm.DB
	logger *log.Helper
}

// NewPendingUploadRepo creates a new pending upload repository.
func NewPendingUploadRepo(db *gorm.DB, logger log.Logger) *PendingUploadRepo {
	return &PendingUploadRepo{
		db:     db,
		logger: log.NewHelper(logger),
	}
}

// ListRecoverableUploads returns pending uploads of a principal on one provider that may be
// retried, oldest first. Failed uploads are final and never listed. limit <= 0 means no limit.
func (r *PendingUploadRepo) ListRecoverableUploads(ctx context.Context, principalID int64, provider model.Provider, limit int) ([]*PendingUpload, error) {
	recoverable := make([]model.ErrorKind, 0)
	for _, kind := range model.AllErrorKinds() {
		if kind.IsRecoverable() {
			recoverable = append(recoverable, kind)
		}
	}

	query := r.db.WithContext(ctx).
		Where("principal_id = ? AND provider = ?", principalID, provider).
		Where("status = ?", UploadPending).
		Where("(error_kind IS NULL OR error_kind = '' OR error_kind IN ?)", recoverable).
		Where("retry_count < CASE WHEN max_retries > 0 THEN max_retries ELSE ? END", DefaultMaxUploadRetries).
		Order("created_at ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var uploads []*PendingUpload
	if err := query.Find(&uploads).Error; err != nil {
		r.logger.Errorf("failed to list recoverable uploads: %v", err)
		return nil, fmt.Errorf("failed to list recoverable uploads: %w", err)
	}

	return uploads, nil
}

// MarkRecoverySkipped records why an upload was left out of a requeue.
func (r *PendingUploadRepo) MarkRecoverySkipped(ctx context.Context, id int64, reason string) error {
	return r.updateStatus(ctx, id, map[string]interface{}{
		"status":      UploadSkipped,
		"skip_reason": reason,
		"updated_at":  time.Now(),
	})
}

// MarkRequeued flags an upload as handed back to the job lanes and counts the retry.
func (r *PendingUploadRepo) MarkRequeued(ctx context.Context, id int64) error {
	return r.updateStatus(ctx, id, map[string]interface{}{
		"status":      UploadRequeued,
		"retry_count": gorm.Expr("retry_count + ?", 1),
		"updated_at":  time.Now(),
	})
}

// LatestErrorKind returns the error kind of the most recently failed upload, or "" when none failed.
func (r *PendingUploadRepo) LatestErrorKind(ctx context.Context, principalID int64, provider model.Provider) (model.ErrorKind, error) {
	var upload PendingUpload
	err := r.db.WithContext(ctx).
		Where("principal_id = ? AND provider = ?", principalID, provider).
		Where("error_kind IS NOT NULL AND error_kind <> ''").
		Order("updated_at DESC").
		Order("id DESC").
		First(&upload).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to load latest upload error: %w", err)
	}

	return upload.ErrorKind, nil
}

func (r *PendingUploadRepo) updateStatus(ctx context.Context, id int64, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&PendingUpload{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		r.logger.Errorf("failed to update pending upload %d: %v", id, result.Error)
		return fmt.Errorf("failed to update pending upload: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("pending upload not found: id=%d", id)
	}
	return nil
}
