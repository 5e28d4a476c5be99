package data

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"CloudRelay/internal/model"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// ReasonCredentialNotFound is the Kratos error reason for a missing credential.
const ReasonCredentialNotFound = "CREDENTIAL_NOT_FOUND"

// CredentialStatus represents the lifecycle state of a stored credential.
type CredentialStatus string

// Credential status constants.
const (
	CredentialActive  CredentialStatus = "active"
	CredentialError   CredentialStatus = "error"
	CredentialRevoked CredentialStatus = "revoked"
)

// Scan implements sql.Scanner interface for CredentialStatus.
func (s *CredentialStatus) Scan(value interface{}) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*s = CredentialStatus(v)
	case string:
		*s = CredentialStatus(v)
	default:
		return fmt.Errorf("cannot scan type %T into CredentialStatus", value)
	}
	return nil
}

// Value implements driver.Valuer interface for CredentialStatus.
func (s CredentialStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// Credential is the GORM model for the storage_credentials table.
// Token columns hold whatever the provider adapter hands back; they are opaque here.
type Credential struct {
	ID                    int64            `gorm:"primaryKey;column:id"`
	PrincipalID           int64            `gorm:"column:principal_id;not null;uniqueIndex:idx_principal_provider"`
	Provider              model.Provider   `gorm:"column:provider;size:32;not null;uniqueIndex:idx_principal_provider"`
	AccessTokenEncrypted  string           `gorm:"column:access_token_encrypted;type:text"`
	RefreshTokenEncrypted string           `gorm:"column:refresh_token_encrypted;type:text"`
	ExpiresAt             *time.Time       `gorm:"column:expires_at;index"`
	Status                CredentialStatus `gorm:"column:status;size:16;not null;default:active"`
	LastRefreshedAt       *time.Time       `gorm:"column:last_refreshed_at"`
	LastSuccessAt         *time.Time       `gorm:"column:last_success_at"`
	LastErrorKind         model.ErrorKind  `gorm:"column:last_error_kind;size:64"`
	LastErrorMessage      string           `gorm:"column:last_error_message;type:text"`
	ConsecutiveFailures   int64            `gorm:"column:consecutive_failures;not null;default:0"`
	CreatedAt             time.Time        `gorm:"column:created_at"`
	UpdatedAt             time.Time        `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM.
func (Credential) TableName() string {
	return "storage_credentials"
}

// IsConnected reports whether the credential can still be used.
func (c *Credential) IsConnected() bool {
	return c != nil && c.Status != CredentialRevoked && c.RefreshTokenEncrypted != ""
}

// ValidFor reports whether the access token stays valid for at least margin after now.
// A credential without an expiry never expires.
func (c *Credential) ValidFor(now time.Time, margin time.Duration) bool {
	if c.ExpiresAt == nil {
		return c.AccessTokenEncrypted != ""
	}
	return c.ExpiresAt.After(now.Add(margin))
}

// CredentialRepo implements credential persistence.
type CredentialRepo struct {
	db     *gorm.DB
	logger *log.Helper
}

// NewCredentialRepo creates a new credential repository.
func NewCredentialRepo(db *gorm.DB, logger log.Logger) *CredentialRepo {
	return &CredentialRepo{
		db:     db,
		logger: log.NewHelper(logger),
	}
}

// IsCredentialNotFound reports whether err is a missing credential.
func IsCredentialNotFound(err error) bool {
	return kerrors.Reason(err) == ReasonCredentialNotFound
}

// GetCredential loads the credential a principal holds for a provider.
func (r *CredentialRepo) GetCredential(ctx context.Context, principalID int64, provider model.Provider) (*Credential, error) {
	var cred Credential
	err := r.db.WithContext(ctx).
		Where("principal_id = ? AND provider = ?", principalID, provider).
		First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, kerrors.NotFound(ReasonCredentialNotFound, "credential not found").
				WithMetadata(map[string]string{
					"principal_id": fmt.Sprint(principalID),
					"provider":     provider.String(),
				})
		}
		r.logger.Errorf("failed to get credential: %v", err)
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	return &cred, nil
}

// ListExpiringCredentials returns active credentials whose expiry is at or before threshold,
// soonest first.
func (r *CredentialRepo) ListExpiringCredentials(ctx context.Context, threshold time.Time) ([]*Credential, error) {
	var creds []*Credential

	err := r.db.WithContext(ctx).
		Where("status = ?", CredentialActive).
		Where("refresh_token_encrypted <> ''").
		Where("expires_at IS NOT NULL").
		Where("expires_at <= ?", threshold).
		Order("expires_at ASC").
		Find(&creds).Error
	if err != nil {
		r.logger.Errorf("failed to list expiring credentials: %v", err)
		return nil, fmt.Errorf("failed to list expiring credentials: %w", err)
	}

	r.logger.Debugw("msg", "expiring credentials listed", "count", len(creds), "threshold", threshold)
	return creds, nil
}

// UpdateTokens stores a freshly issued grant and clears the error state.
// An empty refresh token in the grant keeps the stored one.
func (r *CredentialRepo) UpdateTokens(ctx context.Context, id int64, grant model.TokenGrant, now time.Time) error {
	updates := map[string]interface{}{
		"access_token_encrypted": grant.AccessToken,
		"status":                 CredentialActive,
		"last_refreshed_at":      now,
		"last_success_at":        now,
		"last_error_kind":        nil,
		"last_error_message":     "",
		"consecutive_failures":   0,
		"updated_at":             now,
	}
	if grant.RefreshToken != "" {
		updates["refresh_token_encrypted"] = grant.RefreshToken
	}
	if grant.ExpiresIn > 0 {
		updates["expires_at"] = now.Add(grant.ExpiresIn)
	}

	result := r.db.WithContext(ctx).
		Model(&Credential{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		r.logger.Errorf("failed to update tokens: %v", result.Error)
		return fmt.Errorf("failed to update tokens: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return kerrors.NotFound(ReasonCredentialNotFound, fmt.Sprintf("credential not found: id=%d", id))
	}

	r.logger.Infow("msg", "credential tokens updated", "credential_id", id, "expires_in", grant.ExpiresIn)
	return nil
}

// RecordError remembers the last classified failure of a credential.
// Kinds that need the principal to act mark the credential as errored.
func (r *CredentialRepo) RecordError(ctx context.Context, id int64, kind model.ErrorKind, message string) error {
	updates := map[string]interface{}{
		"last_error_kind":      kind,
		"last_error_message":   message,
		"consecutive_failures": gorm.Expr("consecutive_failures + ?", 1),
		"updated_at":           time.Now(),
	}
	if kind.RequiresUserIntervention() {
		updates["status"] = CredentialError
	}

	result := r.db.WithContext(ctx).
		Model(&Credential{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		r.logger.Errorf("failed to record credential error: %v", result.Error)
		return fmt.Errorf("failed to record credential error: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return kerrors.NotFound(ReasonCredentialNotFound, fmt.Sprintf("credential not found: id=%d", id))
	}

	return nil
}
