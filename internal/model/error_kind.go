package model

import (
	"database/sql/driver"
	"fmt"
)

// ErrorKind is the provider-agnostic classification of a failed provider operation.
// The zero value means no error has been recorded.
type ErrorKind string

// Closed set of error kinds.
const (
	ErrorKindTokenExpired            ErrorKind = "token_expired"
	ErrorKindTokenRefreshRateLimited ErrorKind = "token_refresh_rate_limited"
	ErrorKindInvalidCredentials      ErrorKind = "invalid_credentials"
	ErrorKindInsufficientPermissions ErrorKind = "insufficient_permissions"
	ErrorKindAPIQuotaExceeded        ErrorKind = "api_quota_exceeded"
	ErrorKindStorageQuotaExceeded    ErrorKind = "storage_quota_exceeded"
	ErrorKindNetworkError            ErrorKind = "network_error"
	ErrorKindServiceUnavailable      ErrorKind = "service_unavailable"
	ErrorKindTimeout                 ErrorKind = "timeout"
	ErrorKindFileNotFound            ErrorKind = "file_not_found"
	ErrorKindFolderAccessDenied      ErrorKind = "folder_access_denied"
	ErrorKindInvalidFileType         ErrorKind = "invalid_file_type"
	ErrorKindFileTooLarge            ErrorKind = "file_too_large"
	ErrorKindInvalidFileContent      ErrorKind = "invalid_file_content"
	ErrorKindProviderNotConfigured   ErrorKind = "provider_not_configured"
	ErrorKindFeatureNotSupported     ErrorKind = "feature_not_supported"
	ErrorKindUnknown                 ErrorKind = "unknown"
)

// ErrorKindFacts are the static facts attached to every ErrorKind.
type ErrorKindFacts struct {
	Recoverable              bool
	RequiresUserIntervention bool
	MaxRetryAttempts         int
	Description              string
}

var errorKindFacts = map[ErrorKind]ErrorKindFacts{
	ErrorKindTokenExpired:            {true, false, 3, "The access token has expired"},
	ErrorKindTokenRefreshRateLimited: {true, false, 5, "Token refresh is being rate limited by the provider"},
	ErrorKindInvalidCredentials:      {false, true, 1, "The stored credentials were rejected; reconnect the account"},
	ErrorKindInsufficientPermissions: {false, true, 0, "The connected account lacks the required permissions"},
	ErrorKindAPIQuotaExceeded:        {true, false, 5, "The provider API quota has been exceeded"},
	ErrorKindStorageQuotaExceeded:    {false, true, 0, "The cloud storage account is full"},
	ErrorKindNetworkError:            {true, false, 3, "The provider could not be reached"},
	ErrorKindServiceUnavailable:      {true, false, 3, "The provider service is temporarily unavailable"},
	ErrorKindTimeout:                 {true, false, 3, "The provider did not answer in time"},
	ErrorKindFileNotFound:            {false, false, 0, "The file does not exist"},
	ErrorKindFolderAccessDenied:      {false, true, 0, "The target folder cannot be written to"},
	ErrorKindInvalidFileType:         {false, true, 0, "The provider does not accept this file type"},
	ErrorKindFileTooLarge:            {false, true, 0, "The file exceeds the provider size limit"},
	ErrorKindInvalidFileContent:      {false, false, 0, "The provider rejected the file content"},
	ErrorKindProviderNotConfigured:   {false, true, 0, "The storage provider is not configured"},
	ErrorKindFeatureNotSupported:     {false, false, 0, "The provider does not support this operation"},
	ErrorKindUnknown:                 {true, false, 1, "An unexpected provider error occurred"},
}

// AllErrorKinds returns every member of the closed set, in declaration order.
func AllErrorKinds() []ErrorKind {
	return []ErrorKind{
		ErrorKindTokenExpired,
		ErrorKindTokenRefreshRateLimited,
		ErrorKindInvalidCredentials,
		ErrorKindInsufficientPermissions,
		ErrorKindAPIQuotaExceeded,
		ErrorKindStorageQuotaExceeded,
		ErrorKindNetworkError,
		ErrorKindServiceUnavailable,
		ErrorKindTimeout,
		ErrorKindFileNotFound,
		ErrorKindFolderAccessDenied,
		ErrorKindInvalidFileType,
		ErrorKindFileTooLarge,
		ErrorKindInvalidFileContent,
		ErrorKindProviderNotConfigured,
		ErrorKindFeatureNotSupported,
		ErrorKindUnknown,
	}
}

// ParseErrorKind converts a stored value into an ErrorKind.
// Values outside the closed set map to ErrorKindUnknown; the empty string stays empty.
func ParseErrorKind(s string) ErrorKind {
	if s == "" {
		return ""
	}
	k := ErrorKind(s)
	if _, ok := errorKindFacts[k]; ok {
		return k
	}
	return ErrorKindUnknown
}

// Facts returns the static facts for k. Unlisted kinds get the Unknown facts.
func (k ErrorKind) Facts() ErrorKindFacts {
	if f, ok := errorKindFacts[k]; ok {
		return f
	}
	return errorKindFacts[ErrorKindUnknown]
}

// IsRecoverable reports whether automatic recovery may fix the failure.
func (k ErrorKind) IsRecoverable() bool { return k.Facts().Recoverable }

// RequiresUserIntervention reports whether only the user can fix the failure.
func (k ErrorKind) RequiresUserIntervention() bool { return k.Facts().RequiresUserIntervention }

// MaxRetryAttempts returns how many silent retries are allowed before surfacing the failure.
func (k ErrorKind) MaxRetryAttempts() int { return k.Facts().MaxRetryAttempts }

// Description returns a short human readable explanation.
func (k ErrorKind) Description() string { return k.Facts().Description }

// IsCritical reports whether a single occurrence should alert immediately.
func (k ErrorKind) IsCritical() bool {
	switch k {
	case ErrorKindTokenExpired, ErrorKindStorageQuotaExceeded, ErrorKindInsufficientPermissions:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (k ErrorKind) String() string {
	return string(k)
}

// Scan implements sql.Scanner interface for ErrorKind.
func (k *ErrorKind) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*k = ""
	case []byte:
		*k = ParseErrorKind(string(v))
	case string:
		*k = ParseErrorKind(v)
	default:
		return fmt.Errorf("cannot scan type %T into ErrorKind", value)
	}
	return nil
}

// Value implements driver.Valuer interface for ErrorKind. The empty kind is stored as NULL.
func (k ErrorKind) Value() (driver.Value, error) {
	if k == "" {
		return nil, nil
	}
	return string(k), nil
}
