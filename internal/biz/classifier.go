package biz

import (
	"context"
	"errors"
	"net"
	"net/http"

	"CloudRelay/internal/model"
	pkgerrors "CloudRelay/pkg/errors"
)

// messageRule maps any of a set of lower-case fragments to an error kind.
type messageRule struct {
	keywords []string
	kind     model.ErrorKind
}

// providerRules hold the provider-specific vocabulary. Rules are tried in order, first match wins.
var providerRules = map[model.Provider][]messageRule{
	model.ProviderGoogleDrive: {
		{[]string{"storagequotaexceeded", "drive storage quota has been exceeded", "quota exceeded for storage"}, model.ErrorKindStorageQuotaExceeded},
		{[]string{"userratelimitexceeded", "ratelimitexceeded", "dailylimitexceeded", "user rate limit exceeded"}, model.ErrorKindAPIQuotaExceeded},
		{[]string{"invalid_grant", "token has been expired or revoked"}, model.ErrorKindInvalidCredentials},
		{[]string{"autherror", "invalid credentials"}, model.ErrorKindTokenExpired},
		{[]string{"appnotauthorizedtofile", "has not granted the app"}, model.ErrorKindFolderAccessDenied},
		{[]string{"insufficientpermissions", "insufficientfilepermissions", "insufficient permission"}, model.ErrorKindInsufficientPermissions},
		{[]string{"filenotfound", "file not found"}, model.ErrorKindFileNotFound},
		{[]string{"backenderror", "internalerror"}, model.ErrorKindServiceUnavailable},
	},
	model.ProviderDropbox: {
		{[]string{"insufficient_space", "insufficient_quota"}, model.ErrorKindStorageQuotaExceeded},
		{[]string{"expired_access_token"}, model.ErrorKindTokenExpired},
		{[]string{"invalid_access_token", "invalid_grant", "user_suspended"}, model.ErrorKindInvalidCredentials},
		{[]string{"too_many_requests", "too_many_write_operations", "rate_limit"}, model.ErrorKindAPIQuotaExceeded},
		{[]string{"missing_scope"}, model.ErrorKindInsufficientPermissions},
		{[]string{"no_write_permission"}, model.ErrorKindFolderAccessDenied},
		{[]string{"disallowed_name", "disallowed_extension"}, model.ErrorKindInvalidFileType},
		{[]string{"too_large", "payload_too_large"}, model.ErrorKindFileTooLarge},
		{[]string{"path/not_found", "path_lookup/not_found", "not_found"}, model.ErrorKindFileNotFound},
	},
	model.ProviderOneDrive: {
		{[]string{"quotalimitreached", "insufficientstorage"}, model.ErrorKindStorageQuotaExceeded},
		{[]string{"invalidauthenticationtoken", "lifetime validation failed", "token is expired"}, model.ErrorKindTokenExpired},
		{[]string{"invalid_grant", "interaction_required"}, model.ErrorKindInvalidCredentials},
		{[]string{"activitylimitreached", "throttledrequest"}, model.ErrorKindAPIQuotaExceeded},
		{[]string{"accessdenied"}, model.ErrorKindFolderAccessDenied},
		{[]string{"itemnotfound"}, model.ErrorKindFileNotFound},
		{[]string{"maxfilesizeexceeded"}, model.ErrorKindFileTooLarge},
		{[]string{"servicenotavailable", "generalexception"}, model.ErrorKindServiceUnavailable},
	},
	model.ProviderAmazonS3: {
		{[]string{"expiredtoken", "requestexpired", "tokenrefreshrequired"}, model.ErrorKindTokenExpired},
		{[]string{"invalidaccesskeyid", "signaturedoesnotmatch", "invalidtoken"}, model.ErrorKindInvalidCredentials},
		{[]string{"slowdown", "requestlimitexceeded", "throttling"}, model.ErrorKindAPIQuotaExceeded},
		{[]string{"accessdenied", "allaccessdisabled"}, model.ErrorKindInsufficientPermissions},
		{[]string{"nosuchkey", "nosuchbucket"}, model.ErrorKindFileNotFound},
		{[]string{"entitytoolarge"}, model.ErrorKindFileTooLarge},
		{[]string{"requesttimeout"}, model.ErrorKindTimeout},
		{[]string{"serviceunavailable", "internalerror"}, model.ErrorKindServiceUnavailable},
	},
}

// statusKinds maps HTTP statuses reported by adapters to error kinds.
var statusKinds = map[int]model.ErrorKind{
	http.StatusUnauthorized:          model.ErrorKindTokenExpired,
	http.StatusForbidden:             model.ErrorKindInsufficientPermissions,
	http.StatusNotFound:              model.ErrorKindFileNotFound,
	http.StatusRequestTimeout:        model.ErrorKindTimeout,
	http.StatusGatewayTimeout:        model.ErrorKindTimeout,
	http.StatusRequestEntityTooLarge: model.ErrorKindFileTooLarge,
	http.StatusUnsupportedMediaType:  model.ErrorKindInvalidFileType,
	http.StatusUnprocessableEntity:   model.ErrorKindInvalidFileContent,
	http.StatusTooManyRequests:       model.ErrorKindAPIQuotaExceeded,
	http.StatusInternalServerError:   model.ErrorKindServiceUnavailable,
	http.StatusNotImplemented:        model.ErrorKindFeatureNotSupported,
	http.StatusBadGateway:            model.ErrorKindServiceUnavailable,
	http.StatusServiceUnavailable:    model.ErrorKindServiceUnavailable,
	http.StatusInsufficientStorage:   model.ErrorKindStorageQuotaExceeded,
}

// genericRules apply to every provider once nothing more specific matched.
var genericRules = []messageRule{
	{[]string{"rate limit", "too many requests", "quota exceeded", "throttl"}, model.ErrorKindAPIQuotaExceeded},
	{[]string{"storage full", "insufficient storage", "not enough space", "out of space"}, model.ErrorKindStorageQuotaExceeded},
	{[]string{"invalid_grant", "invalid_client", "invalid credentials", "revoked"}, model.ErrorKindInvalidCredentials},
	{[]string{"token expired", "expired token", "invalid token", "unauthorized", "unauthenticated"}, model.ErrorKindTokenExpired},
	{[]string{"permission denied", "forbidden", "insufficient permission", "access denied"}, model.ErrorKindInsufficientPermissions},
	{[]string{"file too large", "payload too large", "entity too large"}, model.ErrorKindFileTooLarge},
	{[]string{"unsupported file type", "unsupported media type", "invalid file type"}, model.ErrorKindInvalidFileType},
	{[]string{"corrupt", "invalid file content", "checksum mismatch"}, model.ErrorKindInvalidFileContent},
	{[]string{"not found", "no such file"}, model.ErrorKindFileNotFound},
	{[]string{"service unavailable", "bad gateway", "internal server error", "temporarily unavailable"}, model.ErrorKindServiceUnavailable},
	{[]string{"not configured"}, model.ErrorKindProviderNotConfigured},
	{[]string{"not supported", "not implemented"}, model.ErrorKindFeatureNotSupported},
}

// ErrorClassifier turns a provider failure into an ErrorKind. It is total: every input,
// nil included, yields a kind.
type ErrorClassifier struct{}

// NewErrorClassifier creates a classifier.
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// Classify maps err raised by an operation against provider to an ErrorKind.
func (c *ErrorClassifier) Classify(provider model.Provider, err error) model.ErrorKind {
	if err == nil {
		return model.ErrorKindUnknown
	}

	switch {
	case errors.Is(err, pkgerrors.ErrProviderNotConfigured):
		return model.ErrorKindProviderNotConfigured
	case errors.Is(err, pkgerrors.ErrFeatureNotSupported):
		return model.ErrorKindFeatureNotSupported
	case errors.Is(err, context.DeadlineExceeded):
		return model.ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		return model.ErrorKindUnknown
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.ErrorKindTimeout
	}

	text := pkgerrors.Text(err)

	if kind, ok := matchRules(providerRules[provider], text); ok {
		return kind
	}

	if kind, ok := statusKinds[pkgerrors.StatusCode(err)]; ok {
		return kind
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return model.ErrorKindNetworkError
	}

	// timeouts first: "dial tcp ... i/o timeout" is a timeout, not a refused connection
	if pkgerrors.IsTimeoutText(text) {
		return model.ErrorKindTimeout
	}
	if pkgerrors.IsConnectionError(text) {
		return model.ErrorKindNetworkError
	}

	if kind, ok := matchRules(genericRules, text); ok {
		return kind
	}

	return model.ErrorKindUnknown
}

// ClassifyRefresh classifies a failed token refresh. Quota errors on the token endpoint mean
// the refresh itself is being rate limited.
func (c *ErrorClassifier) ClassifyRefresh(provider model.Provider, err error) model.ErrorKind {
	kind := c.Classify(provider, err)
	if kind == model.ErrorKindAPIQuotaExceeded {
		return model.ErrorKindTokenRefreshRateLimited
	}
	return kind
}

func matchRules(rules []messageRule, text string) (model.ErrorKind, bool) {
	for _, rule := range rules {
		if pkgerrors.ContainsAny(text, rule.keywords...) {
			return rule.kind, true
		}
	}
	return "", false
}
