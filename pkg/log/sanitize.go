package log

import (
	"net/url"
	"strings"
)

// sensitiveKeywords mark keys whose values must never reach the logs in clear.
var sensitiveKeywords = []string{
	"password", "passwd", "pwd",
	"api_key", "apikey", "api-key",
	"access_token", "refresh_token", "id_token", "token_encrypted",
	"client_secret", "secret", "authorization", "bearer",
	"private_key", "privatekey", "dsn",
}

// SanitizeField masks value when key names a secret, an email address or a webhook URL.
func SanitizeField(key, value string) string {
	if value == "" {
		return value
	}

	lowerKey := strings.ToLower(key)

	switch {
	case strings.Contains(lowerKey, "webhook"):
		return sanitizeURL(value)
	case strings.Contains(lowerKey, "email"):
		return sanitizeEmail(value)
	}

	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lowerKey, keyword) {
			return sanitizeToken(value)
		}
	}

	return value
}

// sanitizeToken keeps the first and last 4 characters of long values.
func sanitizeToken(value string) string {
	if len(value) <= 8 {
		if len(value) <= 2 {
			return strings.Repeat("*", len(value))
		}
		return string(value[0]) + strings.Repeat("*", len(value)-2) + string(value[len(value)-1])
	}

	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// sanitizeEmail keeps the first 3 characters of the local part and the domain.
func sanitizeEmail(value string) string {
	local, domain, ok := strings.Cut(value, "@")
	if !ok || strings.Contains(domain, "@") {
		return strings.Repeat("*", len(value))
	}

	if len(local) <= 3 {
		if local == "" {
			return "@" + domain
		}
		return string(local[0]) + strings.Repeat("*", len(local)-1) + "@" + domain
	}

	return local[:3] + "***@" + domain
}

// sanitizeURL keeps scheme and host; the path of a webhook URL is the credential.
func sanitizeURL(value string) string {
	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		return sanitizeToken(value)
	}
	return u.Scheme + "://" + u.Host + "/***"
}
