package utils

import (
	"net/url"
	"regexp"
)

var dsnPasswordRegex = regexp.MustCompile(`(:)([^:@/]+)(@)`)

// MaskDSN hides the password of a connection string.
func MaskDSN(dsn string) string {
	return dsnPasswordRegex.ReplaceAllString(dsn, ":***@")
}

// MaskSecret keeps a short prefix and the last four characters of a key or token.
func MaskSecret(s string) string {
	if len(s) <= 10 {
		return "***"
	}
	return s[:6] + "…" + s[len(s)-4:]
}

// MaskURL drops the path and query of an RPC URL; providers embed API keys there.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" {
		return u.Scheme + "://" + u.Host + "/***"
	}
	return u.Scheme + "://" + u.Host
}
