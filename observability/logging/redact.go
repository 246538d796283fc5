package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue replaces values that must not reach the logs.
const RedactedValue = "[REDACTED]"

// Keys emitted verbatim. Anything else passed through MaskField is masked.
var plainKeys = map[string]struct{}{
	"service":    {},
	"env":        {},
	"error":      {},
	"reason":     {},
	"component":  {},
	"operation":  {},
	"txref":      {},
	"positionid": {},
	"settlement": {},
	"asset":      {},
	"route":      {},
	"status":     {},
	"subject":    {},
	"module":     {},
}

func isPlain(key string) bool {
	_, ok := plainKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField logs value under key unless the key may carry secrets.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || isPlain(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// MaskEndpoint keeps the scheme and host of a URL and drops credentials, path
// and query, which webhook receivers commonly use to carry tokens.
func MaskEndpoint(key, raw string) slog.Attr {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return slog.String(key, RedactedValue)
	}
	masked := u.Scheme + "://" + u.Host
	if u.User != nil || (u.Path != "" && u.Path != "/") || u.RawQuery != "" {
		masked += "/" + RedactedValue
	}
	return slog.String(key, masked)
}
