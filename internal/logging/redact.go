package logging

import (
	"log/slog"
	"strings"
)

const redactedValue = "***REDACTED***"

var sensitiveKeys = []string{"password", "token", "authorization", "secret"}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// redact replaces the value of credential-like attributes, descending into groups.
func redact(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		out := make([]any, 0, len(attrs))
		for _, attr := range attrs {
			out = append(out, redact(attr))
		}
		return slog.Group(a.Key, out...)
	}
	if isSensitiveKey(a.Key) && a.Value.String() != "" {
		return slog.String(a.Key, redactedValue)
	}
	return a
}
