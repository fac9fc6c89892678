// Package redact strips credentials and other secrets from text and structured
// data before it is logged or persisted.
package redact

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Placeholder replaces any elided value.
const Placeholder = "[REDACTED]"

// MaxErrorLength bounds sanitized error text stored in last_error.
const MaxErrorLength = 500

// sensitiveKeys are matched case-insensitively as substrings of a key name.
var sensitiveKeys = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"api_key",
	"apikey",
	"api-key",
	"authorization",
	"cookie",
	"credential",
	"private_key",
	"privatekey",
	"session",
	"jwt",
}

var (
	keyValuePattern = regexp.MustCompile(
		`(?i)\b([a-z0-9_\-]*(?:password|passwd|secret|token|api[_\-]?key|authorization|credential|private[_\-]?key|jwt)[a-z0-9_\-]*)(\s*[:=]\s*)((?:bearer\s+|basic\s+)?(?:"[^"]*"|'[^']*'|[^\s,;&]+))`,
	)
	bearerPattern  = regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9\-._~+/]+=*`)
	urlUserPattern = regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.\-]*://)[^/\s:@]+:[^/\s@]+@`)
)

// IsSensitiveKey reports whether a map key or log attribute name looks like it
// carries a secret.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// String elides secrets embedded in free text such as "password=hunter2",
// "Authorization: Bearer abc" or "postgres://user:pw@host".
func String(s string) string {
	s = bearerPattern.ReplaceAllString(s, "Bearer "+Placeholder)
	s = urlUserPattern.ReplaceAllString(s, "${1}"+Placeholder+"@")
	s = keyValuePattern.ReplaceAllString(s, "${1}${2}"+Placeholder)
	return s
}

// Error renders err as a single sanitized line of valid UTF-8, at most
// MaxErrorLength bytes.
// Stack traces and continuation lines are dropped.
func Error(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	if i := strings.IndexAny(msg, "\r\n"); i >= 0 {
		msg = msg[:i]
	}
	msg = strings.TrimSpace(String(msg))

	if len(msg) > MaxErrorLength {
		cut := MaxErrorLength - 3
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}
	return strings.ToValidUTF8(msg, "\uFFFD")
}

// Map returns a copy of m without sensitive keys. Nested maps are sanitized
// recursively and string values are trimmed.
func Map(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		if IsSensitiveKey(k) {
			continue
		}
		out[k] = value(v)
	}
	return out
}

func value(v any) any {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		return Map(t)
	case []any:
		items := make([]any, len(t))
		for i, item := range t {
			items[i] = value(item)
		}
		return items
	default:
		return v
	}
}
