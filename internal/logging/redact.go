package logging

import (
	"net/http"
	"regexp"
	"strings"
)

// RedactedValue replaces every scrubbed credential.
const RedactedValue = "[REDACTED]"

// Name fragments marking a field or header as a credential.
var credentialNames = []string{
	"password", "secret", "token", "apikey", "api_key", "api-key",
	"authorization", "credential", "service_role",
}

// Credential shapes that can appear inside free text such as backend
// error bodies and transport errors.
var credentialShapes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]{8,}\.[a-zA-Z0-9_-]{8,}\.[a-zA-Z0-9_-]{8,}`),
	regexp.MustCompile(`(?i)(apikey|access_token|refresh_token)=[^&\s"']+`),
}

// Redact scrubs bearer tokens, JWTs and query-string keys from s.
func Redact(s string) string {
	for _, shape := range credentialShapes {
		s = shape.ReplaceAllString(s, RedactedValue)
	}
	return s
}

// IsSensitiveField reports whether a field or header name holds a credential.
func IsSensitiveField(name string) bool {
	name = strings.ToLower(name)
	for _, fragment := range credentialNames {
		if strings.Contains(name, fragment) {
			return true
		}
	}
	return false
}

// RedactFilter returns a copy of a backend query filter safe to log.
func RedactFilter(filter map[string]string) map[string]string {
	if len(filter) == 0 {
		return nil
	}
	out := make(map[string]string, len(filter))
	for k, v := range filter {
		out[k] = redactValue(k, v)
	}
	return out
}

// RedactHeaders flattens h into a map safe to log.
func RedactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = redactValue(name, strings.Join(values, ","))
	}
	return out
}

func redactValue(name, value string) string {
	if IsSensitiveField(name) {
		return RedactedValue
	}
	return Redact(value)
}
