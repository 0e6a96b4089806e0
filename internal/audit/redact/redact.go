// Package redact scrubs sensitive data from structured payloads before
// they reach storage.
//
// The pipeline is pure: no I/O, no state, deterministic output. Redaction
// is irreversible by construction: matched substrings are replaced with a
// fixed placeholder and secret-named fields are dropped entirely, so the
// original values never exist downstream of this package.
package redact

import (
	"regexp"
)

// Placeholder is the single fixed token written in place of sensitive
// values. Downstream tooling asserts on it; do not vary it per detector.
const Placeholder = "[REDACTED]"

// detector pairs a name with a compiled pattern. Order matters: the card
// detector must run after the more specific SSN/phone shapes so a
// formatted SSN is not half-eaten as a digit run.
type detector struct {
	name    string
	pattern *regexp.Regexp
}

var detectors = []detector{
	{"email", regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},
	{"phone", regexp.MustCompile(`\b\d{3}-\d{3}-\d{4}\b|\(\d{3}\)\s*\d{3}-\d{4}`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	// Payment card numbers: 13-19 digits with optional single space or dash
	// separators. A bare group of up to 4 digits ("card ending 4242") does
	// not match and passes through.
	{"card", regexp.MustCompile(`\b\d{4}(?:[ -]?\d){9,15}\b`)},
}

// secretKeyPattern matches field names whose values must never be stored,
// not even as a placeholder.
var secretKeyPattern = regexp.MustCompile(`(?i)(password|passwd|secret|token|credential|private_?key|api_?key)`)

// Redact returns a deep copy of payload with sensitive string values
// replaced by Placeholder and secret-named fields removed. Nested maps and
// slices are walked; non-string leaves pass through unchanged. A nil
// payload yields nil.
func Redact(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		if IsSecretField(key) {
			continue
		}
		out[key] = redactValue(value)
	}
	return out
}

// Scrub applies the detectors to a single string. Exposed for the
// compliance enforcer, which re-scrubs freeform fields of existing records.
func Scrub(s string) string {
	for _, d := range detectors {
		s = d.pattern.ReplaceAllString(s, Placeholder)
	}
	return s
}

// IsSecretField reports whether a field name indicates secret content.
func IsSecretField(name string) bool {
	return secretKeyPattern.MatchString(name)
}

func redactValue(value any) any {
	switch v := value.(type) {
	case string:
		return Scrub(v)
	case map[string]any:
		return Redact(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = redactValue(item)
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Scrub(item)
		}
		return out
	default:
		// Numbers, booleans, nil: nothing to scrub. A card number that
		// arrives as a JSON number is out of detector reach; payloads are
		// decoded to strings at the boundary.
		return value
	}
}

// ScrubMap applies Scrub to every value of a flat string map, preserving
// keys. Secret-named keys are dropped, mirroring Redact.
func ScrubMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if IsSecretField(k) {
			continue
		}
		out[k] = Scrub(v)
	}
	return out
}
