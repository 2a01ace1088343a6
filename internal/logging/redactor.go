package logging

import (
	"strings"
)

const redactedValue = "[REDACTED]"

// Redactor handles secret redaction in log fields.
type Redactor struct {
	sensitiveKeys map[string]bool
}

// NewRedactor creates a new Redactor with default sensitive keys.
func NewRedactor() *Redactor {
	return &Redactor{
		sensitiveKeys: map[string]bool{
			// Credentials
			"password":    true,
			"secret":      true,
			"key":         true,
			"private_key": true,
			"seed_key":    true,

			// Handshake material
			"session_key": true,
			"shared_key":  true,
			"srp_key":     true,
			"verifier":    true,
			"salt":        true,
			"iv":          true,
			"a":           true, // SRP ephemeral client private
			"b":           true, // SRP ephemeral server private
			"x":           true, // SRP private key derived from the password
		},
	}
}

// AddSensitiveKey adds a custom key to the redaction list.
func (r *Redactor) AddSensitiveKey(key string) {
	r.sensitiveKeys[strings.ToLower(key)] = true
}

// RemoveSensitiveKey removes a key from the redaction list.
func (r *Redactor) RemoveSensitiveKey(key string) {
	delete(r.sensitiveKeys, strings.ToLower(key))
}

// RedactFields redacts sensitive values from a map of fields.
func (r *Redactor) RedactFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}

	redacted := make(map[string]any, len(fields))

	for k, v := range fields {
		if r.isSensitiveKey(k) {
			redacted[k] = redactedValue
		} else if nested, ok := v.(map[string]any); ok {
			redacted[k] = r.RedactFields(nested)
		} else {
			redacted[k] = v
		}
	}

	return redacted
}

// isSensitiveKey checks if a field key is marked as sensitive. Only exact
// matches count; substring matching caught legitimate fields.
func (r *Redactor) isSensitiveKey(key string) bool {
	return r.sensitiveKeys[strings.ToLower(key)]
}
