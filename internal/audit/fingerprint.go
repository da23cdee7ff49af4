package audit

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/goccy/go-json"
)

// Fingerprint returns a stable hash of v used for no-op detection in the diff
// engine. It hashes the JSON serialization: struct fields serialize in
// declaration order and map keys are emitted sorted, so the result is
// order-independent for map-backed metadata. Whitespace inside field values is
// significant.
func Fingerprint(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Only unmarshalable types (channels, funcs) can get here; domain
		// models are plain data.
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
