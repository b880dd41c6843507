package logging

import (
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"

	sha256 "github.com/minio/sha256-simd"
)

// Keys whose values are secrets. Claim salts reveal a pack's reward before it
// is claimed; the rest are credentials.
var secretKeys = map[string]struct{}{
	"salt":          {},
	"proof":         {},
	"passphrase":    {},
	"authorization": {},
	"token":         {},
	"dsn":           {},
}

// IsSecret reports whether values logged under key are masked.
func IsSecret(key string) bool {
	_, ok := secretKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// SecretKeys lists the masked keys in sorted order.
func SecretKeys() []string {
	keys := make([]string, 0, len(secretKeys))
	for key := range secretKeys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Fingerprint returns a short digest of value so two log lines about the same
// secret can be correlated without revealing it.
func Fingerprint(value string) string {
	sum := sha256.Sum256([]byte(value))
	return "sha256:" + hex.EncodeToString(sum[:4])
}

// MaskField returns value under key, replaced by its fingerprint when key
// names a secret.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || !IsSecret(key) {
		return slog.String(key, value)
	}
	return slog.String(key, Fingerprint(value))
}
