package tracking

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// piiFields maps property names to Meta user_data keys. Values are hashed.
var piiFields = map[string]string{
	"email":       "em",
	"phone":       "ph",
	"first_name":  "fn",
	"last_name":   "ln",
	"city":        "ct",
	"state":       "st",
	"zip":         "zp",
	"country":     "country",
	"external_id": "external_id",
}

// passthroughFields are user_data keys Meta expects unhashed
var passthroughFields = map[string]string{
	"client_ip":  "client_ip_address",
	"user_agent": "client_user_agent",
	"fbc":        "fbc",
	"fbp":        "fbp",
}

// HashPII normalizes a PII value and returns its SHA-256 hex digest.
// Phone numbers keep digits only; everything else is trimmed and lowercased.
// Values that are already a SHA-256 hex digest are returned unchanged.
func HashPII(field, value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if isSHA256Hex(v) {
		return v
	}
	if field == "phone" {
		v = strings.Map(func(r rune) rune {
			if unicode.IsDigit(r) {
				return r
			}
			return -1
		}, v)
	}
	if v == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

func isSHA256Hex(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
