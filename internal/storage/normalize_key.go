package storage

import (
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeKey converts a natural-key value to a canonical string form,
// suitable for in-memory fingerprints (e.g. "ACME S.A." or "2024").
//
// Strings are trimmed and NFC-normalised: scraped Spanish titles mix composed
// and decomposed accents ("Categoría" vs "Categoría"), and both must
// produce the same key.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return norm.NFC.String(strings.TrimSpace(t))
	case []byte:
		return norm.NFC.String(strings.TrimSpace(string(t)))
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return norm.NFC.String(strings.TrimSpace(fmtAny(v)))
	}
}
