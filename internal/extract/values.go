package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"pyfin/internal/storage"
)

var reNumber = regexp.MustCompile(`-?\d[\d.,]*`)

// ParseNumber reads a number written either as 1.234.567,89 (es-PY) or
// 1,234,567.89. The separator that appears last is the decimal mark; a lone
// separator followed by exactly three digits is a thousands mark.
// Currency symbols, percent signs and spaces are ignored.
func ParseNumber(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	m := reNumber.FindString(s)
	if m == "" {
		return 0, fmt.Errorf("no number in %q", s)
	}
	neg := strings.HasPrefix(m, "-")
	m = strings.Trim(strings.TrimPrefix(m, "-"), ".,")

	lastDot, lastComma := strings.LastIndex(m, "."), strings.LastIndex(m, ",")
	dec := byte(0)
	switch {
	case lastDot >= 0 && lastComma >= 0:
		dec = m[max(lastDot, lastComma)]
	case lastComma >= 0:
		if strings.Count(m, ",") == 1 && len(m)-lastComma-1 != 3 {
			dec = ','
		}
	case lastDot >= 0:
		if strings.Count(m, ".") == 1 && len(m)-lastDot-1 != 3 {
			dec = '.'
		}
	}

	var b strings.Builder
	for i := 0; i < len(m); i++ {
		switch c := m[i]; {
		case c == dec:
			b.WriteByte('.')
		case c == '.' || c == ',':
		default:
			b.WriteByte(c)
		}
	}
	f, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0, fmt.Errorf("parse number %q: %w", s, err)
	}
	if neg {
		f = -f
	}
	return f, nil
}

var dateLayouts = []string{"2006-01-02", "02/01/2006", "2/1/2006", "02-01-2006", "02.01.2006"}

// ParseDate reads an ISO or day-first date and returns it as YYYY-MM-DD.
func ParseDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("unrecognised date %q", s)
}

// coerce converts an extracted string to the column's semantic type. Values
// that do not parse are returned unchanged with ok=false.
func coerce(typ, v string) (any, bool) {
	switch typ {
	case storage.TypeNumeric:
		f, err := ParseNumber(v)
		if err != nil {
			return v, false
		}
		return f, true
	case storage.TypeInteger:
		f, err := ParseNumber(v)
		if err != nil || f != float64(int64(f)) {
			return v, false
		}
		return int64(f), true
	case storage.TypeDate:
		d, err := ParseDate(v)
		if err != nil {
			return v, false
		}
		return d, true
	case storage.TypeBoolean:
		switch strings.ToLower(v) {
		case "si", "sí", "true", "1", "x":
			return true, true
		case "no", "false", "0":
			return false, true
		}
		return v, false
	default:
		return v, true
	}
}
