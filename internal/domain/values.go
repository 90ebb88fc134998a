package domain

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const isoDate = "2006-01-02"

var (
	whitespaceRe = regexp.MustCompile(`\s+`)

	// dateLayouts are tried in order. Slash dates are month first, matching
	// the mdb-export default output.
	dateLayouts = []string{
		isoDate,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		time.RFC3339,
		"2006/01/02",
		"01/02/06 15:04:05",
		"1/2/06 15:04:05",
		"01/02/2006 15:04:05",
		"1/2/2006 15:04:05",
		"01/02/2006",
		"1/2/2006",
		"01/02/06",
		"1/2/06",
	}
)

// Excel serial day numbers accepted as dates: 1927-05-18 through 2119-01-10.
const (
	minExcelSerial = 10000
	maxExcelSerial = 80000
)

// CanonicalHeader trims, upper-cases and replaces internal whitespace with "_".
func CanonicalHeader(h string) string {
	return whitespaceRe.ReplaceAllString(strings.ToUpper(strings.TrimSpace(h)), "_")
}

// ParseNumber converts a cell to a float, accepting a comma decimal
// separator. Empty, malformed and non-finite values yield nil.
func ParseNumber(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// ParseDate converts a cell to an ISO-8601 date. It returns "" when the
// value cannot be interpreted as a date.
func ParseDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(isoDate)
		}
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial >= minExcelSerial && serial <= maxExcelSerial {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return t.Format(isoDate)
		}
	}
	return ""
}

// ParseFlag interprets a yes/no cell. Access stores true as -1, so any
// non-zero number counts as set.
func ParseFlag(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "0", "false", "no", "n", "f":
		return false
	case "true", "t", "si", "sí", "s", "yes", "y", "x", "verdadero":
		return true
	}
	if v := ParseNumber(s); v != nil {
		return *v != 0
	}
	return false
}

// PercentFull derives the fill percentage rounded to two decimals. It
// returns nil unless both operands are present and capacity is positive.
func PercentFull(capacity, volume *float64) *float64 {
	if capacity == nil || volume == nil || *capacity <= 0 {
		return nil
	}
	v := roundTo(*volume / *capacity * 100, 2)
	return &v
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func stringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
