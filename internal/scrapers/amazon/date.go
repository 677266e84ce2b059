package amazon

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"amazon-invoices/internal/archive"
)

// UnknownBucket is the bucket key for dates that could not be normalized.
const UnknownBucket = archive.UnknownBucket

var monthNumbers = map[string]int{
	"january":   1,
	"february":  2,
	"march":     3,
	"april":     4,
	"may":       5,
	"june":      6,
	"july":      7,
	"august":    8,
	"september": 9,
	"october":   10,
	"november":  11,
	"december":  12,

	"januari":  1,
	"februari": 2,
	"maart":    3,
	"mei":      5,
	"juni":     6,
	"juli":     7,
	"augustus": 8,
	"oktober":  10,
}

var (
	dayMonthYearRegex = regexp.MustCompile(`(\d{1,2})\.?\s+(\p{L}+)\s+(\d{4})`)
	isoDateRegex      = regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`)
)

// NormalizeDate converts a listing date ("13 March 2023", "2 januari 2024",
// "2023-03-13") into an "MM-YYYY" bucket key, anything else maps to
// UnknownBucket.
func NormalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)

	if m := dayMonthYearRegex.FindStringSubmatch(raw); m != nil {
		month, ok := monthNumbers[strings.ToLower(m[2])]
		if ok {
			return bucketKey(month, m[3])
		}
	}

	if m := isoDateRegex.FindStringSubmatch(raw); m != nil {
		month, err := strconv.Atoi(m[2])
		if err == nil && month >= 1 && month <= 12 {
			return bucketKey(month, m[1])
		}
	}

	return UnknownBucket
}

func bucketKey(month int, year string) string {
	return fmt.Sprintf("%02d-%s", month, year)
}
