// Package starrating converts the star glyphs displayed next to a film
// entry into a numeric rating.
package starrating

import "strings"

const (
	fullStar = '★'
	halfStar = '½'
)

// Parse converts a raw star string (e.g. "★★★½") into a numeric rating.
// The value is the number of full stars plus 0.5 when a half star is
// present. ok is false when the string carries no rating at all, which
// includes the empty string and arbitrary garbage: an unratable string
// is "no rating", never an error.
func Parse(raw string) (value float64, ok bool) {
	full := strings.Count(raw, string(fullStar))
	half := strings.ContainsRune(raw, halfStar)

	if full == 0 && !half {
		return 0, false
	}

	value = float64(full)
	if half {
		value += 0.5
	}
	return value, true
}
