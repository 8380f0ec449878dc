package fusion

import (
	"regexp"
	"strings"
)

// Confidence scale: 1 = missing, 2 = present but failed validation,
// 3-4 = present without strong validation, 5 = present and validated.
const (
	ConfidenceMissing   = 1
	ConfidenceInvalid   = 2
	ConfidenceWeak      = 3
	ConfidenceLikely    = 4
	ConfidenceValidated = 5
)

var (
	// I, O and Q are excluded from valid VINs.
	vinPattern     = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)
	isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	statePattern   = regexp.MustCompile(`^[A-Z]{2}$`)
	zipPattern     = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
)

// Wrap builds a {value, confidence} leaf with the confidence clamped to [1,5].
func Wrap(value any, confidence int) map[string]any {
	return map[string]any{
		"value":      value,
		"confidence": Clamp(confidence),
	}
}

// Clamp bounds a confidence score to the 1..5 scale.
func Clamp(c int) int {
	if c < ConfidenceMissing {
		return ConfidenceMissing
	}
	if c > ConfidenceValidated {
		return ConfidenceValidated
	}
	return c
}

// ConfidencePresent scores a field that has no dedicated validator: good when
// present, 1 when missing or blank.
func ConfidencePresent(v any, good int) int {
	if v == nil {
		return ConfidenceMissing
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return ConfidenceMissing
	}
	return Clamp(good)
}

// ConfidenceVIN validates a 17-character VIN (I/O/Q excluded).
func ConfidenceVIN(vin string) int {
	if vin == "" {
		return ConfidenceMissing
	}
	norm := strings.ToUpper(strings.TrimSpace(vin))
	if vinPattern.MatchString(norm) {
		return ConfidenceValidated
	}
	return ConfidenceInvalid
}

// ConfidenceYear validates a model year in the plausible 1900-2100 range.
func ConfidenceYear(year *int) int {
	if year == nil {
		return ConfidenceMissing
	}
	if *year >= 1900 && *year <= 2100 {
		return ConfidenceValidated
	}
	return ConfidenceInvalid
}

// ConfidenceDate validates an ISO yyyy-mm-dd date string.
func ConfidenceDate(date string) int {
	if strings.TrimSpace(date) == "" {
		return ConfidenceMissing
	}
	if isoDatePattern.MatchString(date) {
		return ConfidenceValidated
	}
	return ConfidenceInvalid
}

// ConfidenceAddress scores an address by its strongest validated component.
func ConfidenceAddress(line1, city, state, zip string) int {
	c := ConfidenceMissing
	if strings.TrimSpace(line1) != "" {
		c = max(c, ConfidenceWeak)
	}
	if strings.TrimSpace(city) != "" {
		c = max(c, ConfidenceLikely)
	}
	if statePattern.MatchString(state) {
		c = max(c, ConfidenceValidated)
	}
	if zipPattern.MatchString(zip) {
		c = max(c, ConfidenceValidated)
	}
	return c
}
