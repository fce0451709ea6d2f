package option

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSizeSuffix parses a size string with an optional unit suffix, per
// spec.md §6: k/K (x1024), M (x1024^2), G (x1024^3), s (x512), % (a fraction
// of some external reference size, only meaningful where the caller allows
// it). When the string ends in '%' isPercent is true and value holds the
// numerator out of 100.
//
// Grounded on _examples/original_source/util.c's strtoul_suffix.
func ParseSizeSuffix(str string) (value uint64, isPercent bool, err error) {
	str = strings.TrimSpace(str)
	if str == "" {
		return 0, false, nil
	}

	suffix := str[len(str)-1]
	numPart := str

	var mult uint64 = 1
	switch suffix {
	case '%':
		isPercent = true
		numPart = str[:len(str)-1]
	case 'k', 'K':
		mult = 1024
		numPart = str[:len(str)-1]
	case 'M':
		mult = 1024 * 1024
		numPart = str[:len(str)-1]
	case 'G':
		mult = 1024 * 1024 * 1024
		numPart = str[:len(str)-1]
	case 's':
		mult = 512
		numPart = str[:len(str)-1]
	}

	v, err := strconv.ParseUint(strings.TrimSpace(numPart), 0, 64)
	if err != nil {
		return 0, false, fmt.Errorf("option: invalid size %q: %w", str, err)
	}

	if isPercent {
		return v, true, nil
	}

	return v * mult, false, nil
}

// MustSize is a convenience wrapper for call sites that have already
// validated percent is disallowed.
func MustSize(str string) (uint64, error) {
	v, percent, err := ParseSizeSuffix(str)
	if err != nil {
		return 0, err
	}
	if percent {
		return 0, fmt.Errorf("option: %% suffix not allowed here: %q", str)
	}
	return v, nil
}
