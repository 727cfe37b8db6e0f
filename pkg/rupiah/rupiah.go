// Package rupiah formats integer rupiah amounts the way receipts and messages show them.
package rupiah

import (
	"strconv"
	"strings"
)

// magnitude is |n| as uint64, so math.MinInt64 does not overflow.
func magnitude(n int64) uint64 {
	u := uint64(n)
	if n < 0 {
		u = -u
	}
	return u
}

func groupDigits(u uint64) string {
	ds := strconv.FormatUint(u, 10)
	var parts []string
	for len(ds) > 3 {
		parts = append([]string{ds[len(ds)-3:]}, parts...)
		ds = ds[:len(ds)-3]
	}
	parts = append([]string{ds}, parts...)
	return strings.Join(parts, ".")
}

// Group adds dot separators every 3 digits: 1500000 -> "1.500.000".
func Group(n int64) string {
	if n < 0 {
		return "-" + groupDigits(magnitude(n))
	}
	return groupDigits(magnitude(n))
}

// Format renders n as "Rp 1.500.000".
func Format(n int64) string {
	if n < 0 {
		return "-Rp " + groupDigits(magnitude(n))
	}
	return "Rp " + groupDigits(magnitude(n))
}
