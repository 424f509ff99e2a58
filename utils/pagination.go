package utils

import "strconv"

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// GetPaginationParams normalizes optional offset/limit values into ones that
// are safe to hand to a LIMIT/OFFSET query. Nil or negative offsets become 0;
// a nil or non-positive limit falls back to the default, and anything above
// the cap is clamped to it.
func GetPaginationParams(offset, limit *int) (int, int) {
	off := 0
	if offset != nil && *offset > 0 {
		off = *offset
	}

	lim := defaultPageSize
	if limit != nil && *limit > 0 {
		lim = *limit
		if lim > maxPageSize {
			lim = maxPageSize
		}
	}

	return off, lim
}

// ParseOptionalInt turns a raw query-string value into an optional integer.
// Empty and unparseable values both come back as nil, so callers can treat
// "absent" and "junk" the same way and let GetPaginationParams fill defaults.
func ParseOptionalInt(raw string) *int {
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &v
}
