package valueobject

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrInvalidDaysRange is returned when a days-past-due range string cannot be parsed.
var ErrInvalidDaysRange = errors.New("invalid days range")

var (
	boundedRangeRe = regexp.MustCompile(`^(\d+)-(\d+)$`)
	openRangeRe    = regexp.MustCompile(`^(\d+)\+$`)
)

// DaysRange is a half-open interval of days past due: Min is inclusive, Max is
// exclusive. An open-ended range has no upper bound.
type DaysRange struct {
	min     int
	max     int
	bounded bool
}

// NewBoundedDaysRange creates the range [min, max).
func NewBoundedDaysRange(min, max int) (DaysRange, error) {
	if min < 0 {
		return DaysRange{}, fmt.Errorf("%w: negative minimum %d", ErrInvalidDaysRange, min)
	}
	if min > max {
		return DaysRange{}, fmt.Errorf("%w: minimum %d exceeds maximum %d", ErrInvalidDaysRange, min, max)
	}
	return DaysRange{min: min, max: max, bounded: true}, nil
}

// NewOpenDaysRange creates the range [min, +inf).
func NewOpenDaysRange(min int) (DaysRange, error) {
	if min < 0 {
		return DaysRange{}, fmt.Errorf("%w: negative minimum %d", ErrInvalidDaysRange, min)
	}
	return DaysRange{min: min}, nil
}

// MustDaysRange parses s and panics on error. Intended for package-level defaults.
func MustDaysRange(s string) DaysRange {
	r, err := ParseDaysRange(s)
	if err != nil {
		panic(err)
	}
	return r
}

// ParseDaysRange parses "<int>-<int>" or "<int>+".
func ParseDaysRange(s string) (DaysRange, error) {
	if m := openRangeRe.FindStringSubmatch(s); m != nil {
		min, err := strconv.Atoi(m[1])
		if err != nil {
			return DaysRange{}, fmt.Errorf("%w: %q", ErrInvalidDaysRange, s)
		}
		return NewOpenDaysRange(min)
	}
	if m := boundedRangeRe.FindStringSubmatch(s); m != nil {
		min, errMin := strconv.Atoi(m[1])
		max, errMax := strconv.Atoi(m[2])
		if errMin != nil || errMax != nil {
			return DaysRange{}, fmt.Errorf("%w: %q", ErrInvalidDaysRange, s)
		}
		return NewBoundedDaysRange(min, max)
	}
	return DaysRange{}, fmt.Errorf("%w: %q, expected \"0-30\" or \"180+\"", ErrInvalidDaysRange, s)
}

// Min returns the inclusive lower bound.
func (r DaysRange) Min() int { return r.min }

// Max returns the exclusive upper bound and whether the range is bounded.
func (r DaysRange) Max() (int, bool) { return r.max, r.bounded }

// IsOpenEnded reports whether the range has no upper bound.
func (r DaysRange) IsOpenEnded() bool { return !r.bounded }

// Contains reports whether days falls inside the range.
func (r DaysRange) Contains(days int) bool {
	if days < r.min {
		return false
	}
	return !r.bounded || days < r.max
}

// String renders the range in its configuration form.
func (r DaysRange) String() string {
	if !r.bounded {
		return fmt.Sprintf("%d+", r.min)
	}
	return fmt.Sprintf("%d-%d", r.min, r.max)
}
