package unsigned

import (
	"fmt"
	"strconv"
	"strings"
)

// Long is a 64-bit identifier compared with unsigned ordering.
// Trigger data and dedup keys are carried as Long so values above
// math.MaxInt64 survive parsing and re-encoding unchanged.
type Long uint64

// Max is the largest representable value (2^64 - 1).
const Max = Long(^uint64(0))

// Parse reads a base-10 unsigned integer. Signs, blanks and exponents are rejected.
func Parse(s string) (Long, error) {
	if s == "" {
		return 0, fmt.Errorf("unsigned long: empty value")
	}
	if strings.ContainsAny(s, "+- \t") {
		return 0, fmt.Errorf("unsigned long: invalid value %q", s)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unsigned long: invalid value %q: %w", s, err)
	}
	return Long(v), nil
}

// MustParse is Parse for fixtures and constants. It panics on bad input.
func MustParse(s string) Long {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Compare returns -1, 0 or +1 under unsigned ordering.
func (l Long) Compare(other Long) int {
	switch {
	case l < other:
		return -1
	case l > other:
		return 1
	default:
		return 0
	}
}

func (l Long) String() string {
	return strconv.FormatUint(uint64(l), 10)
}

// MarshalJSON encodes the value as a bare JSON number.
func (l Long) MarshalJSON() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalJSON accepts either a JSON number or a quoted decimal string.
func (l *Long) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		return fmt.Errorf("unsigned long: null value")
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// MarshalText encodes the value as decimal text (used for string-typed JSON fields).
func (l Long) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText parses decimal text.
func (l *Long) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*l = v
	return nil
}
