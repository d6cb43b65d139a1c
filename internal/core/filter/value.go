package filter

import (
	"slices"
	"strconv"
	"strings"
)

// Kind tags which variant a Value holds.
type Kind int

const (
	KindStringList Kind = iota + 1
	KindLong
)

func (k Kind) String() string {
	switch k {
	case KindStringList:
		return "string_list"
	case KindLong:
		return "long"
	default:
		return "unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a filter entry: either an ordered string list or a long scalar.
// The zero Value is invalid; use OfStringList or OfLong.
type Value struct {
	kind Kind
	list []string
	long int64
}

// OfStringList wraps a copy of values.
func OfStringList(values []string) Value {
	list := make([]string, len(values))
	copy(list, values)
	return Value{kind: KindStringList, list: list}
}

// OfLong wraps a scalar, e.g. a lookback window in seconds.
func OfLong(v int64) Value {
	return Value{kind: KindLong, long: v}
}

func (v Value) Kind() Kind { return v.kind }

// StringList returns a copy of the list. It is nil for long values.
func (v Value) StringList() []string {
	if v.kind != KindStringList {
		return nil
	}
	return slices.Clone(v.list)
}

// Long returns the scalar. It is 0 for list values.
func (v Value) Long() int64 { return v.long }

// Equal compares kind and payload; list order matters.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	if v.kind == KindLong {
		return v.long == other.long
	}
	return slices.Equal(v.list, other.list)
}

func (v Value) String() string {
	if v.kind == KindLong {
		return strconv.FormatInt(v.long, 10)
	}
	return "[" + joinQuoted(v.list) + "]"
}

func joinQuoted(values []string) string {
	quoted := make([]string, len(values))
	for i, s := range values {
		quoted[i] = strconv.Quote(s)
	}
	return strings.Join(quoted, ",")
}
