package filter

import (
	"encoding/binary"
	"hash/fnv"
	"sort"
)

// LookbackWindow is the reserved key carrying the lookback duration in seconds.
const LookbackWindow = "_lookback_window"

// Flags is the slice of the flag snapshot the filter stage reads.
type Flags interface {
	LookbackWindowFilterEnabled() bool
}

// Map is an immutable filter-key to Value mapping. Build one with Builder or one of
// the JSON parsers.
type Map struct {
	values map[string]Value
}

// Builder accumulates entries for a Map. Later writes to the same key win.
type Builder struct {
	values map[string]Value
}

func NewBuilder() *Builder {
	return &Builder{values: make(map[string]Value)}
}

// AddStringListValue sets key to a list value.
func (b *Builder) AddStringListValue(key string, values []string) *Builder {
	b.values[key] = OfStringList(values)
	return b
}

// AddLongValue sets key to a scalar value.
func (b *Builder) AddLongValue(key string, v int64) *Builder {
	b.values[key] = OfLong(v)
	return b
}

// SetAttributionFilterMap adds every entry of a legacy list-only map.
func (b *Builder) SetAttributionFilterMap(m map[string][]string) *Builder {
	for k, v := range m {
		b.AddStringListValue(k, v)
	}
	return b
}

// Build returns an immutable snapshot; the builder stays usable.
func (b *Builder) Build() Map {
	values := make(map[string]Value, len(b.values))
	for k, v := range b.values {
		values[k] = v
	}
	return Map{values: values}
}

// Get returns the value stored under key.
func (m Map) Get(key string) (Value, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Len is the number of populated keys, reserved key included.
func (m Map) Len() int { return len(m.values) }

// Keys returns the populated keys in ascending order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StringListMap returns the legacy view: list entries only.
func (m Map) StringListMap() map[string][]string {
	out := make(map[string][]string)
	for k, v := range m.values {
		if v.kind == KindStringList {
			out[k] = v.StringList()
		}
	}
	return out
}

// IsEmpty reports emptiness under the given flag snapshot. With the lookback filter
// enabled, a map holding only the reserved key is empty.
func (m Map) IsEmpty(flags Flags) bool {
	if len(m.values) == 0 {
		return true
	}
	if flags.LookbackWindowFilterEnabled() {
		_, ok := m.values[LookbackWindow]
		return ok && len(m.values) == 1
	}
	return false
}

// Equal compares the key to value mappings structurally.
func (m Map) Equal(other Map) bool {
	if len(m.values) != len(other.values) {
		return false
	}
	for k, v := range m.values {
		o, ok := other.values[k]
		if !ok || !v.Equal(o) {
			return false
		}
	}
	return true
}

// Hash is consistent with Equal: equal maps hash equally. Keys are visited in sorted
// order so the result is independent of map iteration.
func (m Map) Hash() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, k := range m.Keys() {
		v := m.values[k]
		h.Write([]byte(k))
		h.Write([]byte{0x00, byte(v.kind)})
		switch v.kind {
		case KindLong:
			binary.BigEndian.PutUint64(buf[:], uint64(v.long))
			h.Write(buf[:])
		case KindStringList:
			binary.BigEndian.PutUint64(buf[:], uint64(len(v.list)))
			h.Write(buf[:])
			for _, s := range v.list {
				h.Write([]byte(s))
				h.Write([]byte{0x00})
			}
		}
		h.Write([]byte{0xff})
	}
	return h.Sum64()
}
