package filter

import (
	"bytes"
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"

	coreerrors "github.com/aevon-lab/flexevent/internal/core/errors"
)

const entity = "filter_map"

// SerializeAsJSON encodes the map as a JSON object. With the lookback filter enabled,
// long entries become JSON numbers and list entries JSON arrays. With it disabled every
// entry must be a list; a long entry is a validation error.
func (m Map) SerializeAsJSON(flags Flags) ([]byte, error) {
	lookback := flags.LookbackWindowFilterEnabled()
	out := make(map[string]interface{}, len(m.values))
	for k, v := range m.values {
		switch v.kind {
		case KindStringList:
			out[k] = v.list
		case KindLong:
			if !lookback {
				return nil, coreerrors.NewValidationError(entity, k,
					"long values are not supported when the lookback window filter is disabled")
			}
			out[k] = v.long
		default:
			return nil, coreerrors.NewValidationError(entity, k, "unset filter value")
		}
	}
	// map keys are emitted sorted, so the output is deterministic
	return json.Marshal(out)
}

// Parse picks the parser matching the flag snapshot.
func Parse(data []byte, flags Flags) (Map, error) {
	if flags.LookbackWindowFilterEnabled() {
		return ParseV2(data)
	}
	return ParseV1(data)
}

// ParseV1 reads the legacy format where every value is an array of strings.
func ParseV1(data []byte) (Map, error) {
	raw, err := decodeObject(data)
	if err != nil {
		return Map{}, err
	}
	b := NewBuilder()
	for k, v := range raw {
		list, err := decodeStringList(k, v)
		if err != nil {
			return Map{}, err
		}
		b.AddStringListValue(k, list)
	}
	return b.Build(), nil
}

// ParseV2 reads the tagged format: arrays become list values and integral numbers
// become long values. Any other JSON type is rejected.
func ParseV2(data []byte) (Map, error) {
	raw, err := decodeObject(data)
	if err != nil {
		return Map{}, err
	}
	b := NewBuilder()
	for k, v := range raw {
		trimmed := bytes.TrimSpace(v)
		if len(trimmed) == 0 {
			return Map{}, coreerrors.NewValidationError(entity, k, "empty value")
		}
		switch c := trimmed[0]; {
		case c == '[':
			list, err := decodeStringList(k, trimmed)
			if err != nil {
				return Map{}, err
			}
			b.AddStringListValue(k, list)
		case c == '-' || (c >= '0' && c <= '9'):
			n, err := strconv.ParseInt(string(trimmed), 10, 64)
			if err != nil {
				return Map{}, coreerrors.NewValidationError(entity, k, "expected integral number, got %s", trimmed)
			}
			b.AddLongValue(k, n)
		default:
			return Map{}, coreerrors.NewValidationError(entity, k, "expected array or number, got %s", trimmed)
		}
	}
	return b.Build(), nil
}

// ParseSet reads trigger-side filters: a single object or an array of objects.
func ParseSet(data []byte, flags Flags) ([]Map, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] != '[' {
		m, err := Parse(trimmed, flags)
		if err != nil {
			return nil, err
		}
		return []Map{m}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, coreerrors.NewValidationError(entity, "", "malformed filter set: %v", err)
	}
	set := make([]Map, 0, len(items))
	for i, item := range items {
		m, err := Parse(item, flags)
		if err != nil {
			return nil, fmt.Errorf("filter set index %d: %w", i, err)
		}
		set = append(set, m)
	}
	return set, nil
}

func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, coreerrors.NewValidationError(entity, "", "malformed JSON object: %v", err)
	}
	if raw == nil {
		return nil, coreerrors.NewValidationError(entity, "", "expected JSON object")
	}
	return raw, nil
}

func decodeStringList(key string, data []byte) ([]string, error) {
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, coreerrors.NewValidationError(entity, key, "expected array of strings: %v", err)
	}
	if list == nil {
		return nil, coreerrors.NewValidationError(entity, key, "expected array of strings, got null")
	}
	return list, nil
}
