package triggerspec

import (
	"math"
	"slices"

	json "github.com/goccy/go-json"

	coreerrors "github.com/aevon-lab/flexevent/internal/core/errors"
	"github.com/aevon-lab/flexevent/internal/core/unsigned"
)

// AttributedTrigger is one trigger already attributed to the source.
type AttributedTrigger struct {
	TriggerID   string
	Priority    int64
	TriggerData unsigned.Long
	Value       int64
	TriggerTime int64 // unix millis
	DedupKey    *unsigned.Long
}

// Equal compares every field, dedup key by value.
func (t AttributedTrigger) Equal(other AttributedTrigger) bool {
	if t.TriggerID != other.TriggerID || t.Priority != other.Priority ||
		t.TriggerData != other.TriggerData || t.Value != other.Value ||
		t.TriggerTime != other.TriggerTime {
		return false
	}
	if t.DedupKey == nil || other.DedupKey == nil {
		return t.DedupKey == nil && other.DedupKey == nil
	}
	return *t.DedupKey == *other.DedupKey
}

type attributedTriggerWire struct {
	TriggerID   string  `json:"trigger_id"`
	TriggerData string  `json:"trigger_data"`
	TriggerTime int64   `json:"trigger_time"`
	Value       int64   `json:"value"`
	DedupKey    *string `json:"dedup_key,omitempty"`
	Priority    int64   `json:"priority"`
}

// decodeAttributionStatus reads the attribution-status JSON persisted on a source.
// Empty text is an empty ledger.
func decodeAttributionStatus(text string) ([]AttributedTrigger, error) {
	if text == "" {
		return nil, nil
	}
	var wire []attributedTriggerWire
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return nil, coreerrors.NewValidationError("attribution_status", "", "malformed JSON: %v", err)
	}
	ledger := make([]AttributedTrigger, 0, len(wire))
	for i, w := range wire {
		if w.TriggerID == "" {
			return nil, coreerrors.NewValidationError("attribution_status", "trigger_id", "missing at index %d", i)
		}
		if w.Value < 0 {
			return nil, coreerrors.NewValidationError("attribution_status", "value", "index %d: must be >= 0, got %d", i, w.Value)
		}
		data, err := unsigned.Parse(w.TriggerData)
		if err != nil {
			return nil, coreerrors.NewValidationError("attribution_status", "trigger_data", "index %d: %v", i, err)
		}
		t := AttributedTrigger{
			TriggerID:   w.TriggerID,
			Priority:    w.Priority,
			TriggerData: data,
			Value:       w.Value,
			TriggerTime: w.TriggerTime,
		}
		if w.DedupKey != nil {
			key, err := unsigned.Parse(*w.DedupKey)
			if err != nil {
				return nil, coreerrors.NewValidationError("attribution_status", "dedup_key", "index %d: %v", i, err)
			}
			t.DedupKey = &key
		}
		ledger = append(ledger, t)
	}
	return ledger, nil
}

// EncodeAttributionStatusJSON serializes the ledger in the format read back by Parse.
func (ts *TriggerSpecs) EncodeAttributionStatusJSON() ([]byte, error) {
	wire := make([]attributedTriggerWire, len(ts.ledger))
	for i, t := range ts.ledger {
		wire[i] = attributedTriggerWire{
			TriggerID:   t.TriggerID,
			TriggerData: t.TriggerData.String(),
			TriggerTime: t.TriggerTime,
			Value:       t.Value,
			Priority:    t.Priority,
		}
		if t.DedupKey != nil {
			key := t.DedupKey.String()
			wire[i].DedupKey = &key
		}
	}
	return json.Marshal(wire)
}

// AttributedTriggers returns a copy of the ledger.
func (ts *TriggerSpecs) AttributedTriggers() []AttributedTrigger {
	return slices.Clone(ts.ledger)
}

// InsertAttributedTrigger appends t to the ledger.
func (ts *TriggerSpecs) InsertAttributedTrigger(t AttributedTrigger) {
	ts.ledger = append(ts.ledger, t)
}

// DeleteAttributedTrigger removes the first entry for triggerID and reports whether
// one existed.
func (ts *TriggerSpecs) DeleteAttributedTrigger(triggerID string) bool {
	for i, t := range ts.ledger {
		if t.TriggerID == triggerID {
			ts.ledger = slices.Delete(ts.ledger, i, i+1)
			return true
		}
	}
	return false
}

// CurrentAttributedValue sums the values already attributed for trigger data d,
// saturating at MaxBucketThreshold.
func (ts *TriggerSpecs) CurrentAttributedValue(d unsigned.Long) int64 {
	var sum int64
	for _, t := range ts.ledger {
		if t.TriggerData == d {
			sum = addSaturated(sum, t.Value)
		}
	}
	return sum
}

// AttributedCount is the number of ledger entries for trigger data d.
func (ts *TriggerSpecs) AttributedCount(d unsigned.Long) int {
	n := 0
	for _, t := range ts.ledger {
		if t.TriggerData == d {
			n++
		}
	}
	return n
}

// HighestPriority returns the maximum of incoming and every attributed priority
// recorded for d.
func (ts *TriggerSpecs) HighestPriority(d unsigned.Long, incoming int64) int64 {
	highest := int64(math.MinInt64)
	for _, t := range ts.ledger {
		if t.TriggerData == d {
			highest = max(highest, t.Priority)
		}
	}
	return max(highest, incoming)
}

// TriggerValue returns the value recorded for triggerID, 0 when absent.
func (ts *TriggerSpecs) TriggerValue(triggerID string) int64 {
	for _, t := range ts.ledger {
		if t.TriggerID == triggerID {
			return t.Value
		}
	}
	return 0
}

// TriggerIDs lists attributed trigger ids in ledger order.
func (ts *TriggerSpecs) TriggerIDs() []string {
	ids := make([]string, len(ts.ledger))
	for i, t := range ts.ledger {
		ids[i] = t.TriggerID
	}
	return ids
}

// HasDedupKey reports whether key was already attributed for trigger data d.
func (ts *TriggerSpecs) HasDedupKey(d unsigned.Long, key unsigned.Long) bool {
	for _, t := range ts.ledger {
		if t.TriggerData == d && t.DedupKey != nil && *t.DedupKey == key {
			return true
		}
	}
	return false
}

func ledgerEqual(a, b []AttributedTrigger) bool {
	return slices.EqualFunc(a, b, AttributedTrigger.Equal)
}
