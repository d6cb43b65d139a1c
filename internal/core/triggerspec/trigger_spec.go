package triggerspec

import (
	"slices"
	"time"

	json "github.com/goccy/go-json"

	coreerrors "github.com/aevon-lab/flexevent/internal/core/errors"
	"github.com/aevon-lab/flexevent/internal/core/unsigned"
)

const specEntity = "trigger_spec"

// TriggerSpec groups trigger data values that share report windows, a summary
// operator and summary buckets. It is immutable once built.
type TriggerSpec struct {
	triggerData []unsigned.Long
	windows     []Window
	operator    SummaryOperator
	buckets     []int64
}

// NewTriggerSpec validates and builds a TriggerSpec. Empty buckets are filled with
// [1..maxReports] when the spec joins a TriggerSpecs.
func NewTriggerSpec(triggerData []unsigned.Long, start time.Duration, ends []time.Duration, op SummaryOperator, buckets []int64) (TriggerSpec, error) {
	if len(triggerData) == 0 {
		return TriggerSpec{}, coreerrors.NewValidationError(specEntity, "trigger_data", "must not be empty")
	}
	seen := make(map[unsigned.Long]struct{}, len(triggerData))
	for _, d := range triggerData {
		if _, dup := seen[d]; dup {
			return TriggerSpec{}, coreerrors.NewValidationError(specEntity, "trigger_data", "duplicate value %s", d)
		}
		seen[d] = struct{}{}
	}

	windows, err := buildWindows(start, ends)
	if err != nil {
		return TriggerSpec{}, coreerrors.NewValidationError(specEntity, "event_report_windows", "%v", err)
	}

	if op != Count && op != ValueSum {
		return TriggerSpec{}, coreerrors.NewValidationError(specEntity, "summary_window_operator", "unsupported operator %d", op)
	}

	for i, b := range buckets {
		if b <= 0 || b > MaxBucketThreshold {
			return TriggerSpec{}, coreerrors.NewValidationError(specEntity, "summary_buckets",
				"bucket %d out of range (0, %d]", b, int64(MaxBucketThreshold))
		}
		if i > 0 && b <= buckets[i-1] {
			return TriggerSpec{}, coreerrors.NewValidationError(specEntity, "summary_buckets",
				"must be strictly ascending, got %d after %d", b, buckets[i-1])
		}
	}

	return TriggerSpec{
		triggerData: slices.Clone(triggerData),
		windows:     windows,
		operator:    op,
		buckets:     slices.Clone(buckets),
	}, nil
}

// TriggerData returns the spec's trigger data values in registration order.
func (s TriggerSpec) TriggerData() []unsigned.Long { return slices.Clone(s.triggerData) }

// Windows returns the report windows in ascending order.
func (s TriggerSpec) Windows() []Window { return slices.Clone(s.windows) }

func (s TriggerSpec) Operator() SummaryOperator { return s.operator }

// SummaryBuckets returns the bucket thresholds.
func (s TriggerSpec) SummaryBuckets() []int64 { return slices.Clone(s.buckets) }

// Start is the offset of the first window.
func (s TriggerSpec) Start() time.Duration { return s.windows[0].Start }

// EndTimes returns each window's end offset.
func (s TriggerSpec) EndTimes() []time.Duration {
	ends := make([]time.Duration, len(s.windows))
	for i, w := range s.windows {
		ends[i] = w.End
	}
	return ends
}

func (s TriggerSpec) contains(d unsigned.Long) bool {
	return slices.Contains(s.triggerData, d)
}

// Equal is structural over all four fields.
func (s TriggerSpec) Equal(other TriggerSpec) bool {
	return slices.Equal(s.triggerData, other.triggerData) &&
		slices.Equal(s.windows, other.windows) &&
		s.operator == other.operator &&
		slices.Equal(s.buckets, other.buckets)
}

func (s TriggerSpec) withDefaultBuckets(maxReports int) TriggerSpec {
	if len(s.buckets) > 0 {
		return s
	}
	buckets := make([]int64, maxReports)
	for i := range buckets {
		buckets[i] = int64(i + 1)
	}
	s.buckets = buckets
	return s
}

type windowsWire struct {
	StartTime json.RawMessage   `json:"start_time,omitempty"`
	EndTimes  []json.RawMessage `json:"end_times"`
}

type triggerSpecWire struct {
	TriggerData        []unsigned.Long `json:"trigger_data"`
	EventReportWindows *windowsWire    `json:"event_report_windows"`
	Operator           *string         `json:"summary_window_operator"`
	SummaryBuckets     []int64         `json:"summary_buckets"`
}

type windowsOut struct {
	StartTime int64   `json:"start_time"`
	EndTimes  []int64 `json:"end_times"`
}

type triggerSpecOut struct {
	TriggerData        []unsigned.Long `json:"trigger_data"`
	EventReportWindows windowsOut      `json:"event_report_windows"`
	Operator           string          `json:"summary_window_operator"`
	SummaryBuckets     []int64         `json:"summary_buckets"`
}

func decodeTriggerSpec(raw json.RawMessage) (TriggerSpec, error) {
	var w triggerSpecWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return TriggerSpec{}, coreerrors.NewValidationError(specEntity, "", "malformed JSON: %v", err)
	}
	if w.EventReportWindows == nil {
		return TriggerSpec{}, coreerrors.NewRequiredFieldError(specEntity, "event_report_windows")
	}

	var start time.Duration
	if len(w.EventReportWindows.StartTime) > 0 {
		var err error
		if start, err = parseOffset(w.EventReportWindows.StartTime); err != nil {
			return TriggerSpec{}, coreerrors.NewValidationError(specEntity, "event_report_windows", "start_time: %v", err)
		}
	}
	ends := make([]time.Duration, 0, len(w.EventReportWindows.EndTimes))
	for i, raw := range w.EventReportWindows.EndTimes {
		end, err := parseOffset(raw)
		if err != nil {
			return TriggerSpec{}, coreerrors.NewValidationError(specEntity, "event_report_windows", "end_times[%d]: %v", i, err)
		}
		ends = append(ends, end)
	}

	op := Count
	if w.Operator != nil {
		var err error
		if op, err = ParseSummaryOperator(*w.Operator); err != nil {
			return TriggerSpec{}, err
		}
	}

	return NewTriggerSpec(w.TriggerData, start, ends, op, w.SummaryBuckets)
}

func (s TriggerSpec) wire() triggerSpecOut {
	ends := make([]int64, len(s.windows))
	for i, w := range s.windows {
		ends[i] = w.End.Milliseconds()
	}
	return triggerSpecOut{
		TriggerData:        s.triggerData,
		EventReportWindows: windowsOut{StartTime: s.Start().Milliseconds(), EndTimes: ends},
		Operator:           s.operator.String(),
		SummaryBuckets:     s.buckets,
	}
}

// MarshalJSON emits the spec in its registration wire shape.
func (s TriggerSpec) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.wire())
}
