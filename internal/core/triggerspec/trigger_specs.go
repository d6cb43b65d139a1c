package triggerspec

import (
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	coreerrors "github.com/aevon-lab/flexevent/internal/core/errors"
	"github.com/aevon-lab/flexevent/internal/core/unsigned"
)

const specsEntity = "trigger_specs"

// MaxEventLevelReports is the highest report cap a flexible event source may register.
const MaxEventLevelReports = 20

// SourceView is what TriggerSpecs needs from a source to rehydrate its ledger.
type SourceView interface {
	EventAttributionStatus() string
}

// FlexEventSource is a source registered for flexible event reports.
type FlexEventSource interface {
	SourceView
	TriggerSpecsJSON() string
	MaxEventLevelReports() int
	PrivacyParametersJSON() string
}

// TriggerSpecs is the flexible event configuration of one source plus the ledger of
// triggers already attributed to it. Privacy parameters are computed on first use
// and cached; the cache is safe for concurrent readers. Ledger mutation is not.
type TriggerSpecs struct {
	specs      []TriggerSpec
	maxReports int

	hasSource bool
	ledger    []AttributedTrigger

	flipOverride *decimal.Decimal

	states atomic.Pointer[stateResult]
	params atomic.Pointer[privacyResult]
}

// New builds TriggerSpecs from parsed specs. src may be nil; when set its
// attribution status seeds the ledger.
func New(specs []TriggerSpec, maxReports int, src SourceView) (*TriggerSpecs, error) {
	if len(specs) == 0 {
		return nil, coreerrors.NewValidationError(specsEntity, "", "at least one trigger spec is required")
	}
	if maxReports < 1 || maxReports > MaxEventLevelReports {
		return nil, coreerrors.NewValidationError(specsEntity, "max_event_level_reports",
			"must be in [1, %d], got %d", MaxEventLevelReports, maxReports)
	}

	seen := make(map[unsigned.Long]struct{})
	filled := make([]TriggerSpec, len(specs))
	for i, s := range specs {
		if len(s.windows) == 0 {
			return nil, coreerrors.NewValidationError(specsEntity, "", "trigger spec %d was not built with NewTriggerSpec", i)
		}
		for _, d := range s.triggerData {
			if _, dup := seen[d]; dup {
				return nil, coreerrors.NewValidationError(specsEntity, "trigger_data",
					"value %s appears in more than one trigger spec", d)
			}
			seen[d] = struct{}{}
		}
		filled[i] = s.withDefaultBuckets(maxReports)
	}

	ts := &TriggerSpecs{specs: filled, maxReports: maxReports}
	if src != nil {
		ledger, err := decodeAttributionStatus(src.EventAttributionStatus())
		if err != nil {
			return nil, err
		}
		ts.hasSource = true
		ts.ledger = ledger
	}
	return ts, nil
}

// Parse builds TriggerSpecs from the registration text: a JSON array of trigger specs,
// the report cap as a decimal string and an optional privacy parameter override.
func Parse(specsJSON, maxReports string, src SourceView, privacyJSON string) (*TriggerSpecs, error) {
	if strings.TrimSpace(specsJSON) == "" {
		return nil, coreerrors.NewValidationError(specsEntity, "", "source is not registered for flexible event reports")
	}
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(specsJSON), &raw); err != nil {
		return nil, coreerrors.NewValidationError(specsEntity, "", "malformed JSON: %v", err)
	}
	specs := make([]TriggerSpec, 0, len(raw))
	for _, r := range raw {
		spec, err := decodeTriggerSpec(r)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}

	n, err := strconv.Atoi(strings.TrimSpace(maxReports))
	if err != nil {
		return nil, coreerrors.NewValidationError(specsEntity, "max_event_level_reports", "not an integer: %q", maxReports)
	}

	ts, err := New(specs, n, src)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(privacyJSON) != "" {
		p, err := decodePrivacyOverride(privacyJSON)
		if err != nil {
			return nil, err
		}
		ts.flipOverride = p
	}
	return ts, nil
}

// FromSource parses the flexible event configuration stored on src.
func FromSource(src FlexEventSource) (*TriggerSpecs, error) {
	return Parse(src.TriggerSpecsJSON(), strconv.Itoa(src.MaxEventLevelReports()), src, src.PrivacyParametersJSON())
}

// TriggerSpecs returns the specs in registration order.
func (ts *TriggerSpecs) TriggerSpecs() []TriggerSpec { return slices.Clone(ts.specs) }

func (ts *TriggerSpecs) MaxReports() int { return ts.maxReports }

// ContainsTriggerData reports whether any spec registers d.
func (ts *TriggerSpecs) ContainsTriggerData(d unsigned.Long) bool {
	_, ok := ts.specFor(d)
	return ok
}

// TriggerDataFromIndex returns the i-th value of the trigger data flattened in spec
// order.
func (ts *TriggerSpecs) TriggerDataFromIndex(i int) (unsigned.Long, error) {
	if i >= 0 {
		rest := i
		for _, s := range ts.specs {
			if rest < len(s.triggerData) {
				return s.triggerData[rest], nil
			}
			rest -= len(s.triggerData)
		}
	}
	return 0, coreerrors.Lookupf("trigger data index %d out of range", i)
}

// SummaryBucketsForTriggerData returns the bucket thresholds of the spec owning d.
func (ts *TriggerSpecs) SummaryBucketsForTriggerData(d unsigned.Long) ([]int64, error) {
	s, err := ts.mustSpecFor(d)
	if err != nil {
		return nil, err
	}
	return s.SummaryBuckets(), nil
}

// SummaryOperatorForTriggerData returns the operator of the spec owning d.
func (ts *TriggerSpecs) SummaryOperatorForTriggerData(d unsigned.Long) (SummaryOperator, error) {
	s, err := ts.mustSpecFor(d)
	if err != nil {
		return 0, err
	}
	return s.operator, nil
}

// EventReportWindowsForTriggerData returns the report windows of the spec owning d.
func (ts *TriggerSpecs) EventReportWindowsForTriggerData(d unsigned.Long) ([]Window, error) {
	s, err := ts.mustSpecFor(d)
	if err != nil {
		return nil, err
	}
	return s.Windows(), nil
}

func (ts *TriggerSpecs) specFor(d unsigned.Long) (TriggerSpec, bool) {
	for _, s := range ts.specs {
		if s.contains(d) {
			return s, true
		}
	}
	return TriggerSpec{}, false
}

func (ts *TriggerSpecs) mustSpecFor(d unsigned.Long) (TriggerSpec, error) {
	s, ok := ts.specFor(d)
	if !ok {
		return TriggerSpec{}, coreerrors.Lookupf("trigger data %s is not registered", d)
	}
	return s, nil
}

// Equal compares specs and report cap; ledgers are compared only when both
// instances were built from a source. Cached privacy parameters never participate.
func (ts *TriggerSpecs) Equal(other *TriggerSpecs) bool {
	if ts == nil || other == nil {
		return ts == other
	}
	if ts.maxReports != other.maxReports ||
		!slices.EqualFunc(ts.specs, other.specs, TriggerSpec.Equal) {
		return false
	}
	if ts.hasSource && other.hasSource {
		return ledgerEqual(ts.ledger, other.ledger)
	}
	return true
}

// EncodeToJSON emits the spec array accepted by Parse.
func (ts *TriggerSpecs) EncodeToJSON() ([]byte, error) {
	out := make([]triggerSpecOut, len(ts.specs))
	for i, s := range ts.specs {
		out[i] = s.wire()
	}
	return json.Marshal(out)
}
