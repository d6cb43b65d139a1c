package triggerspec

import (
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	coreerrors "github.com/aevon-lab/flexevent/internal/core/errors"
)

const privacyEntity = "privacy_params"

// PrivacyParams are the inputs of the state count: the global report cap and one
// [windowCount, bucketCount] row per trigger data value in flattened spec order.
type PrivacyParams struct {
	MaxReports int
	Rows       [][2]int
}

type stateResult struct {
	states uint64
	err    error
}

type privacyResult struct {
	epsilon         float64
	flipProbability float64
	informationGain float64
}

// PrivacyParams returns the enumeration radii used by NumStates.
func (ts *TriggerSpecs) PrivacyParams() PrivacyParams {
	var rows [][2]int
	for _, s := range ts.specs {
		for range s.triggerData {
			rows = append(rows, [2]int{len(s.windows), len(s.buckets)})
		}
	}
	return PrivacyParams{MaxReports: ts.maxReports, Rows: rows}
}

// NumStates counts the distinguishable report histories jointly across all specs,
// bounded by the global report cap.
func (ts *TriggerSpecs) NumStates() (uint64, error) {
	if r := ts.states.Load(); r != nil {
		return r.states, r.err
	}
	p := ts.PrivacyParams()
	windows := make([]int, len(p.Rows))
	caps := make([]int, len(p.Rows))
	for i, row := range p.Rows {
		windows[i], caps[i] = row[0], row[1]
	}
	states, err := countStates(p.MaxReports, windows, caps)
	// Concurrent first callers compute the same value; whichever lands first wins.
	ts.states.CompareAndSwap(nil, &stateResult{states: states, err: err})
	r := ts.states.Load()
	return r.states, r.err
}

func (ts *TriggerSpecs) privacy(epsilon float64) (*privacyResult, error) {
	if r := ts.params.Load(); r != nil && r.epsilon == epsilon {
		return r, nil
	}
	states, err := ts.NumStates()
	if err != nil {
		return nil, err
	}
	flip := flipProbability(states, epsilon)
	if ts.flipOverride != nil {
		flip = ts.flipOverride.InexactFloat64()
	}
	r := &privacyResult{
		epsilon:         epsilon,
		flipProbability: flip,
		informationGain: informationGain(states, flip),
	}
	ts.params.Store(r)
	return r, nil
}

// FlipProbability is the randomized response rate for the given epsilon. A privacy
// parameter override supplied at parse time takes precedence.
func (ts *TriggerSpecs) FlipProbability(epsilon float64) (float64, error) {
	r, err := ts.privacy(epsilon)
	if err != nil {
		return 0, err
	}
	return r.flipProbability, nil
}

// InformationGain is the channel capacity in bits at the given epsilon.
func (ts *TriggerSpecs) InformationGain(epsilon float64) (float64, error) {
	r, err := ts.privacy(epsilon)
	if err != nil {
		return 0, err
	}
	return r.informationGain, nil
}

// CheckPrivacyLimits rejects configurations whose state count or information gain
// exceeds the given limits.
func (ts *TriggerSpecs) CheckPrivacyLimits(maxStates uint64, maxInformationGain, epsilon float64) error {
	states, err := ts.NumStates()
	if err != nil {
		return err
	}
	if states > maxStates {
		return coreerrors.NewValidationError(privacyEntity, "", "%d states exceed the limit of %d", states, maxStates)
	}
	gain, err := ts.InformationGain(epsilon)
	if err != nil {
		return err
	}
	if gain > maxInformationGain {
		return coreerrors.NewValidationError(privacyEntity, "", "information gain %.4f exceeds the limit of %.4f", gain, maxInformationGain)
	}
	return nil
}

type privacyWire struct {
	FlipProbability *decimal.Decimal `json:"flip_probability"`
}

type privacyOut struct {
	FlipProbability json.Number `json:"flip_probability"`
}

func decodePrivacyOverride(text string) (*decimal.Decimal, error) {
	var w privacyWire
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		return nil, coreerrors.NewValidationError(privacyEntity, "", "malformed JSON: %v", err)
	}
	if w.FlipProbability == nil {
		return nil, coreerrors.NewRequiredFieldError(privacyEntity, "flip_probability")
	}
	if w.FlipProbability.IsNegative() || w.FlipProbability.GreaterThan(decimal.NewFromInt(1)) {
		return nil, coreerrors.NewValidationError(privacyEntity, "flip_probability",
			"must be within [0, 1], got %s", w.FlipProbability)
	}
	return w.FlipProbability, nil
}

// EncodePrivacyParametersJSON emits {"flip_probability": p}. An override is written
// back exactly as it was read.
func (ts *TriggerSpecs) EncodePrivacyParametersJSON(epsilon float64) ([]byte, error) {
	var p decimal.Decimal
	if ts.flipOverride != nil {
		p = *ts.flipOverride
	} else {
		flip, err := ts.FlipProbability(epsilon)
		if err != nil {
			return nil, err
		}
		p = decimal.NewFromFloat(flip)
	}
	return json.Marshal(privacyOut{FlipProbability: json.Number(p.String())})
}
