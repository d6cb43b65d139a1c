package triggerspec

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	coreerrors "github.com/aevon-lab/flexevent/internal/core/errors"
)

func TestPrivacyParams(t *testing.T) {
	p := mustParse(t, baselineJSON, "3").PrivacyParams()
	require.Equal(t, 3, p.MaxReports)
	require.Equal(t, [][2]int{{3, 4}, {3, 4}, {3, 4}}, p.Rows)

	p = mustParse(t, twoSpecsJSON, "3").PrivacyParams()
	require.Equal(t, [][2]int{{3, 3}, {3, 3}, {3, 3}, {1, 5}, {1, 5}, {1, 5}, {1, 5}}, p.Rows)
}

func TestNumStates(t *testing.T) {
	states, err := mustParse(t, baselineJSON, "3").NumStates()
	require.NoError(t, err)
	require.Equal(t, uint64(220), states)
}

func TestCountStates(t *testing.T) {
	tests := []struct {
		name     string
		totalCap int
		windows  []int
		caps     []int
		want     uint64
	}{
		{name: "single slot single report", totalCap: 1, windows: []int{1}, caps: []int{1}, want: 2},
		{name: "per type cap binds", totalCap: 3, windows: []int{1, 1}, caps: []int{1, 1}, want: 4},
		{name: "global cap binds", totalCap: 1, windows: []int{2, 2}, caps: []int{5, 5}, want: 5},
		// stars and bars: C(2+2, 2)
		{name: "two windows two reports", totalCap: 2, windows: []int{2}, caps: []int{2}, want: 6},
		{name: "no rows", totalCap: 3, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := countStates(tt.totalCap, tt.windows, tt.caps)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestCountStates_Overflow(t *testing.T) {
	windows := make([]int, 64)
	caps := make([]int, 64)
	for i := range windows {
		windows[i], caps[i] = 5, 20
	}
	_, err := countStates(20, windows, caps)
	require.ErrorIs(t, err, coreerrors.ErrValidation)
}

func TestFlipProbability_Monotonic(t *testing.T) {
	small := mustParse(t, `[{"trigger_data": [1], "event_report_windows": {"end_times": [1000]}}]`, "1")
	large := mustParse(t, baselineJSON, "3")

	pSmall, err := small.FlipProbability(14)
	require.NoError(t, err)
	pLarge, err := large.FlipProbability(14)
	require.NoError(t, err)
	require.Less(t, pSmall, pLarge, "more states must flip more often")

	pLowEps, err := large.FlipProbability(7)
	require.NoError(t, err)
	require.Greater(t, pLowEps, pLarge, "less budget must flip more often")

	require.InDelta(t, 220/(220+math.Exp(14)-1), pLarge, 1e-15)
}

func TestInformationGain(t *testing.T) {
	ts := mustParse(t, baselineJSON, "3")
	gain, err := ts.InformationGain(14)
	require.NoError(t, err)
	require.Greater(t, gain, 0.0)
	require.Less(t, gain, math.Log2(220))

	require.Equal(t, 0.0, informationGain(1, 0.5))
	require.InDelta(t, math.Log2(8), informationGain(8, 0), 1e-12)
	require.InDelta(t, 0.0, informationGain(8, 1), 1e-12)
}

func TestCheckPrivacyLimits(t *testing.T) {
	ts := mustParse(t, baselineJSON, "3")

	require.NoError(t, ts.CheckPrivacyLimits(math.MaxUint32, 11.46, 14))
	require.ErrorIs(t, ts.CheckPrivacyLimits(219, 11.46, 14), coreerrors.ErrValidation)
	// log2(220) is about 7.78 bits, above the event-source limit
	require.ErrorIs(t, ts.CheckPrivacyLimits(math.MaxUint32, 6.5, 14), coreerrors.ErrValidation)
	require.ErrorIs(t, ts.CheckPrivacyLimits(math.MaxUint32, 0.001, 14), coreerrors.ErrValidation)
}

func TestPrivacyOverride(t *testing.T) {
	ts, err := Parse(baselineJSON, "3", nil, `{"flip_probability" :0.0024}`)
	require.NoError(t, err)

	p, err := ts.FlipProbability(14)
	require.NoError(t, err)
	require.Equal(t, 0.0024, p)

	encoded, err := ts.EncodePrivacyParametersJSON(14)
	require.NoError(t, err)
	require.JSONEq(t, `{"flip_probability":0.0024}`, string(encoded))
}

func TestEncodePrivacyParametersJSON_Computed(t *testing.T) {
	ts := mustParse(t, baselineJSON, "3")
	encoded, err := ts.EncodePrivacyParametersJSON(14)
	require.NoError(t, err)

	reparsed, err := Parse(baselineJSON, "3", nil, string(encoded))
	require.NoError(t, err)

	want, err := ts.FlipProbability(14)
	require.NoError(t, err)
	got, err := reparsed.FlipProbability(14)
	require.NoError(t, err)
	require.InDelta(t, want, got, 1e-15)
}

func TestNumStates_ConcurrentFirstUse(t *testing.T) {
	ts := mustParse(t, baselineJSON, "3")

	var wg sync.WaitGroup
	results := make([]uint64, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			states, err := ts.NumStates()
			if err == nil {
				results[i] = states
			}
			_, _ = ts.FlipProbability(14)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.Equal(t, uint64(220), r)
	}
}
