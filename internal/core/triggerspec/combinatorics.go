package triggerspec

import (
	"math"
	"math/bits"

	coreerrors "github.com/aevon-lab/flexevent/internal/core/errors"
)

// countStates returns the number of distinguishable report histories: every way to
// place at most totalCap reports over the (type, window) slots described by windows
// and caps, where type t receives at most caps[t] reports in total.
func countStates(totalCap int, windows, caps []int) (uint64, error) {
	if len(windows) != len(caps) {
		return 0, coreerrors.NewValidationError("privacy_params", "", "%d window rows but %d cap rows", len(windows), len(caps))
	}
	if len(windows) == 0 {
		return 1, nil
	}
	c := stateCounter{windows: windows, caps: caps, memo: make(map[stateKey]uint64)}
	last := len(windows) - 1
	n, ok := c.count(totalCap, last, windows[last], caps[last])
	if !ok {
		return 0, coreerrors.NewValidationError("privacy_params", "", "state count overflows uint64")
	}
	return n, nil
}

type stateKey struct {
	totalCap, index, window, cap int
}

type stateCounter struct {
	windows, caps []int
	memo          map[stateKey]uint64
}

func (c *stateCounter) count(totalCap, index, window, capLeft int) (uint64, bool) {
	if window == 0 && index == 0 {
		return 1, true
	}
	if window == 0 {
		return c.count(totalCap, index-1, c.windows[index-1], c.caps[index-1])
	}

	key := stateKey{totalCap, index, window, capLeft}
	if n, ok := c.memo[key]; ok {
		return n, true
	}

	var total uint64
	for i := 0; i <= min(totalCap, capLeft); i++ {
		n, ok := c.count(totalCap-i, index, window-1, capLeft-i)
		if !ok {
			return 0, false
		}
		var carry uint64
		total, carry = bits.Add64(total, n, 0)
		if carry != 0 {
			return 0, false
		}
	}
	c.memo[key] = total
	return total, true
}

// flipProbability is the randomized response rate k / (k + e^epsilon - 1).
func flipProbability(states uint64, epsilon float64) float64 {
	k := float64(states)
	return k / (k + math.Exp(epsilon) - 1)
}

// informationGain is the capacity in bits of the k-ary symmetric channel that
// reports the true state with probability 1-p and a uniformly random one with p.
func informationGain(states uint64, flip float64) float64 {
	if states <= 1 {
		return 0
	}
	k := float64(states)
	q := flip * (k - 1) / k
	gain := math.Log2(k)
	if q > 0 {
		gain += q * math.Log2(q/(k-1))
	}
	if q < 1 {
		gain += (1 - q) * math.Log2(1-q)
	}
	return gain
}
