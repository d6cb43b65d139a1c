package triggerspec

import (
	"strings"

	coreerrors "github.com/aevon-lab/flexevent/internal/core/errors"
)

// SummaryOperator defines how attributed triggers fold into the running summary value
// that is later mapped onto a summary bucket.
type SummaryOperator int

const (
	// Count adds 1 per attributed trigger. The trigger value is ignored.
	Count SummaryOperator = iota
	// ValueSum adds the trigger value.
	ValueSum
)

const (
	opCount    = "count"
	opValueSum = "value_sum"
)

// ParseSummaryOperator accepts the wire names case-insensitively.
func ParseSummaryOperator(s string) (SummaryOperator, error) {
	switch strings.ToLower(s) {
	case opCount:
		return Count, nil
	case opValueSum:
		return ValueSum, nil
	default:
		return 0, coreerrors.NewValidationError("trigger_spec", "summary_window_operator",
			"unsupported operator %q", s)
	}
}

func (op SummaryOperator) String() string {
	if op == ValueSum {
		return opValueSum
	}
	return opCount
}

// Initial returns the summary after the first attributed trigger.
func (op SummaryOperator) Initial(value int64) int64 {
	return op.Apply(0, value)
}

// Apply folds one more attributed trigger into current. The result saturates at
// MaxBucketThreshold; current and value must not be negative.
func (op SummaryOperator) Apply(current, value int64) int64 {
	if op == ValueSum {
		return addSaturated(current, value)
	}
	return addSaturated(current, 1)
}

func addSaturated(a, b int64) int64 {
	if b >= MaxBucketThreshold-a {
		return MaxBucketThreshold
	}
	return a + b
}
