package attribution

import (
	"time"

	v1 "github.com/aevon-lab/flexevent/internal/api/v1"
	coreattr "github.com/aevon-lab/flexevent/internal/core/attribution"
	"github.com/aevon-lab/flexevent/internal/core/triggerspec"
)

// Outcome is what happened to one candidate.
type Outcome int

const (
	Attributed Outcome = iota
	NotMatched
	UnknownTriggerData
	Duplicate
	Expired
	CapReached
	RateLimited
	Invalid
)

func (o Outcome) String() string {
	switch o {
	case Attributed:
		return "attributed"
	case NotMatched:
		return "not_matched"
	case UnknownTriggerData:
		return "unknown_trigger_data"
	case Duplicate:
		return "duplicate"
	case Expired:
		return "expired"
	case CapReached:
		return "cap_reached"
	case RateLimited:
		return "rate_limited"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// MarshalText lets outcomes print by name in JSON output.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Candidate pairs a trigger with the source it may be attributed to.
type Candidate struct {
	Source  *v1.Source  `json:"source"`
	Trigger *v1.Trigger `json:"trigger"`
}

// Result is the evaluation of the candidate at the same index.
type Result struct {
	SourceID  string  `json:"source_id"`
	TriggerID string  `json:"trigger_id"`
	Outcome   Outcome `json:"outcome"`

	// Attribution is set when Outcome is Attributed.
	Attribution *coreattr.Attribution `json:"-"`

	// Bucket is the summary bucket the trigger data reached, when one was reached.
	Bucket     *triggerspec.SummaryBucket `json:"bucket,omitempty"`
	NewReports int                        `json:"new_reports"`
	Priority   int64                      `json:"priority"`

	EvaluatedAt time.Time `json:"evaluated_at"`

	// Err explains Invalid outcomes.
	Err error `json:"-"`
}
