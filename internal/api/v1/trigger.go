package v1

import (
	"fmt"
	"time"

	"github.com/aevon-lab/flexevent/internal/core/filter"
	"github.com/aevon-lab/flexevent/internal/core/triggerspec"
	"github.com/aevon-lab/flexevent/internal/core/unsigned"
)

// Trigger is a conversion registration that may be attributed to a source.
type Trigger struct {
	ID                 string `json:"id"`
	EnrollmentID       string `json:"enrollment_id"`
	DestinationSite    string `json:"destination_site"`
	DestinationOrigin  string `json:"destination_origin"`
	Registrant         string `json:"registrant"`
	RegistrationOrigin string `json:"registration_origin"`

	TriggerTime time.Time `json:"trigger_time"`

	TriggerData unsigned.Long  `json:"trigger_data"`
	Value       int64          `json:"value"`
	Priority    int64          `json:"priority"`
	DedupKey    *unsigned.Long `json:"dedup_key,omitempty"`

	// Filters and NotFilters are a filter map or an array of filter maps.
	Filters    string `json:"filters,omitempty"`
	NotFilters string `json:"not_filters,omitempty"`
}

// ParsedFilters returns the positive filter set.
func (t *Trigger) ParsedFilters(flags filter.Flags) ([]filter.Map, error) {
	set, err := filter.ParseSet([]byte(t.Filters), flags)
	if err != nil {
		return nil, fmt.Errorf("trigger %s filters: %w", t.ID, err)
	}
	return set, nil
}

// ParsedNotFilters returns the negated filter set.
func (t *Trigger) ParsedNotFilters(flags filter.Flags) ([]filter.Map, error) {
	set, err := filter.ParseSet([]byte(t.NotFilters), flags)
	if err != nil {
		return nil, fmt.Errorf("trigger %s not_filters: %w", t.ID, err)
	}
	return set, nil
}

// Validate ensures the trigger has all required attributes.
func (t *Trigger) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.EnrollmentID == "" {
		return fmt.Errorf("enrollment_id is required")
	}
	if t.DestinationSite == "" {
		return fmt.Errorf("destination_site is required")
	}
	if t.TriggerTime.IsZero() {
		return fmt.Errorf("trigger_time is required")
	}
	if t.Value < 0 || t.Value > triggerspec.MaxBucketThreshold {
		return fmt.Errorf("value must be in [0, %d], got %d", triggerspec.MaxBucketThreshold, t.Value)
	}
	return nil
}
