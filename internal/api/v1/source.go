package v1

import (
	"fmt"
	"time"

	"github.com/aevon-lab/flexevent/internal/core/filter"
	"github.com/aevon-lab/flexevent/internal/core/unsigned"
)

// Source is a registered attribution source as the evaluator sees it.
// The flexible event fields are the raw registration text; parsing happens per evaluation.
type Source struct {
	// ID is the storage identifier of the source.
	ID string `json:"id"`

	// EventID is the ad tech supplied source event id.
	EventID unsigned.Long `json:"source_event_id"`

	EnrollmentID       string `json:"enrollment_id"`
	SourceSite         string `json:"source_site"`
	SourceOrigin       string `json:"source_origin"`
	Registrant         string `json:"registrant"`
	RegistrationOrigin string `json:"registration_origin"`

	// SourceType is "event" or "navigation" and selects the information gain limit.
	SourceType string `json:"source_type"`

	EventTime time.Time `json:"event_time"`

	// Expiry is the end of the attribution window; triggers after it are rejected.
	Expiry time.Time `json:"expiry"`

	// FilterData is the source's filter map JSON.
	FilterData string `json:"filter_data,omitempty"`

	// TriggerSpecs is the flexible event trigger spec array JSON.
	TriggerSpecs string `json:"trigger_specs"`

	MaxReports int `json:"max_event_level_reports"`

	// PrivacyParameters is an optional {"flip_probability": p} override.
	PrivacyParameters string `json:"privacy_parameters,omitempty"`

	// AttributionStatus is the ledger of triggers already attributed to this source.
	AttributionStatus string `json:"event_attribution_status,omitempty"`
}

func (s *Source) EventAttributionStatus() string { return s.AttributionStatus }
func (s *Source) TriggerSpecsJSON() string       { return s.TriggerSpecs }
func (s *Source) MaxEventLevelReports() int      { return s.MaxReports }
func (s *Source) PrivacyParametersJSON() string  { return s.PrivacyParameters }

// ParsedFilterData parses FilterData in the format selected by flags. Empty text is an
// empty map.
func (s *Source) ParsedFilterData(flags filter.Flags) (filter.Map, error) {
	if s.FilterData == "" {
		return filter.NewBuilder().Build(), nil
	}
	m, err := filter.Parse([]byte(s.FilterData), flags)
	if err != nil {
		return filter.Map{}, fmt.Errorf("source %s filter_data: %w", s.ID, err)
	}
	return m, nil
}

// Validate ensures the source has the attributes the evaluator reads.
func (s *Source) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if s.EnrollmentID == "" {
		return fmt.Errorf("enrollment_id is required")
	}
	if s.SourceSite == "" {
		return fmt.Errorf("source_site is required")
	}
	if s.EventTime.IsZero() {
		return fmt.Errorf("event_time is required")
	}
	if s.TriggerSpecs == "" {
		return fmt.Errorf("trigger_specs is required")
	}
	return nil
}
