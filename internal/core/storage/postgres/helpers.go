package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aevon-lab/flexevent/internal/core/attribution"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// nullString maps "" to SQL NULL for optional columns.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// scanAttributionRow scans a row into an Attribution. Rows are re-validated through the
// builder so a corrupted row surfaces as an error instead of a half-filled value.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanAttributionRow(row scanner) (attribution.Attribution, error) {
	var (
		id, scope, sourceSite, sourceOrigin, destinationSite, destinationOrigin string
		enrollmentID, registrant, sourceID, triggerID, registrationOrigin        string
		reportID                                                                 sql.NullString
		triggerTime                                                              time.Time
	)

	err := row.Scan(
		&id,
		&scope,
		&sourceSite,
		&sourceOrigin,
		&destinationSite,
		&destinationOrigin,
		&enrollmentID,
		&triggerTime,
		&registrant,
		&sourceID,
		&triggerID,
		&registrationOrigin,
		&reportID,
	)
	if err != nil {
		return attribution.Attribution{}, fmt.Errorf("failed to scan attribution row: %w", err)
	}

	s, err := attribution.ParseScope(scope)
	if err != nil {
		return attribution.Attribution{}, fmt.Errorf("attribution %s: %w", id, err)
	}

	a, err := attribution.NewBuilder().
		SetID(id).
		SetScope(s).
		SetSourceSite(sourceSite).
		SetSourceOrigin(sourceOrigin).
		SetDestinationSite(destinationSite).
		SetDestinationOrigin(destinationOrigin).
		SetEnrollmentID(enrollmentID).
		SetTriggerTime(triggerTime.UTC()).
		SetRegistrant(registrant).
		SetSourceID(sourceID).
		SetTriggerID(triggerID).
		SetRegistrationOrigin(registrationOrigin).
		SetReportID(reportID.String).
		Build()
	if err != nil {
		return attribution.Attribution{}, fmt.Errorf("attribution %s: %w", id, err)
	}
	return a, nil
}
