package postgres

// SQL queries for attribution rows and per-source attribution status.

const (
	// queryInsertAttribution relies on the (source_id, trigger_id, scope) unique index;
	// a duplicate affects zero rows.
	queryInsertAttribution = `
		INSERT INTO attributions (
			id, scope, source_site, source_origin, destination_site, destination_origin,
			enrollment_id, trigger_time, registrant, source_id, trigger_id,
			registration_origin, report_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (source_id, trigger_id, scope) DO NOTHING
	`

	queryListAttributionsBySource = `
		SELECT
			id, scope, source_site, source_origin, destination_site, destination_origin,
			enrollment_id, trigger_time, registrant, source_id, trigger_id,
			registration_origin, report_id
		FROM attributions
		WHERE source_id = $1
		ORDER BY trigger_time ASC, id ASC
	`

	// queryCountAttributions backs rate limiting over a trailing window.
	queryCountAttributions = `
		SELECT COUNT(*)
		FROM attributions
		WHERE source_site = $1
		  AND destination_site = $2
		  AND enrollment_id = $3
		  AND trigger_time >= $4
		  AND trigger_time < $5
	`

	queryUpsertAttributionStatus = `
		INSERT INTO source_attribution_status (source_id, status, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (source_id)
		DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()
	`

	queryGetAttributionStatus = `
		SELECT status
		FROM source_attribution_status
		WHERE source_id = $1
	`
)
