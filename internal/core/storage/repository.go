package storage

import (
	"context"
	"errors"
	"time"

	"github.com/aevon-lab/flexevent/internal/core/attribution"
)

// ErrDuplicate is returned when an attribution with the same (source_id, trigger_id, scope) already exists.
var ErrDuplicate = errors.New("attribution already exists")

// ErrNotFound is returned when no attribution status has been stored for a source.
var ErrNotFound = errors.New("not found")

// AttributionStore persists granted source-trigger matches.
type AttributionStore interface {
	InsertAttribution(ctx context.Context, a attribution.Attribution) error

	// ListAttributionsBySource returns the rows for one source ordered by trigger time.
	ListAttributionsBySource(ctx context.Context, sourceID string) ([]attribution.Attribution, error)

	// CountAttributions counts rows for one (source site, destination site, enrollment)
	// triple with trigger_time in [since, until). Used for attribution rate limiting.
	CountAttributions(
		ctx context.Context,
		sourceSite string,
		destinationSite string,
		enrollmentID string,
		since time.Time,
		until time.Time,
	) (int, error)
}

// SourceStatusStore persists the per-source attribution status ledger JSON.
type SourceStatusStore interface {
	// UpdateAttributionStatus upserts the ledger JSON for a source.
	UpdateAttributionStatus(ctx context.Context, sourceID, statusJSON string) error

	// GetAttributionStatus returns ErrNotFound when nothing has been stored.
	GetAttributionStatus(ctx context.Context, sourceID string) (string, error)
}
