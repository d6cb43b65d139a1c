package attribution

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	coreerrors "github.com/aevon-lab/flexevent/internal/core/errors"
)

const entity = "attribution"

// Scope separates event-level from aggregate attributions.
type Scope int

const (
	ScopeEvent Scope = iota
	ScopeAggregate
)

func (s Scope) String() string {
	if s == ScopeAggregate {
		return "AGGREGATE"
	}
	return "EVENT"
}

// ParseScope reads the persisted scope name.
func ParseScope(s string) (Scope, error) {
	switch strings.ToUpper(s) {
	case "EVENT":
		return ScopeEvent, nil
	case "AGGREGATE":
		return ScopeAggregate, nil
	default:
		return 0, coreerrors.NewValidationError(entity, "scope", "unknown scope %q", s)
	}
}

// NewID returns a fresh row or report id.
func NewID() string {
	return uuid.NewString()
}

// Attribution records one source-trigger match granted to an ad tech. It is immutable;
// use Builder to derive variants.
type Attribution struct {
	id                 string
	scope              Scope
	sourceSite         string
	sourceOrigin       string
	destinationSite    string
	destinationOrigin  string
	enrollmentID       string
	triggerTime        time.Time
	registrant         string
	sourceID           string
	triggerID          string
	registrationOrigin string
	reportID           string
}

func (a Attribution) ID() string                 { return a.id }
func (a Attribution) Scope() Scope               { return a.scope }
func (a Attribution) SourceSite() string         { return a.sourceSite }
func (a Attribution) SourceOrigin() string       { return a.sourceOrigin }
func (a Attribution) DestinationSite() string    { return a.destinationSite }
func (a Attribution) DestinationOrigin() string  { return a.destinationOrigin }
func (a Attribution) EnrollmentID() string       { return a.enrollmentID }
func (a Attribution) TriggerTime() time.Time     { return a.triggerTime }
func (a Attribution) Registrant() string         { return a.registrant }
func (a Attribution) SourceID() string           { return a.sourceID }
func (a Attribution) TriggerID() string          { return a.triggerID }
func (a Attribution) RegistrationOrigin() string { return a.registrationOrigin }
func (a Attribution) ReportID() string           { return a.reportID }

// Equal compares every field except the row id.
func (a Attribution) Equal(other Attribution) bool {
	return a.scope == other.scope &&
		a.sourceSite == other.sourceSite &&
		a.sourceOrigin == other.sourceOrigin &&
		a.destinationSite == other.destinationSite &&
		a.destinationOrigin == other.destinationOrigin &&
		a.enrollmentID == other.enrollmentID &&
		a.triggerTime.Equal(other.triggerTime) &&
		a.registrant == other.registrant &&
		a.sourceID == other.sourceID &&
		a.triggerID == other.triggerID &&
		a.registrationOrigin == other.registrationOrigin &&
		a.reportID == other.reportID
}

// Hash is consistent with Equal.
func (a Attribution) Hash() uint64 {
	h := fnv.New64a()
	for _, s := range []string{
		a.scope.String(),
		a.sourceSite,
		a.sourceOrigin,
		a.destinationSite,
		a.destinationOrigin,
		a.enrollmentID,
		strconv.FormatInt(a.triggerTime.UnixNano(), 10),
		a.registrant,
		a.sourceID,
		a.triggerID,
		a.registrationOrigin,
		a.reportID,
	} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

func (a Attribution) String() string {
	return fmt.Sprintf("Attribution{id=%s scope=%s source=%s trigger=%s enrollment=%s}",
		a.id, a.scope, a.sourceID, a.triggerID, a.enrollmentID)
}

// Builder collects fields and validates them in Build.
type Builder struct {
	a Attribution
}

func NewBuilder() *Builder {
	return &Builder{}
}

// From starts a builder pre-populated with every field of a, id included.
func From(a Attribution) *Builder {
	return &Builder{a: a}
}

func (b *Builder) SetID(v string) *Builder                 { b.a.id = v; return b }
func (b *Builder) SetScope(v Scope) *Builder               { b.a.scope = v; return b }
func (b *Builder) SetSourceSite(v string) *Builder         { b.a.sourceSite = v; return b }
func (b *Builder) SetSourceOrigin(v string) *Builder       { b.a.sourceOrigin = v; return b }
func (b *Builder) SetDestinationSite(v string) *Builder    { b.a.destinationSite = v; return b }
func (b *Builder) SetDestinationOrigin(v string) *Builder  { b.a.destinationOrigin = v; return b }
func (b *Builder) SetEnrollmentID(v string) *Builder       { b.a.enrollmentID = v; return b }
func (b *Builder) SetTriggerTime(v time.Time) *Builder     { b.a.triggerTime = v; return b }
func (b *Builder) SetRegistrant(v string) *Builder         { b.a.registrant = v; return b }
func (b *Builder) SetSourceID(v string) *Builder           { b.a.sourceID = v; return b }
func (b *Builder) SetTriggerID(v string) *Builder          { b.a.triggerID = v; return b }
func (b *Builder) SetRegistrationOrigin(v string) *Builder { b.a.registrationOrigin = v; return b }
func (b *Builder) SetReportID(v string) *Builder           { b.a.reportID = v; return b }

// Build fails on the first missing mandatory field.
func (b *Builder) Build() (Attribution, error) {
	required := []struct {
		field string
		value string
	}{
		{"source_site", b.a.sourceSite},
		{"source_origin", b.a.sourceOrigin},
		{"destination_site", b.a.destinationSite},
		{"destination_origin", b.a.destinationOrigin},
		{"registrant", b.a.registrant},
		{"enrollment_id", b.a.enrollmentID},
		{"registration_origin", b.a.registrationOrigin},
	}
	for _, r := range required {
		if r.value == "" {
			return Attribution{}, coreerrors.NewRequiredFieldError(entity, r.field)
		}
	}
	if b.a.scope != ScopeEvent && b.a.scope != ScopeAggregate {
		return Attribution{}, coreerrors.NewValidationError(entity, "scope", "unknown scope %d", b.a.scope)
	}
	return b.a, nil
}
