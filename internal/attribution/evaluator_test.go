package attribution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	v1 "github.com/aevon-lab/flexevent/internal/api/v1"
	coreattr "github.com/aevon-lab/flexevent/internal/core/attribution"
	"github.com/aevon-lab/flexevent/internal/core/config"
	coreerrors "github.com/aevon-lab/flexevent/internal/core/errors"
	"github.com/aevon-lab/flexevent/internal/core/storage/memory"
	"github.com/aevon-lab/flexevent/internal/core/triggerspec"
	"github.com/aevon-lab/flexevent/internal/core/unsigned"
)

var eventTime = time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// trigger data 1 and 2 count into [1]; trigger data 5 sums values into [10, 20].
const flexSpecs = `[
	{"trigger_data": [1, 2], "event_report_windows": {"end_times": [604800000]}, "summary_buckets": [1]},
	{"trigger_data": [5], "event_report_windows": {"end_times": [604800000]},
	 "summary_window_operator": "value_sum", "summary_buckets": [10, 20]}
]`

const baselineSpecs = `[{
	"trigger_data": [1, 2, 3],
	"event_report_windows": {"end_times": [172800000, 604800000, 2592000000]},
	"summary_buckets": [1, 2, 3, 4]
}]`

func newSource(id string) *v1.Source {
	return &v1.Source{
		ID:                 id,
		EnrollmentID:       "enrollment-1",
		SourceSite:         "https://publisher.example",
		SourceOrigin:       "https://ads.publisher.example",
		Registrant:         "android-app://com.publisher",
		RegistrationOrigin: "https://adtech.example",
		SourceType:         "event",
		EventTime:          eventTime,
		Expiry:             eventTime.Add(7 * 24 * time.Hour),
		FilterData:         `{"product":["shoes"]}`,
		TriggerSpecs:       flexSpecs,
		MaxReports:         2,
	}
}

func newTrigger(id string, data unsigned.Long, value int64, after time.Duration) *v1.Trigger {
	return &v1.Trigger{
		ID:                 id,
		EnrollmentID:       "enrollment-1",
		DestinationSite:    "https://shop.example",
		DestinationOrigin:  "https://www.shop.example",
		Registrant:         "android-app://com.shop",
		RegistrationOrigin: "https://adtech.example",
		TriggerTime:        eventTime.Add(after),
		TriggerData:        data,
		Value:              value,
	}
}

func withDedupKey(t *v1.Trigger, key unsigned.Long) *v1.Trigger {
	t.DedupKey = &key
	return t
}

func withFilters(t *v1.Trigger, filters string) *v1.Trigger {
	t.Filters = filters
	return t
}

func newTestEvaluator(store *memory.Store, params EvaluatorParameter) *Evaluator {
	return NewEvaluator(store, store, fixedClock{now: eventTime.Add(30 * 24 * time.Hour)}, params)
}

func outcomes(results []Result) []Outcome {
	out := make([]Outcome, len(results))
	for i, r := range results {
		out[i] = r.Outcome
	}
	return out
}

func TestEvaluate_SingleSourceOutcomes(t *testing.T) {
	store := memory.NewStore()
	e := newTestEvaluator(store, EvaluatorParameter{WorkerCount: 2})
	src := newSource("src-1")

	candidates := []Candidate{
		{src, withDedupKey(withFilters(newTrigger("t1", 1, 0, time.Hour), `{"product":["shoes"]}`), 7)},
		{src, withFilters(newTrigger("t2", 2, 0, 2*time.Hour), `{"product":["hats"]}`)},
		{src, newTrigger("t3", 9, 0, 3*time.Hour)},
		{src, newTrigger("t4", 5, 12, 4*time.Hour)},
		{src, newTrigger("t5", 5, 10, 5*time.Hour)},
		{src, withDedupKey(newTrigger("t6", 1, 0, 6*time.Hour), 7)},
		{src, newTrigger("t7", 2, 0, 8*24*time.Hour)},
		{src, withFilters(newTrigger("t8", 2, 0, 7*time.Hour), `{"_lookback_window":1800}`)},
		{src, newTrigger("t9", 2, 0, -time.Minute)},
	}

	results, err := e.Evaluate(context.Background(), config.NewFlags(true, 14), candidates)
	require.NoError(t, err)
	require.Equal(t, []Outcome{
		Attributed,
		NotMatched,
		UnknownTriggerData,
		Attributed,
		CapReached,
		Duplicate,
		Expired,
		NotMatched,
		Expired,
	}, outcomes(results))

	require.Equal(t, 1, results[0].NewReports)
	require.Equal(t, &triggerspec.SummaryBucket{Start: 1, End: triggerspec.MaxBucketThreshold}, results[0].Bucket)
	require.NotEmpty(t, results[0].Attribution.ReportID())
	require.Equal(t, "src-1", results[0].Attribution.SourceID())
	require.Equal(t, coreattr.ScopeEvent, results[0].Attribution.Scope())
	require.Equal(t, &triggerspec.SummaryBucket{Start: 10, End: 19}, results[3].Bucket)

	require.Equal(t, 2, store.Len())

	status, err := store.GetAttributionStatus(context.Background(), "src-1")
	require.NoError(t, err)
	var ledger []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(status), &ledger))
	require.Len(t, ledger, 2)
	require.Equal(t, "t1", ledger[0]["trigger_id"])
	require.Equal(t, "7", ledger[0]["dedup_key"])
	require.Equal(t, "5", ledger[1]["trigger_data"])
}

func TestEvaluate_ValueBelowFirstBucketProducesNoReport(t *testing.T) {
	store := memory.NewStore()
	e := newTestEvaluator(store, EvaluatorParameter{WorkerCount: 1})
	src := newSource("src-1")

	results, err := e.Evaluate(context.Background(), config.NewFlags(true, 14), []Candidate{
		{src, newTrigger("t1", 5, 4, time.Hour)},
		{src, newTrigger("t2", 5, 4, 2*time.Hour)},
		{src, newTrigger("t3", 5, 4, 3*time.Hour)},
	})
	require.NoError(t, err)
	require.Equal(t, []Outcome{Attributed, Attributed, Attributed}, outcomes(results))

	require.Zero(t, results[0].NewReports)
	require.Nil(t, results[0].Bucket)
	require.Empty(t, results[0].Attribution.ReportID())
	require.Equal(t, 1, results[2].NewReports)
	require.Equal(t, &triggerspec.SummaryBucket{Start: 10, End: 19}, results[2].Bucket)
}

func TestEvaluate_RehydratesLedgerFromStatusStore(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.UpdateAttributionStatus(context.Background(), "src-1",
		`[{"trigger_id":"t1","value":0,"priority":3,"trigger_time":1,"trigger_data":"1"}]`))

	e := newTestEvaluator(store, EvaluatorParameter{WorkerCount: 1})
	src := newSource("src-1")
	candidates := []Candidate{
		{src, newTrigger("t1", 1, 0, time.Hour)},
		{src, newTrigger("t2", 5, 20, 2*time.Hour)},
	}

	results, err := e.Evaluate(context.Background(), config.NewFlags(true, 14), candidates)
	require.NoError(t, err)
	// t1 is already in the ledger; t2 would need two more reports with one left.
	require.Equal(t, []Outcome{Duplicate, CapReached}, outcomes(results))
}

func TestEvaluate_PrivacyLimitRejectsSource(t *testing.T) {
	store := memory.NewStore()
	e := newTestEvaluator(store, EvaluatorParameter{WorkerCount: 1})

	src := newSource("src-1")
	src.TriggerSpecs = baselineSpecs
	src.MaxReports = 3

	results, err := e.Evaluate(context.Background(), config.NewFlags(true, 14), []Candidate{
		{src, newTrigger("t1", 1, 0, time.Hour)},
	})
	require.NoError(t, err)
	require.Equal(t, Invalid, results[0].Outcome)
	require.ErrorIs(t, results[0].Err, coreerrors.ErrValidation)

	// Navigation sources get the larger information gain budget.
	src.SourceType = "navigation"
	results, err = e.Evaluate(context.Background(), config.NewFlags(true, 14), []Candidate{
		{src, newTrigger("t1", 1, 0, time.Hour)},
	})
	require.NoError(t, err)
	require.Equal(t, Attributed, results[0].Outcome)
}

func TestEvaluate_InvalidInputs(t *testing.T) {
	tests := []struct {
		name      string
		candidate Candidate
	}{
		{name: "missing trigger", candidate: Candidate{Source: newSource("src-1")}},
		{
			name: "malformed trigger specs",
			candidate: func() Candidate {
				src := newSource("src-1")
				src.TriggerSpecs = `[{"trigger_data": [1, 1]}]`
				return Candidate{src, newTrigger("t1", 1, 0, time.Hour)}
			}(),
		},
		{
			name:      "malformed trigger filters",
			candidate: Candidate{newSource("src-1"), withFilters(newTrigger("t1", 1, 0, time.Hour), `{"product":"shoes"}`)},
		},
		{
			name: "missing destination origin",
			candidate: func() Candidate {
				trg := newTrigger("t1", 1, 0, time.Hour)
				trg.DestinationOrigin = ""
				return Candidate{newSource("src-1"), trg}
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEvaluator(memory.NewStore(), EvaluatorParameter{WorkerCount: 1})
			results, err := e.Evaluate(context.Background(), config.NewFlags(true, 14), []Candidate{tt.candidate})
			require.NoError(t, err)
			require.Equal(t, Invalid, results[0].Outcome)
			require.Error(t, results[0].Err)
		})
	}
}

func TestEvaluate_RateLimit(t *testing.T) {
	store := memory.NewStore()
	e := newTestEvaluator(store, EvaluatorParameter{WorkerCount: 1, MaxAttributionsPerWindow: 1})

	results, err := e.Evaluate(context.Background(), config.NewFlags(true, 14), []Candidate{
		{newSource("src-1"), newTrigger("t1", 1, 0, time.Hour)},
		{newSource("src-2"), newTrigger("t2", 1, 0, time.Hour)},
	})
	require.NoError(t, err)
	require.Equal(t, []Outcome{Attributed, RateLimited}, outcomes(results))
}

func TestEvaluate_ParallelSources(t *testing.T) {
	store := memory.NewStore()
	e := newTestEvaluator(store, EvaluatorParameter{WorkerCount: 8})

	var candidates []Candidate
	for i := 0; i < 50; i++ {
		src := newSource(fmt.Sprintf("src-%d", i))
		candidates = append(candidates,
			Candidate{src, newTrigger(fmt.Sprintf("t-%d-a", i), 1, 0, time.Hour)},
			Candidate{src, newTrigger(fmt.Sprintf("t-%d-b", i), 2, 0, 2*time.Hour)},
			Candidate{src, newTrigger(fmt.Sprintf("t-%d-c", i), 2, 0, 3*time.Hour)},
		)
	}

	results, err := e.Evaluate(context.Background(), config.NewFlags(true, 14), candidates)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		// the third trigger needs no new report: trigger data 2 already passed its only bucket
		require.Equal(t, []Outcome{Attributed, Attributed, Attributed}, outcomes(results[3*i:3*i+3]), "source %d", i)
		require.Equal(t, 0, results[3*i+2].NewReports)
	}
	require.Equal(t, 150, store.Len())
}

type failingStore struct {
	*memory.Store
	err error
}

func (s failingStore) InsertAttribution(context.Context, coreattr.Attribution) error {
	return s.err
}

func TestEvaluate_StorageErrorAborts(t *testing.T) {
	boom := errors.New("connection reset")
	store := failingStore{Store: memory.NewStore(), err: boom}
	e := NewEvaluator(store, store, fixedClock{now: eventTime}, EvaluatorParameter{WorkerCount: 2})

	_, err := e.Evaluate(context.Background(), config.NewFlags(true, 14), []Candidate{
		{newSource("src-1"), newTrigger("t1", 1, 0, time.Hour)},
	})
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "source src-1")
}

// countFailingStore fails every CountAttributions call after the first failAfter.
type countFailingStore struct {
	*memory.Store
	failAfter int
	calls     int
	err       error
}

func (s *countFailingStore) CountAttributions(
	ctx context.Context,
	sourceSite, destinationSite, enrollmentID string,
	since, until time.Time,
) (int, error) {
	s.calls++
	if s.calls > s.failAfter {
		return 0, s.err
	}
	return s.Store.CountAttributions(ctx, sourceSite, destinationSite, enrollmentID, since, until)
}

func TestEvaluate_StorageErrorKeepsLedgerInSync(t *testing.T) {
	boom := errors.New("connection reset")
	base := memory.NewStore()
	store := &countFailingStore{Store: base, failAfter: 1, err: boom}
	params := EvaluatorParameter{WorkerCount: 1, MaxAttributionsPerWindow: 100}
	src := newSource("src-1")
	candidates := []Candidate{
		{src, newTrigger("t1", 1, 0, time.Hour)},
		{src, newTrigger("t2", 2, 0, 2*time.Hour)},
	}

	e := NewEvaluator(store, store, fixedClock{now: eventTime.Add(30 * 24 * time.Hour)}, params)
	_, err := e.Evaluate(context.Background(), config.NewFlags(true, 14), candidates)
	require.ErrorIs(t, err, boom)

	rows, err := base.ListAttributionsBySource(context.Background(), "src-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	status, err := base.GetAttributionStatus(context.Background(), "src-1")
	require.NoError(t, err)
	ts, err := triggerspec.Parse(flexSpecs, "2", &v1.Source{AttributionStatus: status}, "")
	require.NoError(t, err)
	require.Equal(t, []string{"t1"}, ts.TriggerIDs())

	// A retry sees t1 through the ledger and still counts its report.
	retry := newTestEvaluator(base, params)
	results, err := retry.Evaluate(context.Background(), config.NewFlags(true, 14), append(candidates,
		Candidate{src, newTrigger("t3", 5, 20, 3*time.Hour)}))
	require.NoError(t, err)
	require.Equal(t, []Outcome{Duplicate, Attributed, CapReached}, outcomes(results))
}

func TestEvaluate_ValueSumSaturates(t *testing.T) {
	store := memory.NewStore()
	e := newTestEvaluator(store, EvaluatorParameter{WorkerCount: 1})
	src := newSource("src-1")
	src.MaxReports = 3

	results, err := e.Evaluate(context.Background(), config.NewFlags(true, 14), []Candidate{
		{src, newTrigger("t0", 5, math.MaxInt64, 30*time.Minute)},
		{src, newTrigger("t1", 5, triggerspec.MaxBucketThreshold, time.Hour)},
		{src, newTrigger("t2", 5, triggerspec.MaxBucketThreshold, 2*time.Hour)},
		{src, newTrigger("t3", 1, 0, 3*time.Hour)},
		{src, newTrigger("t4", 2, 0, 4*time.Hour)},
	})
	require.NoError(t, err)
	require.Equal(t, []Outcome{Invalid, Attributed, Attributed, Attributed, CapReached}, outcomes(results))

	require.Equal(t, 2, results[1].NewReports)
	require.Equal(t, 0, results[2].NewReports)
	require.Equal(t, &triggerspec.SummaryBucket{Start: 20, End: triggerspec.MaxBucketThreshold}, results[2].Bucket)
	require.Equal(t, 1, results[3].NewReports)
}

func TestEvaluate_LedgerWithUnregisteredTriggerDataIsInvalid(t *testing.T) {
	store := memory.NewStore()
	e := newTestEvaluator(store, EvaluatorParameter{WorkerCount: 1})
	src := newSource("src-1")
	src.AttributionStatus = `[{"trigger_id":"old","trigger_data":"9","trigger_time":1,"value":0,"priority":0}]`

	results, err := e.Evaluate(context.Background(), config.NewFlags(true, 14), []Candidate{
		{src, newTrigger("t1", 1, 0, time.Hour)},
	})
	require.NoError(t, err)
	require.Equal(t, Invalid, results[0].Outcome)
	require.ErrorIs(t, results[0].Err, coreerrors.ErrLookup)
	require.Equal(t, 0, store.Len())
}

func TestEvaluate_Empty(t *testing.T) {
	e := newTestEvaluator(memory.NewStore(), DefaultEvaluatorParameter())
	results, err := e.Evaluate(context.Background(), config.NewFlags(true, 14), nil)
	require.NoError(t, err)
	require.Empty(t, results)
}
