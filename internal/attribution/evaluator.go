package attribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	v1 "github.com/aevon-lab/flexevent/internal/api/v1"
	coreattr "github.com/aevon-lab/flexevent/internal/core/attribution"
	"github.com/aevon-lab/flexevent/internal/core/filter"
	"github.com/aevon-lab/flexevent/internal/core/partition"
	"github.com/aevon-lab/flexevent/internal/core/storage"
	"github.com/aevon-lab/flexevent/internal/core/triggerspec"
	"github.com/aevon-lab/flexevent/internal/core/unsigned"
)

const (
	defaultWorkerCount           = 4
	defaultRateLimitWindow       = 30 * 24 * time.Hour
	defaultMaxAttributionsPerWin = 100
)

// Flags is the measurement snapshot one evaluation runs under.
type Flags interface {
	filter.Flags
	PrivacyEpsilon() float64
	MaxReportStates() uint64
	MaxInformationGain(sourceType string) float64
}

// Clock supplies evaluation time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock reads the wall clock in UTC.
var SystemClock Clock = systemClock{}

// EvaluatorParameter controls parallelism and attribution rate limiting.
type EvaluatorParameter struct {
	WorkerCount int

	// RateLimitWindow and MaxAttributionsPerWindow bound attributions per
	// (source site, destination site, enrollment). A zero max disables the limit.
	RateLimitWindow          time.Duration
	MaxAttributionsPerWindow int

	// PrivacyCacheSize bounds the number of remembered privacy verdicts.
	PrivacyCacheSize int
}

// DefaultEvaluatorParameter returns 4 workers and 100 attributions per 30 days.
func DefaultEvaluatorParameter() EvaluatorParameter {
	return EvaluatorParameter{
		WorkerCount:              defaultWorkerCount,
		RateLimitWindow:          defaultRateLimitWindow,
		MaxAttributionsPerWindow: defaultMaxAttributionsPerWin,
		PrivacyCacheSize:         defaultPrivacyCacheSize,
	}
}

func (p EvaluatorParameter) normalized() EvaluatorParameter {
	n := p
	if n.WorkerCount <= 0 {
		n.WorkerCount = defaultWorkerCount
	}
	if n.RateLimitWindow <= 0 {
		n.RateLimitWindow = defaultRateLimitWindow
	}
	return n
}

// Evaluator attributes candidate triggers to their sources. Sources are evaluated in
// parallel; the candidates of one source always run sequentially on one worker.
type Evaluator struct {
	attributions storage.AttributionStore
	status       storage.SourceStatusStore
	clock        Clock
	params       EvaluatorParameter
	privacy      *privacyCache
}

func NewEvaluator(
	attributions storage.AttributionStore,
	status storage.SourceStatusStore,
	clock Clock,
	params EvaluatorParameter,
) *Evaluator {
	if clock == nil {
		clock = SystemClock
	}
	return &Evaluator{
		attributions: attributions,
		status:       status,
		clock:        clock,
		params:       params.normalized(),
		privacy:      newPrivacyCache(params.PrivacyCacheSize),
	}
}

type sourceGroup struct {
	source  *v1.Source
	indices []int
}

// Evaluate returns one Result per candidate, in candidate order. Problems with a
// single source or trigger become Invalid results; storage failures abort the run.
func (e *Evaluator) Evaluate(ctx context.Context, flags Flags, candidates []Candidate) ([]Result, error) {
	now := e.clock.Now()
	results := make([]Result, len(candidates))
	groups := groupBySource(candidates, results, now)

	workerCount := min(e.params.WorkerCount, len(groups))
	if workerCount == 0 {
		return results, nil
	}

	assignments := make([][]*sourceGroup, workerCount)
	for _, g := range groups {
		w := partition.Worker(g.source.ID, workerCount)
		assignments[w] = append(assignments[w], g)
	}

	slog.Info("[Evaluator] Evaluating candidates",
		"candidates", len(candidates),
		"sources", len(groups),
		"workers", workerCount,
	)

	eg, egCtx := errgroup.WithContext(ctx)
	for _, assigned := range assignments {
		eg.Go(func() error {
			for _, g := range assigned {
				if err := egCtx.Err(); err != nil {
					return err
				}
				if err := e.evaluateSource(egCtx, flags, g, candidates, results, now); err != nil {
					return fmt.Errorf("source %s: %w", g.source.ID, err)
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, r := range results {
		counts[r.Outcome.String()]++
	}
	slog.Info("[Evaluator] Evaluation complete", "outcomes", counts)
	return results, nil
}

// groupBySource keeps first-seen source order; within a source, candidates are
// ordered by trigger time.
func groupBySource(candidates []Candidate, results []Result, now time.Time) []*sourceGroup {
	byID := make(map[string]*sourceGroup)
	var groups []*sourceGroup
	for i, c := range candidates {
		if c.Source == nil || c.Trigger == nil {
			results[i] = Result{Outcome: Invalid, EvaluatedAt: now, Err: fmt.Errorf("candidate %d: source and trigger are required", i)}
			continue
		}
		g, ok := byID[c.Source.ID]
		if !ok {
			g = &sourceGroup{source: c.Source}
			byID[c.Source.ID] = g
			groups = append(groups, g)
		}
		g.indices = append(g.indices, i)
	}
	for _, g := range groups {
		sort.SliceStable(g.indices, func(a, b int) bool {
			return candidates[g.indices[a]].Trigger.TriggerTime.Before(candidates[g.indices[b]].Trigger.TriggerTime)
		})
	}
	return groups
}

func (e *Evaluator) evaluateSource(
	ctx context.Context,
	flags Flags,
	g *sourceGroup,
	candidates []Candidate,
	results []Result,
	now time.Time,
) error {
	src := *g.source
	reject := func(err error) error {
		slog.Warn("[Evaluator] Rejecting source", "source_id", src.ID, "error", err)
		for _, i := range g.indices {
			results[i] = Result{
				SourceID:    src.ID,
				TriggerID:   candidates[i].Trigger.ID,
				Outcome:     Invalid,
				EvaluatedAt: now,
				Err:         err,
			}
		}
		return nil
	}

	if err := src.Validate(); err != nil {
		return reject(err)
	}

	status, err := e.status.GetAttributionStatus(ctx, src.ID)
	switch {
	case err == nil:
		src.AttributionStatus = status
	case errors.Is(err, storage.ErrNotFound):
	default:
		return fmt.Errorf("load attribution status: %w", err)
	}

	specs, err := triggerspec.FromSource(&src)
	if err != nil {
		return reject(err)
	}
	if _, err := reportsUsed(specs); err != nil {
		return reject(err)
	}
	err = e.privacy.check(privacyKey(&src, flags), func() error {
		return specs.CheckPrivacyLimits(flags.MaxReportStates(), flags.MaxInformationGain(src.SourceType), flags.PrivacyEpsilon())
	})
	if err != nil {
		return reject(err)
	}
	sourceFilters, err := src.ParsedFilterData(flags)
	if err != nil {
		return reject(err)
	}

	changed := false
	for _, i := range g.indices {
		res, err := e.evaluateCandidate(ctx, flags, &src, specs, sourceFilters, candidates[i].Trigger, now)
		if err != nil {
			if !changed {
				return err
			}
			// Rows already inserted for this source must stay in its ledger.
			if serr := e.saveStatus(context.WithoutCancel(ctx), src.ID, specs); serr != nil {
				return errors.Join(err, serr)
			}
			return err
		}
		results[i] = res
		if res.Outcome == Attributed {
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return e.saveStatus(ctx, src.ID, specs)
}

func (e *Evaluator) saveStatus(ctx context.Context, sourceID string, specs *triggerspec.TriggerSpecs) error {
	statusJSON, err := specs.EncodeAttributionStatusJSON()
	if err != nil {
		return fmt.Errorf("encode attribution status: %w", err)
	}
	if err := e.status.UpdateAttributionStatus(ctx, sourceID, string(statusJSON)); err != nil {
		return fmt.Errorf("update attribution status: %w", err)
	}
	return nil
}

func (e *Evaluator) evaluateCandidate(
	ctx context.Context,
	flags Flags,
	src *v1.Source,
	specs *triggerspec.TriggerSpecs,
	sourceFilters filter.Map,
	trg *v1.Trigger,
	now time.Time,
) (Result, error) {
	res := Result{SourceID: src.ID, TriggerID: trg.ID, EvaluatedAt: now}
	invalid := func(err error) (Result, error) {
		res.Outcome = Invalid
		res.Err = err
		return res, nil
	}

	if err := trg.Validate(); err != nil {
		return invalid(err)
	}
	if trg.EnrollmentID != src.EnrollmentID {
		res.Outcome = NotMatched
		return res, nil
	}
	if trg.TriggerTime.Before(src.EventTime) || (!src.Expiry.IsZero() && trg.TriggerTime.After(src.Expiry)) {
		res.Outcome = Expired
		return res, nil
	}

	elapsed := trg.TriggerTime.Sub(src.EventTime)
	filters, err := trg.ParsedFilters(flags)
	if err != nil {
		return invalid(err)
	}
	notFilters, err := trg.ParsedNotFilters(flags)
	if err != nil {
		return invalid(err)
	}
	if !filter.IsMatch(sourceFilters, filters, filter.Filters, elapsed, flags) ||
		!filter.IsMatch(sourceFilters, notFilters, filter.NotFilters, elapsed, flags) {
		res.Outcome = NotMatched
		return res, nil
	}

	d := trg.TriggerData
	if !specs.ContainsTriggerData(d) {
		res.Outcome = UnknownTriggerData
		return res, nil
	}
	windows, err := specs.EventReportWindowsForTriggerData(d)
	if err != nil {
		return res, err
	}
	if !slices.ContainsFunc(windows, func(w triggerspec.Window) bool { return w.Contains(elapsed) }) {
		res.Outcome = Expired
		return res, nil
	}

	if slices.Contains(specs.TriggerIDs(), trg.ID) ||
		(trg.DedupKey != nil && specs.HasDedupKey(d, *trg.DedupKey)) {
		res.Outcome = Duplicate
		return res, nil
	}

	op, err := specs.SummaryOperatorForTriggerData(d)
	if err != nil {
		return res, err
	}
	buckets, err := specs.SummaryBucketsForTriggerData(d)
	if err != nil {
		return res, err
	}
	before := summaryValue(specs, op, d)
	after := op.Apply(before, trg.Value)
	newReports := reportsFor(after, buckets) - reportsFor(before, buckets)
	used, err := reportsUsed(specs)
	if err != nil {
		return invalid(err)
	}
	if used+newReports > specs.MaxReports() {
		res.Outcome = CapReached
		return res, nil
	}

	if e.params.MaxAttributionsPerWindow > 0 {
		n, err := e.attributions.CountAttributions(ctx,
			src.SourceSite, trg.DestinationSite, trg.EnrollmentID,
			now.Add(-e.params.RateLimitWindow), now)
		if err != nil {
			return res, fmt.Errorf("count attributions: %w", err)
		}
		if n >= e.params.MaxAttributionsPerWindow {
			res.Outcome = RateLimited
			return res, nil
		}
	}

	reportID := ""
	if newReports > 0 {
		reportID = coreattr.NewID()
	}
	a, err := coreattr.NewBuilder().
		SetID(coreattr.NewID()).
		SetScope(coreattr.ScopeEvent).
		SetSourceSite(src.SourceSite).
		SetSourceOrigin(src.SourceOrigin).
		SetDestinationSite(trg.DestinationSite).
		SetDestinationOrigin(trg.DestinationOrigin).
		SetEnrollmentID(trg.EnrollmentID).
		SetTriggerTime(trg.TriggerTime).
		SetRegistrant(trg.Registrant).
		SetSourceID(src.ID).
		SetTriggerID(trg.ID).
		SetRegistrationOrigin(trg.RegistrationOrigin).
		SetReportID(reportID).
		Build()
	if err != nil {
		return invalid(err)
	}

	if err := e.attributions.InsertAttribution(ctx, a); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			res.Outcome = Duplicate
			return res, nil
		}
		return res, fmt.Errorf("insert attribution: %w", err)
	}

	res.Priority = specs.HighestPriority(d, trg.Priority)
	specs.InsertAttributedTrigger(triggerspec.AttributedTrigger{
		TriggerID:   trg.ID,
		Priority:    trg.Priority,
		TriggerData: d,
		Value:       trg.Value,
		TriggerTime: trg.TriggerTime.UnixMilli(),
		DedupKey:    trg.DedupKey,
	})

	res.Outcome = Attributed
	res.Attribution = &a
	res.NewReports = newReports
	if b, ok := triggerspec.BucketForValue(after, buckets); ok {
		res.Bucket = &b
	}

	slog.Debug("[Evaluator] Attributed trigger",
		"source_id", src.ID,
		"trigger_id", trg.ID,
		"trigger_data", d.String(),
		"summary", after,
		"new_reports", newReports,
	)
	return res, nil
}

// summaryValue is the running summary of d under op before the next trigger.
func summaryValue(specs *triggerspec.TriggerSpecs, op triggerspec.SummaryOperator, d unsigned.Long) int64 {
	if op == triggerspec.ValueSum {
		return specs.CurrentAttributedValue(d)
	}
	return int64(specs.AttributedCount(d))
}

// reportsFor is the number of bucket thresholds value has reached; each one reached
// produces one report.
func reportsFor(value int64, buckets []int64) int {
	n := 0
	for _, b := range buckets {
		if value < b {
			break
		}
		n++
	}
	return n
}

// reportsUsed totals the reports already produced across all attributed trigger data.
// A ledger entry for trigger data the specs do not register is an error.
func reportsUsed(specs *triggerspec.TriggerSpecs) (int, error) {
	seen := make(map[unsigned.Long]struct{})
	total := 0
	for _, t := range specs.AttributedTriggers() {
		if _, ok := seen[t.TriggerData]; ok {
			continue
		}
		seen[t.TriggerData] = struct{}{}

		op, err := specs.SummaryOperatorForTriggerData(t.TriggerData)
		if err != nil {
			return 0, fmt.Errorf("attributed trigger %s: %w", t.TriggerID, err)
		}
		buckets, err := specs.SummaryBucketsForTriggerData(t.TriggerData)
		if err != nil {
			return 0, fmt.Errorf("attributed trigger %s: %w", t.TriggerID, err)
		}
		total += reportsFor(summaryValue(specs, op, t.TriggerData), buckets)
	}
	return total, nil
}
