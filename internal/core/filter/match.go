package filter

import "time"

// MatchKind selects positive (filters) or negated (not_filters) matching.
type MatchKind int

const (
	Filters MatchKind = iota
	NotFilters
)

// IsMatch evaluates trigger-side filter maps against source filter data. The set
// matches when any map matches; a map matches when every key shared with the source
// matches. elapsed is the time between source and trigger, compared against the
// reserved lookback key when the lookback filter is enabled.
func IsMatch(source Map, triggerSet []Map, kind MatchKind, elapsed time.Duration, flags Flags) bool {
	if len(triggerSet) == 0 {
		return true
	}
	for _, trigger := range triggerSet {
		if mapMatches(source, trigger, kind, elapsed, flags) {
			return true
		}
	}
	return false
}

func mapMatches(source, trigger Map, kind MatchKind, elapsed time.Duration, flags Flags) bool {
	lookback := flags.LookbackWindowFilterEnabled()
	for key, tv := range trigger.values {
		if lookback && key == LookbackWindow {
			if tv.kind != KindLong {
				return false
			}
			within := elapsed <= time.Duration(tv.long)*time.Second
			if within != (kind == Filters) {
				return false
			}
			continue
		}
		sv, ok := source.values[key]
		if !ok {
			continue
		}
		if sv.kind != KindStringList || tv.kind != KindStringList {
			continue
		}
		if listMatches(sv.list, tv.list) != (kind == Filters) {
			return false
		}
	}
	return true
}

func listMatches(source, trigger []string) bool {
	if len(trigger) == 0 {
		return len(source) == 0
	}
	seen := make(map[string]struct{}, len(source))
	for _, s := range source {
		seen[s] = struct{}{}
	}
	for _, t := range trigger {
		if _, ok := seen[t]; ok {
			return true
		}
	}
	return false
}
