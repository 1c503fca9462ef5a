package fallback

import "strings"

// SelectCandidates builds the ordered list of models to try.
//
// When listed is true, enabled is the provider-reported set of usable models
// and the priority list is filtered to it, keeping priority order. If nothing
// survives the filter, the first enabled model is tried alone. When listed is
// false (or the provider reported no models at all) the priority list is
// returned unfiltered and unusable models surface as Unavailable at call time.
//
// Blank and duplicate identifiers are dropped. The result is never empty;
// ErrConfiguration is returned when the priority list has no usable entry.
func SelectCandidates(priority []string, enabled []string, listed bool) ([]Candidate, error) {
	ordered := dedupe(priority)
	if len(ordered) == 0 {
		return nil, ErrConfiguration
	}

	available := dedupe(enabled)
	if !listed || len(available) == 0 {
		return rank(ordered), nil
	}

	allowed := make(map[string]bool, len(available))
	for _, id := range available {
		allowed[id] = true
	}

	filtered := make([]string, 0, len(ordered))
	for _, id := range ordered {
		if allowed[id] {
			filtered = append(filtered, id)
		}
	}

	if len(filtered) == 0 {
		return rank(available[:1]), nil
	}

	return rank(filtered), nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func rank(ids []string) []Candidate {
	candidates := make([]Candidate, len(ids))
	for i, id := range ids {
		candidates[i] = Candidate{ID: id, Rank: i}
	}
	return candidates
}
