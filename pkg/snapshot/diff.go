package snapshot

import (
	"reflect"
	"sort"
)

// Diff returns the sorted set of keys present in the union of both sides
// whose normalized values differ. A nil value on one side and an absent key
// on the other compare equal, to avoid false positives from nullable fields.
// Both inputs must already be normalized.
func Diff(before, after map[string]any) []string {
	var changed []string
	seen := make(map[string]bool, len(before))
	for k, bv := range before {
		seen[k] = true
		av, ok := after[k]
		if !ok {
			if bv != nil {
				changed = append(changed, k)
			}
			continue
		}
		if !reflect.DeepEqual(bv, av) {
			changed = append(changed, k)
		}
	}
	for k, av := range after {
		if seen[k] {
			continue
		}
		if av != nil {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

// Keys returns the sorted key set of a normalized snapshot. Used for delete
// entries, where every recorded field counts as changed.
func Keys(attrs map[string]any) []string {
	if len(attrs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MediaEqual reports whether two media-reference mappings hold the same
// reference sets. Reference order within a field is not significant.
func MediaEqual(before, after map[string][]string) bool {
	if len(before) != len(after) {
		// Empty-but-present and absent compare equal.
		return emptyMedia(before) && emptyMedia(after)
	}
	for field, bRefs := range before {
		aRefs, ok := after[field]
		if !ok || len(aRefs) != len(bRefs) {
			return false
		}
		b := append([]string(nil), bRefs...)
		a := append([]string(nil), aRefs...)
		sort.Strings(b)
		sort.Strings(a)
		if !reflect.DeepEqual(b, a) {
			return false
		}
	}
	return true
}

func emptyMedia(m map[string][]string) bool {
	for _, refs := range m {
		if len(refs) > 0 {
			return false
		}
	}
	return true
}

// FieldDrift compares two tracked-field sets and reports which fields were
// present then but not now (missing) and which exist now but not then
// (extra). Inputs need not be sorted.
func FieldDrift(then, now []string) (missing, extra []string) {
	thenSet := make(map[string]bool, len(then))
	for _, f := range then {
		thenSet[f] = true
	}
	nowSet := make(map[string]bool, len(now))
	for _, f := range now {
		nowSet[f] = true
		if !thenSet[f] {
			extra = append(extra, f)
		}
	}
	for _, f := range then {
		if !nowSet[f] {
			missing = append(missing, f)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return missing, extra
}
