package sharing

import "sort"

// Delta is the minimal change turning one collective set into another.
type Delta struct {
	ToAdd    []string
	ToRemove []string
}

// Empty reports whether the delta changes nothing.
func (d Delta) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0
}

// Diff returns desired minus existing as ToAdd and existing minus desired as ToRemove.
// Both slices are sorted. Collectives present in both sets are left untouched.
func Diff(existing, desired []string) Delta {
	existingSet := toSet(existing)
	desiredSet := toSet(desired)

	delta := Delta{}
	for groupID := range desiredSet {
		if _, ok := existingSet[groupID]; !ok {
			delta.ToAdd = append(delta.ToAdd, groupID)
		}
	}
	for groupID := range existingSet {
		if _, ok := desiredSet[groupID]; !ok {
			delta.ToRemove = append(delta.ToRemove, groupID)
		}
	}
	sort.Strings(delta.ToAdd)
	sort.Strings(delta.ToRemove)
	return delta
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[value] = struct{}{}
	}
	return set
}
