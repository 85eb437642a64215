package authz

import "sort"

// Diff is the minimal mutation set moving a user from their current
// permission set to a desired one.
type Diff struct {
	Grant  []string
	Revoke []string
}

// Empty reports whether the diff requires no mutations.
func (d Diff) Empty() bool {
	return len(d.Grant) == 0 && len(d.Revoke) == 0
}

// DiffPermissions computes Grant = desired \ current and Revoke = current \
// desired. Pure and deterministic: outputs are sorted and duplicates in the
// inputs collapse, since a permission set has no duplicate pairs. Applying
// the same desired set twice yields an empty diff the second time.
func DiffPermissions(current, desired []string) Diff {
	currentSet := toSet(current)
	desiredSet := toSet(desired)

	var diff Diff
	for id := range desiredSet {
		if _, ok := currentSet[id]; !ok {
			diff.Grant = append(diff.Grant, id)
		}
	}
	for id := range currentSet {
		if _, ok := desiredSet[id]; !ok {
			diff.Revoke = append(diff.Revoke, id)
		}
	}
	sort.Strings(diff.Grant)
	sort.Strings(diff.Revoke)
	return diff
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}
