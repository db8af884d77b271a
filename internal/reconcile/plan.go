package reconcile

import "sort"

// Plan is the per-account action plan derived from the expected and
// observed stack sets. The three sets are disjoint and together cover the
// union of both inputs.
type Plan struct {
	// ToCreate holds expected stacks not present in the account.
	ToCreate []string
	// ToUpdate holds expected stacks already present in the account.
	ToUpdate []string
	// ToDelete holds orphans: managed stacks no longer declared.
	ToDelete []string
}

// BuildPlan computes the action plan from the expected set and the observed
// managed-stack snapshot. Pure set arithmetic, no I/O. Each returned slice
// is sorted lexicographically so identical inputs always produce an
// identical plan regardless of map iteration order.
func BuildPlan(expected map[string]struct{}, observed map[string]string) Plan {
	var plan Plan

	for name := range expected {
		if _, ok := observed[name]; ok {
			plan.ToUpdate = append(plan.ToUpdate, name)
		} else {
			plan.ToCreate = append(plan.ToCreate, name)
		}
	}
	for name := range observed {
		if _, ok := expected[name]; !ok {
			plan.ToDelete = append(plan.ToDelete, name)
		}
	}

	sort.Strings(plan.ToCreate)
	sort.Strings(plan.ToUpdate)
	sort.Strings(plan.ToDelete)
	return plan
}
