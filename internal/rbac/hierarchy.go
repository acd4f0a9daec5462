package rbac

// BestRole returns the role with the numerically largest Hierarchy value in
// the set, or nil when the set is empty. Ties (which the density invariant
// should rule out) break toward the lowest ID so the result is deterministic.
//
// Note the asymmetry with OutranksOrEqual: the best role carries the largest
// number, while authority comparisons favor the smallest. Every escalation
// check depends on this exact pairing.
func BestRole(roles []Role) *Role {
	var best *Role
	for i := range roles {
		r := &roles[i]
		switch {
		case best == nil:
			best = r
		case r.Hierarchy > best.Hierarchy:
			best = r
		case r.Hierarchy == best.Hierarchy && r.ID < best.ID:
			best = r
		}
	}
	return best
}

// OutranksOrEqual reports whether the actor's best role carries
// higher-or-equal authority than the target role, i.e. its numeric rank is
// less than or equal to the target's. A nil actor role never outranks.
func OutranksOrEqual(actorBest *Role, target Role) bool {
	if actorBest == nil {
		return false
	}
	return actorBest.Hierarchy <= target.Hierarchy
}
