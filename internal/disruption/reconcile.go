package disruption

// Result of one reconciliation.
type Result struct {
	// New holds notices not known before, in the order they were observed.
	New []Notice
	// Resolved holds previously known notices that are no longer observed,
	// in the order they were first seen.
	Resolved []Notice
	// Unchanged holds notices observed again, as they are stored.
	Unchanged []Notice
}

// Changed reports whether the known state differs after reconciliation.
func (r Result) Changed() bool { return len(r.New) > 0 || len(r.Resolved) > 0 }

// Reconcile diffs the currently observed notices against known and replaces
// known's contents with the next state in a single assignment at the end.
//
// The next state keeps surviving notices in their original order (with their
// first-observed record) followed by new notices in observation order. A
// notice appearing twice in current is reported once.
func Reconcile(current []Notice, known *KnownState) Result {
	var res Result

	seen := make(map[string]struct{}, len(current))
	next := NewKnownState()

	var fresh []Notice
	for _, n := range current {
		id := n.EnsureID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if stored, ok := known.Get(id); ok {
			res.Unchanged = append(res.Unchanged, stored)
			continue
		}
		fresh = append(fresh, n)
	}

	for _, old := range known.Notices() {
		if _, still := seen[old.ID]; still {
			next.Put(old)
			continue
		}
		res.Resolved = append(res.Resolved, old)
	}
	for _, n := range fresh {
		next.Put(n)
	}
	res.New = fresh

	if known != nil {
		*known = *next
	}
	return res
}
