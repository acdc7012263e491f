package depgraph

import (
	"testing"

	"kanbus/internal/kerrors"
	"kanbus/internal/kissue"
)

type mapLookup map[string]*kissue.Issue

func (m mapLookup) Get(id string) (*kissue.Issue, bool) {
	issue, ok := m[id]
	return issue, ok
}

func TestWouldCycleSelfReference(t *testing.T) {
	if !WouldCycle(mapLookup{}, "kbs-1", "kbs-1") {
		t.Fatalf("expected self-reference to be a cycle")
	}
}

func TestWouldCycleTransitive(t *testing.T) {
	a := &kissue.Issue{ID: "a"}
	b := &kissue.Issue{ID: "b", Dependencies: []kissue.Dependency{{ID: "a", Type: kissue.DependencyBlockedBy}}}
	c := &kissue.Issue{ID: "c", Dependencies: []kissue.Dependency{{ID: "b", Type: kissue.DependencyBlockedBy}}}
	lookup := mapLookup{"a": a, "b": b, "c": c}

	// a blocked-by c would close a cycle a -> c -> b -> a
	if !WouldCycle(lookup, "a", "c") {
		t.Fatalf("expected transitive cycle to be detected")
	}
	// a blocked-by some unrelated node is fine
	d := &kissue.Issue{ID: "d"}
	lookup["d"] = d
	if WouldCycle(lookup, "a", "d") {
		t.Fatalf("did not expect a cycle for an unrelated dependency")
	}
}

func TestAddSameEdgeTwiceIsIdempotent(t *testing.T) {
	issue := &kissue.Issue{ID: "a", Dependencies: []kissue.Dependency{{ID: "b", Type: kissue.DependencyRelatesTo}}}
	if err := Add(mapLookup{}, issue, "b", kissue.DependencyRelatesTo); err != nil {
		t.Fatalf("expected re-adding the same edge to be a no-op, got %v", err)
	}
	if len(issue.Dependencies) != 1 {
		t.Fatalf("expected no duplicate dependency entry, got %v", issue.Dependencies)
	}
}

func TestAddRejectsConflictingKind(t *testing.T) {
	issue := &kissue.Issue{ID: "a", Dependencies: []kissue.Dependency{{ID: "b", Type: kissue.DependencyRelatesTo}}}
	err := Add(mapLookup{}, issue, "b", kissue.DependencyBlockedBy)
	if !kerrors.Is(err, kerrors.AlreadyExists) {
		t.Fatalf("expected AlreadyExists for a conflicting-kind link, got %v", err)
	}
}

func TestAddRejectsCycle(t *testing.T) {
	a := &kissue.Issue{ID: "a", Dependencies: []kissue.Dependency{{ID: "b", Type: kissue.DependencyBlockedBy}}}
	b := &kissue.Issue{ID: "b"}
	lookup := mapLookup{"a": a, "b": b}

	err := Add(lookup, b, "a", kissue.DependencyBlockedBy)
	if !kerrors.Is(err, kerrors.CycleDetected) {
		t.Fatalf("expected CycleDetected, got %v", err)
	}
}

func TestAddSucceeds(t *testing.T) {
	a := &kissue.Issue{ID: "a"}
	if err := Add(mapLookup{}, a, "b", kissue.DependencyBlockedBy); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Dependencies) != 1 {
		t.Fatalf("expected dependency to be added")
	}
}

func TestRemove(t *testing.T) {
	issue := &kissue.Issue{ID: "a", Dependencies: []kissue.Dependency{{ID: "b", Type: kissue.DependencyBlockedBy}}}
	Remove(issue, "b")
	if len(issue.Dependencies) != 0 {
		t.Fatalf("expected dependency removed")
	}
	// removing an absent link is a no-op, not an error
	Remove(issue, "b")
	if len(issue.Dependencies) != 0 {
		t.Fatalf("expected removing an absent link to remain a no-op")
	}
}

func TestListReady(t *testing.T) {
	// a is closed, so it is excluded regardless of its own edges.
	a := &kissue.Issue{ID: "a", Status: "closed"}
	// b is blocked-by a, which is closed - but per spec.md's glossary
	// and §8, any blocked-by edge disqualifies an issue no matter the
	// target's status, so b is NOT ready.
	b := &kissue.Issue{ID: "b", Status: "open", Dependencies: []kissue.Dependency{{ID: "a", Type: kissue.DependencyBlockedBy}}}
	// c has no blocked-by edges at all, so it is ready.
	c := &kissue.Issue{ID: "c", Status: "open"}
	// d relates-to c, which carries no readiness semantics, so d is
	// still ready.
	d := &kissue.Issue{ID: "d", Status: "open", Dependencies: []kissue.Dependency{{ID: "c", Type: kissue.DependencyRelatesTo}}}
	issues := []*kissue.Issue{a, b, c, d}

	ready := ListReady(issues)
	if len(ready) != 2 || ready[0].ID != "c" || ready[1].ID != "d" {
		t.Fatalf("expected c and d to be ready, got %v", idsOf(ready))
	}
}

func idsOf(issues []*kissue.Issue) []string {
	ids := make([]string, len(issues))
	for i, issue := range issues {
		ids[i] = issue.ID
	}
	return ids
}
