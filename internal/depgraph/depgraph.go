// Package depgraph manages blocked-by/relates-to dependency links: add
// and remove, cycle detection, and ready-set computation. Cycle
// detection is a BFS over blocked-by edges grounded directly on
// dcosson-beads-lite's IssueStore.hasCycle in
// internal/issueservice/issueservice.go. Ready-set computation is
// grounded on the original taskulus/dependencies.py's
// _blocked_by_dependency, not on the teacher's FindReadySteps in
// internal/graph/graph.go: that function answers a different
// question (is every blocking step itself done yet), while ready here
// means "not closed, and blocked by nothing at all" — any outgoing
// blocked-by edge disqualifies, whether or not its target is closed.
package depgraph

import (
	"kanbus/internal/kerrors"
	"kanbus/internal/kindex"
	"kanbus/internal/kissue"
)

// Lookup resolves an issue by id, as kindex.Index does.
type Lookup interface {
	Get(id string) (*kissue.Issue, bool)
}

// indexLookup adapts a *kindex.Index to Lookup.
type indexLookup struct{ idx *kindex.Index }

func (l indexLookup) Get(id string) (*kissue.Issue, bool) {
	issue, ok := l.idx.ByID[id]
	return issue, ok
}

// FromIndex wraps idx as a Lookup.
func FromIndex(idx *kindex.Index) Lookup { return indexLookup{idx} }

// WouldCycle reports whether adding a blocked-by edge from issueID to
// dependsOnID would create a cycle in the blocked-by graph: true if
// dependsOnID can already (transitively) reach issueID, or if they are
// the same issue.
func WouldCycle(lookup Lookup, issueID, dependsOnID string) bool {
	if issueID == dependsOnID {
		return true
	}

	visited := map[string]bool{}
	queue := []string{dependsOnID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if visited[current] {
			continue
		}
		visited[current] = true

		issue, ok := lookup.Get(current)
		if !ok {
			continue
		}
		for _, dep := range issue.Dependencies {
			if dep.Type != kissue.DependencyBlockedBy {
				continue
			}
			if dep.ID == issueID {
				return true
			}
			if !visited[dep.ID] {
				queue = append(queue, dep.ID)
			}
		}
	}
	return false
}

// Add appends a dependency link to issue. Adding the exact same
// (targetID, kind) edge twice is idempotent and returns nil, per the
// no-op-on-duplicate rule; linking targetID again under a different
// kind raises AlreadyExists, and a would-be cycle (blocked-by links
// only) raises CycleDetected.
func Add(lookup Lookup, issue *kissue.Issue, targetID string, kind kissue.DependencyKind) error {
	if !kissue.ValidDependencyKinds[kind] {
		return kerrors.New(kerrors.InvalidDependencyType, "unknown dependency kind %q", kind)
	}
	if existing, ok := issue.DependencyOf(targetID); ok {
		if existing.Type == kind {
			return nil
		}
		return kerrors.New(kerrors.AlreadyExists, "%s already has a %s dependency on %s", issue.ID, existing.Type, targetID)
	}
	if kind == kissue.DependencyBlockedBy && WouldCycle(lookup, issue.ID, targetID) {
		return kerrors.New(kerrors.CycleDetected, "adding %s as a blocked-by dependency of %s would create a cycle", targetID, issue.ID)
	}
	issue.Dependencies = append(issue.Dependencies, kissue.Dependency{ID: targetID, Type: kind})
	return nil
}

// Remove filters the dependency link on targetID out of issue. A
// target with no such link is a no-op, per the remove-is-idempotent
// rule.
func Remove(issue *kissue.Issue, targetID string) {
	for i, dep := range issue.Dependencies {
		if dep.ID == targetID {
			issue.Dependencies = append(issue.Dependencies[:i], issue.Dependencies[i+1:]...)
			return
		}
	}
}

// ListReady returns every issue in issues that is not closed and has
// no blocked-by edge at all: per spec.md's glossary and §8, any
// outgoing blocked-by link disqualifies an issue regardless of the
// target's own status (matching _blocked_by_dependency in the
// original taskulus/dependencies.py, which checks only for the
// presence of a blocked-by edge, never the target's status).
func ListReady(issues []*kissue.Issue) []*kissue.Issue {
	var ready []*kissue.Issue
	for _, issue := range issues {
		if issue.Status == "closed" {
			continue
		}
		if len(issue.BlockedByIDs()) > 0 {
			continue
		}
		ready = append(ready, issue)
	}
	return ready
}
