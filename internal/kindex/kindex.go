// Package kindex builds an in-memory multi-index over a directory of
// issue files: by id, by status, by type, by parent, by label, and a
// reverse-dependency map keyed by blocked-by target. New component —
// no direct teacher equivalent (dcosson-beads-lite's List scans the
// directory on every call) — but the file-scan and
// deterministic-file-name-ascending-order conventions are grounded on
// the teacher's filesystem.listDir.
package kindex

import (
	"path/filepath"
	"sort"

	"kanbus/internal/fsio"
	"kanbus/internal/kissue"
)

// Index is the built multi-index for one issues directory.
type Index struct {
	ByID       map[string]*kissue.Issue
	ByStatus   map[string][]*kissue.Issue
	ByType     map[string][]*kissue.Issue
	ByParent   map[string][]*kissue.Issue
	ByLabel    map[string][]*kissue.Issue
	ReverseDep map[string][]string // target id -> ids of issues blocked-by target

	// Order is every issue id in file-name-ascending order, for
	// deterministic iteration when a caller wants "all issues" rather
	// than a bucket.
	Order []string
}

// Build scans issuesDir and constructs the five-map index plus the
// reverse-dependency map.
func Build(issuesDir string) (*Index, error) {
	ids, err := fsio.ListIdentifiers(issuesDir)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	idx := &Index{
		ByID:       map[string]*kissue.Issue{},
		ByStatus:   map[string][]*kissue.Issue{},
		ByType:     map[string][]*kissue.Issue{},
		ByParent:   map[string][]*kissue.Issue{},
		ByLabel:    map[string][]*kissue.Issue{},
		ReverseDep: map[string][]string{},
		Order:      ids,
	}

	for _, id := range ids {
		issue, err := fsio.ReadIssue(filepath.Join(issuesDir, id+".json"))
		if err != nil {
			return nil, err
		}
		idx.ByID[id] = issue
		idx.ByStatus[issue.Status] = append(idx.ByStatus[issue.Status], issue)
		idx.ByType[issue.Type] = append(idx.ByType[issue.Type], issue)
		idx.ByParent[issue.Parent] = append(idx.ByParent[issue.Parent], issue)
		for _, label := range issue.Labels {
			idx.ByLabel[label] = append(idx.ByLabel[label], issue)
		}
		for _, dep := range issue.Dependencies {
			if dep.Type == kissue.DependencyBlockedBy {
				idx.ReverseDep[dep.ID] = append(idx.ReverseDep[dep.ID], issue.ID)
			}
		}
	}

	return idx, nil
}

// All returns every issue in file-name-ascending order.
func (idx *Index) All() []*kissue.Issue {
	issues := make([]*kissue.Issue, 0, len(idx.Order))
	for _, id := range idx.Order {
		issues = append(issues, idx.ByID[id])
	}
	return issues
}
