package kindex

import (
	"testing"
	"time"

	"kanbus/internal/fsio"
	"kanbus/internal/kissue"
)

func writeSample(t *testing.T, dir, id, status, typ, parent string, deps []kissue.Dependency, labels []string) {
	t.Helper()
	issue := &kissue.Issue{
		ID:           id,
		Title:        id,
		Type:         typ,
		Status:       status,
		Parent:       parent,
		Labels:       labels,
		Dependencies: deps,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := fsio.WriteIssue(dir, issue); err != nil {
		t.Fatalf("write %s: %v", id, err)
	}
}

func TestBuildIndex(t *testing.T) {
	dir := t.TempDir()
	writeSample(t, dir, "kbs-1", "open", "task", "", nil, []string{"urgent"})
	writeSample(t, dir, "kbs-2", "open", "bug", "kbs-1", []kissue.Dependency{{ID: "kbs-1", Type: kissue.DependencyBlockedBy}}, nil)
	writeSample(t, dir, "kbs-3", "closed", "task", "", nil, []string{"urgent"})

	idx, err := Build(dir)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if len(idx.ByID) != 3 {
		t.Fatalf("expected 3 issues, got %d", len(idx.ByID))
	}
	if len(idx.ByStatus["open"]) != 2 {
		t.Errorf("expected 2 open issues, got %d", len(idx.ByStatus["open"]))
	}
	if len(idx.ByType["task"]) != 2 {
		t.Errorf("expected 2 task issues, got %d", len(idx.ByType["task"]))
	}
	if len(idx.ByParent["kbs-1"]) != 1 {
		t.Errorf("expected 1 child of kbs-1, got %d", len(idx.ByParent["kbs-1"]))
	}
	if len(idx.ByLabel["urgent"]) != 2 {
		t.Errorf("expected 2 urgent-labeled issues, got %d", len(idx.ByLabel["urgent"]))
	}
	if got := idx.ReverseDep["kbs-1"]; len(got) != 1 || got[0] != "kbs-2" {
		t.Errorf("expected kbs-2 to reverse-depend on kbs-1, got %v", got)
	}

	all := idx.All()
	if len(all) != 3 || all[0].ID != "kbs-1" || all[2].ID != "kbs-3" {
		t.Errorf("expected file-name-ascending order, got %v", idsOf(all))
	}
}

func idsOf(issues []*kissue.Issue) []string {
	ids := make([]string, len(issues))
	for i, iss := range issues {
		ids[i] = iss.ID
	}
	return ids
}

func TestBuildEmptyDir(t *testing.T) {
	dir := t.TempDir()
	idx, err := Build(dir)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(idx.All()) != 0 {
		t.Fatalf("expected empty index")
	}
}
