package e2e

import (
	"path/filepath"
	"testing"
	"time"

	"kanbus/internal/fsio"
	"kanbus/internal/issueops"
	"kanbus/internal/kconfig"
	"kanbus/internal/query"
)

// TestQueryComposesDiscoveryThroughSort exercises list_issues's full
// composition (§4.O): a shared project directory plus a project-local
// one are aggregated, local issues are excluded by default, included
// under --include-local, isolated under --local-only, and every issue
// carries custom.project_path once more than one directory
// contributes.
func TestQueryComposesDiscoveryThroughSort(t *testing.T) {
	h := New(t.TempDir())
	if err := h.Init(false); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := h.Create(issueops.CreateInput{Title: "Shared issue", Type: "task", Creator: "alice"}); err != nil {
		t.Fatalf("create shared issue: %v", err)
	}

	localIssuesDir := filepath.Join(h.Root, "project-local", "issues")
	if err := fsio.EnsureDir(localIssuesDir); err != nil {
		t.Fatalf("ensure local issues dir: %v", err)
	}
	localScope := issueops.Scope{IssuesDir: localIssuesDir, EventsDir: filepath.Join(h.Root, "project-local")}
	if _, err := issueops.Create(kconfig.Default(), localScope, "kbs-local-1",
		issueops.CreateInput{Title: "Local issue", Type: "task", Creator: "alice", Local: true}, time.Now().UTC()); err != nil {
		t.Fatalf("create local issue: %v", err)
	}

	defaultListed, err := h.Query(query.ListOptions{})
	if err != nil {
		t.Fatalf("default query: %v", err)
	}
	if len(defaultListed) != 1 {
		t.Fatalf("expected project-local to be excluded by default, got %d issues", len(defaultListed))
	}

	withLocal, err := h.Query(query.ListOptions{IncludeLocal: true})
	if err != nil {
		t.Fatalf("include-local query: %v", err)
	}
	if len(withLocal) != 2 {
		t.Fatalf("expected 2 issues with include-local, got %d", len(withLocal))
	}
	for _, issue := range withLocal {
		if issue.Custom["project_path"] == nil {
			t.Errorf("expected issue %s to carry custom.project_path when aggregating multiple projects", issue.ID)
		}
	}

	localOnly, err := h.Query(query.ListOptions{LocalOnly: true})
	if err != nil {
		t.Fatalf("local-only query: %v", err)
	}
	if len(localOnly) != 1 || localOnly[0].ID != "kbs-local-1" {
		t.Fatalf("expected local-only to isolate the project-local issue, got %+v", localOnly)
	}
}
