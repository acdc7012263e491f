package issueops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"kanbus/internal/depgraph"
	"kanbus/internal/fsio"
	"kanbus/internal/kconfig"
	"kanbus/internal/kerrors"
	"kanbus/internal/kindex"
	"kanbus/internal/kissue"
)

func lookupFor(t *testing.T, scope Scope) depgraph.Lookup {
	t.Helper()
	idx, err := kindex.Build(scope.IssuesDir)
	if err != nil {
		t.Fatalf("build index: %v", err)
	}
	return depgraph.FromIndex(idx)
}

func testScope(t *testing.T) Scope {
	t.Helper()
	root := t.TempDir()
	issuesDir := filepath.Join(root, "project", "issues")
	if err := fsio.EnsureDir(issuesDir); err != nil {
		t.Fatalf("ensure dir: %v", err)
	}
	return Scope{IssuesDir: issuesDir, EventsDir: filepath.Join(root, "project")}
}

func TestCreateWritesIssueAndEvent(t *testing.T) {
	cfg := kconfig.Default()
	scope := testScope(t)
	now := time.Now().UTC()

	issue, err := Create(cfg, scope, "kbs-1", CreateInput{Title: "First issue", Type: "task", Creator: "alice"}, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if issue.Status != cfg.InitialStatus {
		t.Errorf("expected initial status %q, got %q", cfg.InitialStatus, issue.Status)
	}

	events, _ := os.ReadDir(filepath.Join(scope.EventsDir, "events"))
	if len(events) != 1 {
		t.Fatalf("expected 1 event file, got %d", len(events))
	}
}

func TestCreateRejectsDuplicateTitle(t *testing.T) {
	cfg := kconfig.Default()
	scope := testScope(t)
	now := time.Now().UTC()

	if _, err := Create(cfg, scope, "kbs-1", CreateInput{Title: "Same", Type: "task"}, now); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := Create(cfg, scope, "kbs-2", CreateInput{Title: "same", Type: "task"}, now)
	if !kerrors.Is(err, kerrors.DuplicateTitle) {
		t.Fatalf("expected DuplicateTitle, got %v", err)
	}
}

func TestCreateRejectsUnknownType(t *testing.T) {
	cfg := kconfig.Default()
	scope := testScope(t)
	_, err := Create(cfg, scope, "kbs-1", CreateInput{Title: "X", Type: "nonsense"}, time.Now().UTC())
	if !kerrors.Is(err, kerrors.UnknownIssueType) {
		t.Fatalf("expected UnknownIssueType, got %v", err)
	}
}

func TestUpdateNoopWhenNothingChanges(t *testing.T) {
	cfg := kconfig.Default()
	scope := testScope(t)
	// Issue files store timestamps at millisecond precision, and the
	// no-op path returns the issue as read back from disk.
	now := time.Now().UTC().Truncate(time.Millisecond)
	issue, err := Create(cfg, scope, "kbs-1", CreateInput{Title: "X", Type: "task"}, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	same := issue.Title
	updated, err := Update(cfg, scope, "kbs-1", UpdateInput{Title: &same, ActorID: "alice"}, now)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.UpdatedAt.Equal(issue.UpdatedAt) {
		t.Errorf("expected no-op update to leave updated_at untouched")
	}
}

func TestUpdateTransitionEmitsEvent(t *testing.T) {
	cfg := kconfig.Default()
	scope := testScope(t)
	now := time.Now().UTC()
	if _, err := Create(cfg, scope, "kbs-1", CreateInput{Title: "X", Type: "task"}, now); err != nil {
		t.Fatalf("create: %v", err)
	}

	status := "in_progress"
	if _, err := Update(cfg, scope, "kbs-1", UpdateInput{Status: &status, ActorID: "alice"}, now.Add(time.Second)); err != nil {
		t.Fatalf("update: %v", err)
	}

	events, _ := os.ReadDir(filepath.Join(scope.EventsDir, "events"))
	if len(events) != 2 { // create + transition
		t.Fatalf("expected 2 events, got %d", len(events))
	}
}

func TestUpdateRejectsInvalidTransition(t *testing.T) {
	cfg := kconfig.Default()
	scope := testScope(t)
	now := time.Now().UTC()
	if _, err := Create(cfg, scope, "kbs-1", CreateInput{Title: "X", Type: "task"}, now); err != nil {
		t.Fatalf("create: %v", err)
	}
	bogus := "nonexistent_status"
	_, err := Update(cfg, scope, "kbs-1", UpdateInput{Status: &bogus, ActorID: "alice"}, now)
	if !kerrors.Is(err, kerrors.InvalidTransition) {
		t.Fatalf("expected InvalidTransition, got %v", err)
	}
}

func TestCloseSetsClosedAt(t *testing.T) {
	cfg := kconfig.Default()
	scope := testScope(t)
	now := time.Now().UTC()
	if _, err := Create(cfg, scope, "kbs-1", CreateInput{Title: "X", Type: "task"}, now); err != nil {
		t.Fatalf("create: %v", err)
	}
	issue, err := Close(cfg, scope, "kbs-1", "alice", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if issue.ClosedAt == nil {
		t.Fatalf("expected closed_at to be set")
	}
}

func TestCommentLifecycle(t *testing.T) {
	cfg := kconfig.Default()
	scope := testScope(t)
	now := time.Now().UTC()
	if _, err := Create(cfg, scope, "kbs-1", CreateInput{Title: "X", Type: "task"}, now); err != nil {
		t.Fatalf("create: %v", err)
	}

	issue, err := Comment(scope, "kbs-1", "alice", "hello", now)
	if err != nil {
		t.Fatalf("comment: %v", err)
	}
	if len(issue.Comments) != 1 {
		t.Fatalf("expected 1 comment")
	}
	prefix := issue.Comments[0].ID[:4]

	updated, err := UpdateComment(scope, "kbs-1", prefix, "updated text", "alice", now)
	if err != nil {
		t.Fatalf("update comment: %v", err)
	}
	if updated.Comments[0].Text != "updated text" {
		t.Fatalf("expected comment text to be updated")
	}

	deleted, err := DeleteComment(scope, "kbs-1", prefix, "alice", now)
	if err != nil {
		t.Fatalf("delete comment: %v", err)
	}
	if len(deleted.Comments) != 0 {
		t.Fatalf("expected comment to be removed")
	}
}

func TestDeleteMissingFileReturnsNotFound(t *testing.T) {
	scope := testScope(t)
	err := Delete(scope, "kbs-missing", "alice", time.Now().UTC())
	if !kerrors.Is(err, kerrors.NotFound) {
		t.Fatalf("expected NotFound for missing file, got %v", err)
	}
}

func TestPromoteMovesIssueBetweenScopes(t *testing.T) {
	cfg := kconfig.Default()
	local := testScope(t)
	sharedRoot := filepath.Dir(filepath.Dir(local.IssuesDir))
	shared := Scope{IssuesDir: filepath.Join(sharedRoot, "project-shared", "issues"), EventsDir: filepath.Join(sharedRoot, "project-shared")}
	fsio.EnsureDir(shared.IssuesDir)

	now := time.Now().UTC()
	if _, err := Create(cfg, local, "kbs-1", CreateInput{Title: "X", Type: "task"}, now); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := Promote(local, shared, "kbs-1", "alice", now); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if _, err := fsio.ReadIssue(joinIssuePath(shared.IssuesDir, "kbs-1")); err != nil {
		t.Fatalf("expected issue to exist in shared scope: %v", err)
	}
	if _, err := os.Stat(joinIssuePath(local.IssuesDir, "kbs-1")); !os.IsNotExist(err) {
		t.Fatalf("expected issue to no longer exist in local scope")
	}
}

func TestAddDependencyEmitsEventAndIsIdempotent(t *testing.T) {
	cfg := kconfig.Default()
	scope := testScope(t)
	now := time.Now().UTC()

	if _, err := Create(cfg, scope, "kbs-1", CreateInput{Title: "A", Type: "task"}, now); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := Create(cfg, scope, "kbs-2", CreateInput{Title: "B", Type: "task"}, now); err != nil {
		t.Fatalf("create b: %v", err)
	}

	issue, err := AddDependency(scope, lookupFor(t, scope), "kbs-1", "kbs-2", kissue.DependencyBlockedBy, "alice", now)
	if err != nil {
		t.Fatalf("add dependency: %v", err)
	}
	if !issue.HasDependency("kbs-2") {
		t.Fatalf("expected kbs-1 to depend on kbs-2")
	}

	events, _ := os.ReadDir(filepath.Join(scope.EventsDir, "events"))
	if len(events) != 3 { // 2 creates + 1 dependency_added
		t.Fatalf("expected 3 event files, got %d", len(events))
	}

	// re-adding the exact same edge is a no-op: no new event file
	if _, err := AddDependency(scope, lookupFor(t, scope), "kbs-1", "kbs-2", kissue.DependencyBlockedBy, "alice", now); err != nil {
		t.Fatalf("re-add dependency: %v", err)
	}
	events, _ = os.ReadDir(filepath.Join(scope.EventsDir, "events"))
	if len(events) != 3 {
		t.Fatalf("expected re-adding the same edge to emit no event, got %d files", len(events))
	}
}

func TestAddDependencyRejectsCycle(t *testing.T) {
	cfg := kconfig.Default()
	scope := testScope(t)
	now := time.Now().UTC()

	for _, id := range []string{"kbs-a", "kbs-b", "kbs-c"} {
		if _, err := Create(cfg, scope, id, CreateInput{Title: id, Type: "task"}, now); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	// a blocked-by b
	if _, err := AddDependency(scope, lookupFor(t, scope), "kbs-a", "kbs-b", kissue.DependencyBlockedBy, "alice", now); err != nil {
		t.Fatalf("add a->b: %v", err)
	}
	// b blocked-by c
	if _, err := AddDependency(scope, lookupFor(t, scope), "kbs-b", "kbs-c", kissue.DependencyBlockedBy, "alice", now); err != nil {
		t.Fatalf("add b->c: %v", err)
	}
	// c blocked-by a would close the cycle
	_, err := AddDependency(scope, lookupFor(t, scope), "kbs-c", "kbs-a", kissue.DependencyBlockedBy, "alice", now)
	if !kerrors.Is(err, kerrors.CycleDetected) {
		t.Fatalf("expected CycleDetected, got %v", err)
	}
}

func TestRemoveDependencyIsIdempotent(t *testing.T) {
	cfg := kconfig.Default()
	scope := testScope(t)
	now := time.Now().UTC()

	if _, err := Create(cfg, scope, "kbs-1", CreateInput{Title: "A", Type: "task"}, now); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := Create(cfg, scope, "kbs-2", CreateInput{Title: "B", Type: "task"}, now); err != nil {
		t.Fatalf("create b: %v", err)
	}
	if _, err := AddDependency(scope, lookupFor(t, scope), "kbs-1", "kbs-2", kissue.DependencyRelatesTo, "alice", now); err != nil {
		t.Fatalf("add dependency: %v", err)
	}

	issue, err := RemoveDependency(scope, "kbs-1", "kbs-2", "alice", now)
	if err != nil {
		t.Fatalf("remove dependency: %v", err)
	}
	if issue.HasDependency("kbs-2") {
		t.Fatalf("expected dependency removed")
	}

	// removing again is a no-op, not an error
	if _, err := RemoveDependency(scope, "kbs-1", "kbs-2", "alice", now); err != nil {
		t.Fatalf("expected no-op removal to succeed, got %v", err)
	}
}
