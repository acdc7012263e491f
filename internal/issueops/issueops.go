// Package issueops composes discovery, configuration, the workflow and
// hierarchy validators, the dependency engine, and the event log into
// the user-facing issue mutations: create, update, comment, close,
// delete, promote, localize. Locking and lock-scoped read/modify/write
// is grounded on dcosson-beads-lite's FilesystemStorage.Modify
// (internal/issuestorage/filesystem/filesystem.go): lock the issue
// file, read current state, apply the change, write back, unlock. Each
// op additionally appends one or more events after the file write; if
// the event write fails the file is restored to its pre-mutation bytes
// (crash-safety modeled on the same Modify method, generalized from
// "no event log" to "event write can itself fail").
package issueops

import (
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"kanbus/internal/depgraph"
	"kanbus/internal/eventlog"
	"kanbus/internal/fsio"
	"kanbus/internal/hierarchy"
	"kanbus/internal/kconfig"
	"kanbus/internal/kerrors"
	"kanbus/internal/kissue"
	"kanbus/internal/workflow"
)

// Scope names the issues directory and its matching events directory
// for one create/update/etc call: either the shared "project/" scope
// or the "project-local/" scope.
type Scope struct {
	IssuesDir string // <root>/project[-local]/issues
	EventsDir string // <root>/project[-local]
}

// CreateInput carries the user-facing fields of a create call.
type CreateInput struct {
	Title       string
	Description string
	Type        string
	Priority    *int
	Assignee    string
	Creator     string
	Parent      string
	Labels      []string
	Local       bool
}

// titleExists reports whether any issue under dir already has the
// given title, compared case-folded, as required by the uniqueness
// rule.
func titleExists(dir, title string) (bool, error) {
	ids, err := fsio.ListIdentifiers(dir)
	if err != nil {
		return false, err
	}
	folded := strings.ToLower(strings.TrimSpace(title))
	for _, id := range ids {
		issue, err := fsio.ReadIssue(joinIssuePath(dir, id))
		if err != nil {
			continue
		}
		if strings.ToLower(strings.TrimSpace(issue.Title)) == folded {
			return true, nil
		}
	}
	return false, nil
}

func joinIssuePath(dir, id string) string {
	return dir + string(os.PathSeparator) + id + ".json"
}

// Create validates and writes a new issue, emitting issue_created.
func Create(cfg kconfig.Configuration, scope Scope, id string, in CreateInput, now time.Time) (*kissue.Issue, error) {
	exists, err := titleExists(scope.IssuesDir, in.Title)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, kerrors.New(kerrors.DuplicateTitle, "an issue titled %q already exists in this scope", in.Title)
	}

	issueType := in.Type
	if issueType == "" {
		issueType = cfg.Hierarchy[len(cfg.Hierarchy)-1]
	}
	if !cfg.IsHierarchyType(issueType) && !cfg.IsKnownType(issueType) {
		return nil, kerrors.New(kerrors.UnknownIssueType, "unknown issue type %q", issueType)
	}

	priority := cfg.DefaultPriority
	if in.Priority != nil {
		priority = *in.Priority
	}
	if _, ok := cfg.Priorities[priority]; !ok {
		return nil, kerrors.New(kerrors.InvalidPriority, "priority %d is not declared in configuration", priority)
	}

	if in.Parent != "" {
		parent, err := fsio.ReadIssue(joinIssuePath(scope.IssuesDir, in.Parent))
		if err != nil {
			return nil, kerrors.New(kerrors.NotFound, "parent issue %q not found", in.Parent)
		}
		if err := hierarchy.Validate(cfg, parent.Type, issueType); err != nil {
			return nil, err
		}
	}

	issue := &kissue.Issue{
		ID:          id,
		Title:       in.Title,
		Description: in.Description,
		Type:        issueType,
		Status:      cfg.InitialStatus,
		Priority:    priority,
		Assignee:    in.Assignee,
		Creator:     in.Creator,
		Parent:      in.Parent,
		Labels:      append([]string{}, in.Labels...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := fsio.WriteIssue(scope.IssuesDir, issue); err != nil {
		return nil, err
	}
	if _, err := eventlog.Append(scope.EventsDir, issue.ID, eventlog.IssueCreated, in.Creator, nil, now); err != nil {
		fsio.Remove(joinIssuePath(scope.IssuesDir, issue.ID))
		return nil, err
	}
	return issue, nil
}

// UpdateInput carries the optional per-field changes of an update
// call; nil/empty means "leave unchanged" except for the *Set fields,
// which are explicit label-set operations.
type UpdateInput struct {
	Title        *string
	Description  *string
	Status       *string
	Assignee     *string
	Priority     *int
	Parent       *string
	LabelsAdd    []string
	LabelsRemove []string
	LabelsSet    []string
	Claim        bool
	ActorID      string
}

// Update loads issue id, applies in's changes, validates workflow and
// hierarchy rules, writes the result, and emits state_transition
// and/or field_updated events for fields that actually changed.
func Update(cfg kconfig.Configuration, scope Scope, id string, in UpdateInput, now time.Time) (*kissue.Issue, error) {
	path := joinIssuePath(scope.IssuesDir, id)
	lock, err := fsio.Lock(path)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	issue, err := fsio.ReadIssue(path)
	if err != nil {
		return nil, err
	}
	before := *issue
	beforeLabels := append([]string{}, issue.Labels...)

	if in.Claim {
		status := "in_progress"
		in.Status = &status
		if in.Assignee == nil {
			in.Assignee = &in.ActorID
		}
	}

	changedFields := map[string]bool{}

	if in.Title != nil && *in.Title != issue.Title {
		issue.Title = *in.Title
		changedFields["title"] = true
	}
	if in.Description != nil && *in.Description != issue.Description {
		issue.Description = *in.Description
		changedFields["description"] = true
	}
	if in.Assignee != nil && *in.Assignee != issue.Assignee {
		issue.Assignee = *in.Assignee
		changedFields["assignee"] = true
	}
	if in.Priority != nil && *in.Priority != issue.Priority {
		if _, ok := cfg.Priorities[*in.Priority]; !ok {
			return nil, kerrors.New(kerrors.InvalidPriority, "priority %d is not declared in configuration", *in.Priority)
		}
		issue.Priority = *in.Priority
		changedFields["priority"] = true
	}
	if in.Parent != nil && *in.Parent != issue.Parent {
		if *in.Parent != "" {
			parent, err := fsio.ReadIssue(joinIssuePath(scope.IssuesDir, *in.Parent))
			if err != nil {
				return nil, kerrors.New(kerrors.NotFound, "parent issue %q not found", *in.Parent)
			}
			if err := hierarchy.Validate(cfg, parent.Type, issue.Type); err != nil {
				return nil, err
			}
		}
		issue.Parent = *in.Parent
		changedFields["parent"] = true
	}

	issue.Labels = applyLabelOps(issue.Labels, in.LabelsAdd, in.LabelsRemove, in.LabelsSet)
	if !stringSlicesEqual(beforeLabels, issue.Labels) {
		changedFields["labels"] = true
	}

	var transitioned bool
	if in.Status != nil && *in.Status != issue.Status {
		if err := workflow.ValidateTransition(cfg, issue.Type, issue.Status, *in.Status); err != nil {
			return nil, err
		}
		workflow.ApplySideEffects(issue, *in.Status, now)
		transitioned = true
	}

	if len(changedFields) == 0 && !transitioned {
		return issue, nil // no-op: nothing remains after de-duplication
	}

	issue.UpdatedAt = now
	if err := fsio.WriteIssue(scope.IssuesDir, issue); err != nil {
		return nil, err
	}

	var events []eventlog.Event
	if transitioned {
		events = append(events, eventlog.Event{
			IssueID:   issue.ID,
			EventType: eventlog.StateTransition,
			ActorID:   in.ActorID,
			Payload:   map[string]string{"from": before.Status, "to": issue.Status},
		})
	}
	if len(changedFields) > 0 {
		events = append(events, eventlog.Event{
			IssueID:   issue.ID,
			EventType: eventlog.FieldUpdated,
			ActorID:   in.ActorID,
			Payload:   diffFields(changedFields, &before, issue),
		})
	}
	if _, err := eventlog.WriteBatch(scope.EventsDir, events, now); err != nil {
		fsio.WriteIssueAt(path, &before)
		return nil, err
	}
	return issue, nil
}

func diffFields(changed map[string]bool, before, after *kissue.Issue) map[string]map[string]any {
	out := map[string]map[string]any{}
	field := func(name string, b, a any) {
		if changed[name] {
			out[name] = map[string]any{"before": b, "after": a}
		}
	}
	field("title", before.Title, after.Title)
	field("description", before.Description, after.Description)
	field("assignee", before.Assignee, after.Assignee)
	field("priority", before.Priority, after.Priority)
	field("parent", before.Parent, after.Parent)
	field("labels", before.Labels, after.Labels)
	return out
}

func applyLabelOps(current, add, remove, set []string) []string {
	if set != nil {
		return append([]string{}, set...)
	}
	result := append([]string{}, current...)
	for _, label := range add {
		if !containsStr(result, label) {
			result = append(result, label)
		}
	}
	if len(remove) > 0 {
		filtered := result[:0]
		removeSet := map[string]bool{}
		for _, r := range remove {
			removeSet[r] = true
		}
		for _, label := range result {
			if !removeSet[label] {
				filtered = append(filtered, label)
			}
		}
		result = filtered
	}
	return result
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Close is an Update whose only change is status = "closed".
func Close(cfg kconfig.Configuration, scope Scope, id, actorID string, now time.Time) (*kissue.Issue, error) {
	closed := "closed"
	return Update(cfg, scope, id, UpdateInput{Status: &closed, ActorID: actorID}, now)
}

// Comment appends a comment to issue id, lazily assigning ids to any
// legacy (id-less) comments first, and emits comment_added.
func Comment(scope Scope, id, author, text string, now time.Time) (*kissue.Issue, error) {
	path := joinIssuePath(scope.IssuesDir, id)
	lock, err := fsio.Lock(path)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	issue, err := fsio.ReadIssue(path)
	if err != nil {
		return nil, err
	}
	before := *issue

	for i := range issue.Comments {
		if issue.Comments[i].ID == "" {
			issue.Comments[i].ID = uuid.NewString()
		}
	}

	comment := kissue.Comment{
		ID:        uuid.NewString(),
		Author:    author,
		Text:      text,
		CreatedAt: now,
	}
	issue.Comments = append(issue.Comments, comment)
	issue.UpdatedAt = now

	if err := fsio.WriteIssue(scope.IssuesDir, issue); err != nil {
		return nil, err
	}
	if _, err := eventlog.Append(scope.EventsDir, issue.ID, eventlog.CommentAdded, author, map[string]string{"comment_id": comment.ID}, now); err != nil {
		fsio.WriteIssueAt(path, &before)
		return nil, err
	}
	return issue, nil
}

// AddDependency links id to targetID as kind, consulting lookup for
// cycle detection on blocked-by edges, and emits dependency_added.
// Re-adding the exact same edge is idempotent and emits no event.
func AddDependency(scope Scope, lookup depgraph.Lookup, id, targetID string, kind kissue.DependencyKind, actorID string, now time.Time) (*kissue.Issue, error) {
	path := joinIssuePath(scope.IssuesDir, id)
	lock, err := fsio.Lock(path)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	issue, err := fsio.ReadIssue(path)
	if err != nil {
		return nil, err
	}
	before := *issue
	beforeCount := len(issue.Dependencies)

	if err := depgraph.Add(lookup, issue, targetID, kind); err != nil {
		return nil, err
	}
	if len(issue.Dependencies) == beforeCount {
		return issue, nil
	}
	issue.UpdatedAt = now

	if err := fsio.WriteIssue(scope.IssuesDir, issue); err != nil {
		return nil, err
	}
	payload := map[string]string{"target_id": targetID, "kind": string(kind)}
	if _, err := eventlog.Append(scope.EventsDir, issue.ID, eventlog.DependencyAdded, actorID, payload, now); err != nil {
		fsio.WriteIssueAt(path, &before)
		return nil, err
	}
	return issue, nil
}

// RemoveDependency unlinks targetID from id and emits
// dependency_removed. Removing an absent link is a no-op, per the
// remove-is-idempotent rule, and emits no event.
func RemoveDependency(scope Scope, id, targetID, actorID string, now time.Time) (*kissue.Issue, error) {
	path := joinIssuePath(scope.IssuesDir, id)
	lock, err := fsio.Lock(path)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	issue, err := fsio.ReadIssue(path)
	if err != nil {
		return nil, err
	}
	before := *issue
	beforeCount := len(issue.Dependencies)

	depgraph.Remove(issue, targetID)
	if len(issue.Dependencies) == beforeCount {
		return issue, nil
	}
	issue.UpdatedAt = now

	if err := fsio.WriteIssue(scope.IssuesDir, issue); err != nil {
		return nil, err
	}
	payload := map[string]string{"target_id": targetID}
	if _, err := eventlog.Append(scope.EventsDir, issue.ID, eventlog.DependencyRemoved, actorID, payload, now); err != nil {
		fsio.WriteIssueAt(path, &before)
		return nil, err
	}
	return issue, nil
}

// resolveCommentPrefix finds the unique comment whose id starts with
// prefix (at least 3 characters), raising CommentNotFound or
// AmbiguousCommentPrefix otherwise.
func resolveCommentPrefix(issue *kissue.Issue, prefix string) (int, error) {
	if len(prefix) < 3 {
		return -1, kerrors.New(kerrors.CommentNotFound, "comment prefix %q is too short (minimum 3 characters)", prefix)
	}
	match := -1
	for i, c := range issue.Comments {
		if strings.HasPrefix(c.ID, prefix) {
			if match != -1 {
				return -1, kerrors.New(kerrors.AmbiguousCommentPrefix, "comment prefix %q matches more than one comment", prefix)
			}
			match = i
		}
	}
	if match == -1 {
		return -1, kerrors.New(kerrors.CommentNotFound, "no comment matches prefix %q", prefix)
	}
	return match, nil
}

// UpdateComment replaces the text of the comment matching prefix.
func UpdateComment(scope Scope, id, prefix, text, actorID string, now time.Time) (*kissue.Issue, error) {
	path := joinIssuePath(scope.IssuesDir, id)
	lock, err := fsio.Lock(path)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	issue, err := fsio.ReadIssue(path)
	if err != nil {
		return nil, err
	}
	before := *issue

	idx, err := resolveCommentPrefix(issue, prefix)
	if err != nil {
		return nil, err
	}
	issue.Comments[idx].Text = text
	issue.UpdatedAt = now

	if err := fsio.WriteIssue(scope.IssuesDir, issue); err != nil {
		return nil, err
	}
	if _, err := eventlog.Append(scope.EventsDir, issue.ID, eventlog.CommentUpdated, actorID, map[string]string{"comment_id": issue.Comments[idx].ID}, now); err != nil {
		fsio.WriteIssueAt(path, &before)
		return nil, err
	}
	return issue, nil
}

// DeleteComment removes the comment matching prefix.
func DeleteComment(scope Scope, id, prefix, actorID string, now time.Time) (*kissue.Issue, error) {
	path := joinIssuePath(scope.IssuesDir, id)
	lock, err := fsio.Lock(path)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	issue, err := fsio.ReadIssue(path)
	if err != nil {
		return nil, err
	}
	before := *issue

	idx, err := resolveCommentPrefix(issue, prefix)
	if err != nil {
		return nil, err
	}
	removedID := issue.Comments[idx].ID
	issue.Comments = append(issue.Comments[:idx], issue.Comments[idx+1:]...)
	issue.UpdatedAt = now

	if err := fsio.WriteIssue(scope.IssuesDir, issue); err != nil {
		return nil, err
	}
	if _, err := eventlog.Append(scope.EventsDir, issue.ID, eventlog.CommentDeleted, actorID, map[string]string{"comment_id": removedID}, now); err != nil {
		fsio.WriteIssueAt(path, &before)
		return nil, err
	}
	return issue, nil
}

// Delete unlinks the issue file and emits issue_deleted. Not
// transactional against an in-flight listing: callers tolerate missing
// files.
func Delete(scope Scope, id, actorID string, now time.Time) error {
	path := joinIssuePath(scope.IssuesDir, id)
	prior, readErr := os.ReadFile(path)
	if err := fsio.Remove(path); err != nil {
		return err
	}
	if _, err := eventlog.Append(scope.EventsDir, id, eventlog.IssueDeleted, actorID, nil, now); err != nil {
		if readErr == nil {
			os.WriteFile(path, prior, 0o644)
		}
		return err
	}
	return nil
}

// Promote moves an issue from the local scope to the shared scope.
func Promote(local, shared Scope, id, actorID string, now time.Time) (*kissue.Issue, error) {
	return moveScope(local, shared, id, eventlog.IssuePromoted, actorID, now)
}

// Localize moves an issue from the shared scope to the local scope and
// ensures .gitignore contains "project-local/".
func Localize(shared, local Scope, id, actorID, repoRoot string, now time.Time) (*kissue.Issue, error) {
	issue, err := moveScope(shared, local, id, eventlog.IssueLocalized, actorID, now)
	if err != nil {
		return nil, err
	}
	if err := ensureGitignoreEntry(repoRoot, "project-local/"); err != nil {
		return nil, err
	}
	return issue, nil
}

func moveScope(from, to Scope, id, eventType, actorID string, now time.Time) (*kissue.Issue, error) {
	fromPath := joinIssuePath(from.IssuesDir, id)
	issue, err := fsio.ReadIssue(fromPath)
	if err != nil {
		return nil, err
	}
	toPath := joinIssuePath(to.IssuesDir, id)
	if err := fsio.EnsureDir(to.IssuesDir); err != nil {
		return nil, err
	}
	if err := fsio.WriteIssueAt(toPath, issue); err != nil {
		return nil, err
	}
	if err := fsio.Remove(fromPath); err != nil {
		fsio.Remove(toPath)
		return nil, err
	}
	if _, err := eventlog.Append(to.EventsDir, id, eventType, actorID, nil, now); err != nil {
		fsio.WriteIssueAt(fromPath, issue)
		fsio.Remove(toPath)
		return nil, err
	}
	return issue, nil
}

func ensureGitignoreEntry(repoRoot, entry string) error {
	path := repoRoot + string(os.PathSeparator) + ".gitignore"
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return kerrors.Wrap(kerrors.InternalError, err, "reading .gitignore")
	}
	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		if strings.TrimSpace(line) == entry {
			return nil
		}
	}
	content := string(data)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += entry + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return kerrors.Wrap(kerrors.InternalError, err, "writing .gitignore")
	}
	return nil
}
