// Package beads bridges to the foreign ".beads/issues.jsonl" format:
// one JSON record per line, with its own field names and a flatter
// dependency shape. Newly authored — dcosson-beads-lite's own
// sync/import commands are explicit no-ops ("beads-lite uses direct
// filesystem storage and does not require a separate sync/import
// step") so there is no teacher code to adapt. The
// keep-first-drop-rest multi-parent rule and reporting-without-failing
// shape is grounded on steveyegge-beads's internal/jsonl/cleaner.go
// (RejectedIssue / DuplicateRemoval accounting); hierarchical child
// numbering reuses kanbus/internal/idgen's dot-notation helpers.
package beads

import (
	"bufio"
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"kanbus/internal/hierarchy"
	"kanbus/internal/idgen"
	"kanbus/internal/kconfig"
	"kanbus/internal/kerrors"
	"kanbus/internal/kissue"
)

// issueTypeAliases maps a foreign issue_type value to its native
// equivalent on read.
var issueTypeAliases = map[string]string{
	"feature": "story",
	"message": "task",
}

// reverseTypeAliases maps native back to foreign on write, the inverse
// of issueTypeAliases.
var reverseTypeAliases = func() map[string]string {
	rev := map[string]string{}
	for foreign, native := range issueTypeAliases {
		rev[native] = foreign
	}
	return rev
}()

// record is the on-disk JSONL shape: keys as named by the foreign tool,
// not kanbus's own canonical order.
type record struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	Description  string           `json:"description"`
	Status       string           `json:"status"`
	Priority     int              `json:"priority"`
	IssueType    string           `json:"issue_type"`
	CreatedAt    string           `json:"created_at"`
	UpdatedAt    string           `json:"updated_at"`
	Dependencies []recordDep      `json:"dependencies,omitempty"`
	Comments     []recordComment  `json:"comments,omitempty"`
	Owner        string           `json:"owner,omitempty"`
	Assignee     string           `json:"assignee,omitempty"`
}

type recordDep struct {
	IssueID     string `json:"issue_id"`
	DependsOnID string `json:"depends_on_id"`
	Type        string `json:"type"`
}

type recordComment struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

const timeLayout = "2006-01-02T15:04:05.000Z"

// Warning records a non-fatal condition surfaced during a read, such as
// a dropped extra parent link.
type Warning struct {
	IssueID string
	Message string
}

// Load reads every record from path and converts it to a kissue.Issue,
// returning any non-fatal warnings alongside the converted issues.
func Load(path string) ([]*kissue.Issue, []Warning, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, kerrors.Wrap(kerrors.InternalError, err, "opening %s", path)
	}
	defer f.Close()

	var issues []*kissue.Issue
	var warnings []Warning

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, nil, kerrors.Wrap(kerrors.InvalidIssueData, err, "decoding beads record")
		}
		issue, warn := fromRecord(rec)
		issues = append(issues, issue)
		warnings = append(warnings, warn...)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, kerrors.Wrap(kerrors.InternalError, err, "reading %s", path)
	}

	return issues, warnings, nil
}

// fromRecord applies the read-direction conversion rules: issue_type
// aliasing, folding a single parent-child dependency into Parent,
// keep-first-drop-rest on multiple parents (reported as a warning, not
// a failure).
func fromRecord(rec record) (*kissue.Issue, []Warning) {
	var warnings []Warning

	issueType := rec.IssueType
	if alias, ok := issueTypeAliases[issueType]; ok {
		issueType = alias
	}

	var parent string
	var deps []kissue.Dependency
	parentCount := 0
	for _, dep := range rec.Dependencies {
		if dep.Type == "parent-child" {
			parentCount++
			if parentCount == 1 {
				parent = dep.DependsOnID
			}
			continue
		}
		deps = append(deps, kissue.Dependency{ID: dep.DependsOnID, Type: kissue.DependencyKind(dep.Type)})
	}
	if parentCount > 1 {
		warnings = append(warnings, Warning{
			IssueID: rec.ID,
			Message: "invalid_hierarchy: multiple parent-child dependencies found; kept the first, dropped the rest",
		})
	}

	comments := make([]kissue.Comment, 0, len(rec.Comments))
	for _, c := range rec.Comments {
		created, _ := time.Parse(timeLayout, c.CreatedAt)
		comments = append(comments, kissue.Comment{ID: c.ID, Author: c.Author, Text: c.Text, CreatedAt: created})
	}

	created, _ := time.Parse(timeLayout, rec.CreatedAt)
	updated, _ := time.Parse(timeLayout, rec.UpdatedAt)

	assignee := rec.Assignee
	if assignee == "" {
		assignee = rec.Owner
	}

	issue := &kissue.Issue{
		ID:           rec.ID,
		Title:        rec.Title,
		Description:  rec.Description,
		Type:         issueType,
		Status:       rec.Status,
		Priority:     rec.Priority,
		Assignee:     assignee,
		Parent:       parent,
		Dependencies: deps,
		Comments:     comments,
		CreatedAt:    created,
		UpdatedAt:    updated,
	}
	return issue, warnings
}

// toRecord applies the write-direction conversion: the inverse issue_type
// alias, and re-expanding Parent into a parent-child dependency.
func toRecord(issue *kissue.Issue) record {
	issueType := issue.Type
	if foreign, ok := reverseTypeAliases[issueType]; ok {
		issueType = foreign
	}

	var deps []recordDep
	if issue.Parent != "" {
		deps = append(deps, recordDep{IssueID: issue.ID, DependsOnID: issue.Parent, Type: "parent-child"})
	}
	for _, dep := range issue.Dependencies {
		deps = append(deps, recordDep{IssueID: issue.ID, DependsOnID: dep.ID, Type: string(dep.Type)})
	}

	comments := make([]recordComment, 0, len(issue.Comments))
	for _, c := range issue.Comments {
		comments = append(comments, recordComment{ID: c.ID, Author: c.Author, Text: c.Text, CreatedAt: c.CreatedAt.UTC().Format(timeLayout)})
	}

	return record{
		ID:           issue.ID,
		Title:        issue.Title,
		Description:  issue.Description,
		Status:       issue.Status,
		Priority:     issue.Priority,
		IssueType:    issueType,
		CreatedAt:    issue.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:    issue.UpdatedAt.UTC().Format(timeLayout),
		Dependencies: deps,
		Comments:     comments,
		Assignee:     issue.Assignee,
	}
}

// Save writes every issue to path, one JSONL record per line, in the
// order given.
func Save(path string, issues []*kissue.Issue) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return kerrors.Wrap(kerrors.BeadsWriteFailed, err, "creating %s", tmp)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, issue := range issues {
		if err := enc.Encode(toRecord(issue)); err != nil {
			f.Close()
			os.Remove(tmp)
			return kerrors.Wrap(kerrors.BeadsWriteFailed, err, "encoding %s", issue.ID)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return kerrors.Wrap(kerrors.BeadsWriteFailed, err, "flushing %s", tmp)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return kerrors.Wrap(kerrors.BeadsWriteFailed, err, "closing %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return kerrors.Wrap(kerrors.BeadsWriteFailed, err, "renaming %s into place", path)
	}
	return nil
}

// AddComment appends a comment with a monotonically increasing integer
// id (one greater than the highest existing numeric comment id on the
// issue) and rewrites the issue's updated_at.
func AddComment(issue *kissue.Issue, author, text string, now time.Time) kissue.Comment {
	maxID := 0
	for _, c := range issue.Comments {
		if n, err := strconv.Atoi(c.ID); err == nil && n > maxID {
			maxID = n
		}
	}
	comment := kissue.Comment{ID: strconv.Itoa(maxID + 1), Author: author, Text: text, CreatedAt: now}
	issue.Comments = append(issue.Comments, comment)
	issue.UpdatedAt = now
	return comment
}

// StripInvalidParents validates every issue's parent link against
// cfg's hierarchy rules (once a configuration — synthesized or real —
// is available) and strips any link that violates them, reporting a
// warning rather than failing the load.
func StripInvalidParents(cfg kconfig.Configuration, issues []*kissue.Issue) []Warning {
	byID := map[string]*kissue.Issue{}
	for _, issue := range issues {
		byID[issue.ID] = issue
	}

	var warnings []Warning
	for _, issue := range issues {
		if issue.Parent == "" {
			continue
		}
		parent, ok := byID[issue.Parent]
		if !ok {
			continue
		}
		if err := hierarchy.Validate(cfg, parent.Type, issue.Type); err != nil {
			warnings = append(warnings, Warning{
				IssueID: issue.ID,
				Message: "invalid_hierarchy: " + err.Error() + "; parent link stripped",
			})
			issue.Parent = ""
		}
	}
	return warnings
}

// CreateInput carries the user-facing fields of a Beads-mode create
// call. Parent, when set, drives hierarchical child numbering instead
// of the flat 3-char slug.
type CreateInput struct {
	Title       string
	Description string
	Type        string
	Priority    int
	Assignee    string
	Parent      string
}

// Create generates a Beads-mode id for in and appends the resulting
// issue to issues, returning the extended slice and the new issue. No
// parent: a fresh "<prefix>-<3-char slug>" root id. With a parent: the
// next "<parent>.<n+1>" child id per spec.md §4.D/§8 scenario 5, and
// issue.Parent is set so Save's toRecord re-expands it into a
// parent-child dependency record, the link fromRecord folds back into
// Parent on the next Load.
func Create(cfg kconfig.Configuration, issues []*kissue.Issue, prefix string, in CreateInput, now time.Time) ([]*kissue.Issue, *kissue.Issue, error) {
	existing := make(map[string]bool, len(issues))
	for _, issue := range issues {
		existing[issue.ID] = true
	}

	var id string
	if in.Parent != "" {
		parent, ok := findByID(issues, in.Parent)
		if !ok {
			return issues, nil, kerrors.New(kerrors.NotFound, "parent issue %q not found", in.Parent)
		}
		issueType := in.Type
		if issueType == "" {
			issueType = cfg.Hierarchy[len(cfg.Hierarchy)-1]
		}
		if err := hierarchy.Validate(cfg, parent.Type, issueType); err != nil {
			return issues, nil, err
		}
		id = idgen.BeadsChildID(in.Parent, existing)
	} else {
		slug, err := idgen.BeadsSlug(prefix, existing)
		if err != nil {
			return issues, nil, err
		}
		id = slug
	}

	issueType := in.Type
	if issueType == "" {
		issueType = cfg.Hierarchy[len(cfg.Hierarchy)-1]
	}
	priority := in.Priority
	if _, ok := cfg.Priorities[priority]; !ok {
		priority = cfg.DefaultPriority
	}

	issue := &kissue.Issue{
		ID:          id,
		Title:       in.Title,
		Description: in.Description,
		Type:        issueType,
		Status:      cfg.InitialStatus,
		Priority:    priority,
		Assignee:    in.Assignee,
		Parent:      in.Parent,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return append(issues, issue), issue, nil
}

func findByID(issues []*kissue.Issue, id string) (*kissue.Issue, bool) {
	for _, issue := range issues {
		if issue.ID == id {
			return issue, true
		}
	}
	return nil, false
}

// UpdateIssue rewrites the line for id in place by replacing it in
// issues and bumping its updated_at; it is the caller's job to persist
// the result via Save.
func UpdateIssue(issues []*kissue.Issue, id string, mutate func(*kissue.Issue), now time.Time) bool {
	for _, issue := range issues {
		if issue.ID == id {
			mutate(issue)
			issue.UpdatedAt = now
			return true
		}
	}
	return false
}

// DeleteIssue filters id out of issues, returning the filtered slice
// and whether anything was removed.
func DeleteIssue(issues []*kissue.Issue, id string) ([]*kissue.Issue, bool) {
	out := issues[:0]
	removed := false
	for _, issue := range issues {
		if issue.ID == id {
			removed = true
			continue
		}
		out = append(out, issue)
	}
	return out, removed
}

// SynthesizeConfiguration builds a permissive Configuration for a
// foreign repo with no .kanbus.yml: every status declared across the
// loaded issues is accepted, and the fallback "default" workflow
// accepts a transition to any declared status from any other.
func SynthesizeConfiguration(issues []*kissue.Issue) kconfig.Configuration {
	cfg := kconfig.Default()
	cfg.BeadsCompatibility = true

	statusSet := map[string]bool{}
	for _, issue := range issues {
		if issue.Status != "" {
			statusSet[issue.Status] = true
		}
	}
	statuses := make([]string, 0, len(statusSet))
	for s := range statusSet {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	if len(statuses) == 0 {
		statuses = []string{cfg.InitialStatus}
	}

	cfg.Statuses = nil
	anyToAny := kconfig.Workflow{}
	for _, s := range statuses {
		cfg.Statuses = append(cfg.Statuses, kconfig.StatusDef{Key: s, Name: s, Category: "todo"})
		var reachable []string
		for _, other := range statuses {
			if other != s {
				reachable = append(reachable, other)
			}
		}
		anyToAny[s] = reachable
	}
	cfg.Workflows = map[string]kconfig.Workflow{"default": anyToAny}
	cfg.TransitionLabels = map[string]string{}
	for from, tos := range anyToAny {
		for _, to := range tos {
			cfg.TransitionLabels[kconfig.TransitionLabelKey("default", from, to)] = from + " -> " + to
		}
	}
	return cfg
}
