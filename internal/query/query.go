// Package query implements the filter → search → sort pipeline over an
// already-loaded list of issues, and the list_issues composition that
// sits above discovery/indexing. The filter flag surface (status,
// type, label, parent, roots-only, assignee) is grounded on
// dcosson-beads-lite's internal/cmd/list.go flag handling, lifted out
// of the CLI layer into a pure function pipeline that does not depend
// on cobra.
package query

import (
	"path/filepath"
	"sort"
	"strings"

	"kanbus/internal/beads"
	"kanbus/internal/discovery"
	"kanbus/internal/idgen"
	"kanbus/internal/kcache"
	"kanbus/internal/kissue"
)

// Filter narrows issues by exact-match fields. A nil/empty field means
// "no constraint" for that field.
type Filter struct {
	Status   string
	Type     string
	Assignee string
	Label    string
	Parent   string
	RootsOnly bool
}

// FilterIssues returns every issue in issues matching every non-empty
// field of f.
func FilterIssues(issues []*kissue.Issue, f Filter) []*kissue.Issue {
	var out []*kissue.Issue
	for _, issue := range issues {
		if f.Status != "" && issue.Status != f.Status {
			continue
		}
		if f.Type != "" && issue.Type != f.Type {
			continue
		}
		if f.Assignee != "" && issue.Assignee != f.Assignee {
			continue
		}
		if f.Parent != "" && issue.Parent != f.Parent {
			continue
		}
		if f.RootsOnly && issue.Parent != "" {
			continue
		}
		if f.Label != "" && !hasLabel(issue, f.Label) {
			continue
		}
		out = append(out, issue)
	}
	return out
}

func hasLabel(issue *kissue.Issue, label string) bool {
	for _, l := range issue.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// SearchIssues narrows issues to those whose title or description
// contains text, case-insensitively. An empty text is a no-op.
func SearchIssues(issues []*kissue.Issue, text string) []*kissue.Issue {
	if text == "" {
		return issues
	}
	needle := strings.ToLower(text)
	var out []*kissue.Issue
	for _, issue := range issues {
		if strings.Contains(strings.ToLower(issue.Title), needle) ||
			strings.Contains(strings.ToLower(issue.Description), needle) {
			out = append(out, issue)
		}
	}
	return out
}

// SortKey names a field sort_issues can order by.
type SortKey string

const (
	SortByCreatedAt SortKey = "created_at"
	SortByUpdatedAt SortKey = "updated_at"
	SortByPriority  SortKey = "priority"
	SortByTitle     SortKey = "title"
)

// SortIssues orders issues by key, breaking ties by id for a stable
// secondary sort. An unrecognized or empty key falls back to id-only
// ordering.
func SortIssues(issues []*kissue.Issue, key SortKey) []*kissue.Issue {
	sorted := append([]*kissue.Issue{}, issues...)
	less := func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		switch key {
		case SortByCreatedAt:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
		case SortByUpdatedAt:
			if !a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.UpdatedAt.Before(b.UpdatedAt)
			}
		case SortByPriority:
			if a.Priority != b.Priority {
				return a.Priority < b.Priority
			}
		case SortByTitle:
			if a.Title != b.Title {
				return a.Title < b.Title
			}
		}
		return a.ID < b.ID
	}
	sort.SliceStable(sorted, less)
	return sorted
}

// AnnotateProjectPath sets issue.Custom["project_path"] on every issue,
// used when multiple project directories are aggregated into one
// listing so the CLI layer can render each issue's origin.
func AnnotateProjectPath(issues []*kissue.Issue, projectPath string) {
	for _, issue := range issues {
		if issue.Custom == nil {
			issue.Custom = map[string]any{}
		}
		issue.Custom["project_path"] = projectPath
	}
}

// AnnotateDisplayID sets issue.Custom["display_id"] to each issue's
// compact display form (per §4.D: first 6 hex chars of the uuid body,
// prefixed by projectKey), used alongside AnnotateProjectPath when
// rendering a multi-project listing.
func AnnotateDisplayID(issues []*kissue.Issue, projectKey string) {
	for _, issue := range issues {
		if issue.Custom == nil {
			issue.Custom = map[string]any{}
		}
		issue.Custom["display_id"] = idgen.DisplayID(issue.ID, projectKey)
	}
}

// ListIssues runs the full filter -> search -> sort pipeline.
func ListIssues(issues []*kissue.Issue, f Filter, searchText string, sortKey SortKey) []*kissue.Issue {
	filtered := FilterIssues(issues, f)
	searched := SearchIssues(filtered, searchText)
	return SortIssues(searched, sortKey)
}

// ListOptions controls the list_issues composition: which project
// directories to aggregate, whether to read the foreign Beads backend
// instead of native issue files, and the filter/search/sort to run
// once every project's issues are collected.
type ListOptions struct {
	LocalOnly    bool
	IncludeLocal bool
	Beads        bool
	Filter       Filter
	Search       string
	Sort         SortKey
}

// List runs the full list_issues composition per spec.md §4.O:
// discovery's already-resolved project set -> indexing (the same
// mtime-keyed cache the daemon warms) or the Beads bridge ->
// local-only/include-local filtering -> query -> stable secondary sort
// by id. When more than one project directory contributes issues,
// every issue is annotated with custom.project_path.
func List(root *discovery.Root, opts ListOptions) ([]*kissue.Issue, error) {
	if opts.Beads {
		issues, _, err := beads.Load(filepath.Join(root.RepoRoot, ".beads", "issues.jsonl"))
		if err != nil {
			return nil, err
		}
		return ListIssues(issues, opts.Filter, opts.Search, opts.Sort), nil
	}

	projects := selectProjects(root.Projects, opts.LocalOnly, opts.IncludeLocal)

	var all []*kissue.Issue
	for _, p := range projects {
		issuesDir := filepath.Join(p.Path, "issues")
		idx, err := kcache.New(p.Path, issuesDir).Load()
		if err != nil {
			return nil, err
		}
		issues := idx.All()
		if len(projects) > 1 {
			AnnotateProjectPath(issues, p.Path)
			AnnotateDisplayID(issues, p.Label)
		}
		all = append(all, issues...)
	}

	return ListIssues(all, opts.Filter, opts.Search, opts.Sort), nil
}

// selectProjects applies the local-only/include-local toggle: by
// default project-local directories are excluded; local-only inverts
// that to include only them; include-local adds them alongside the
// shared ones.
func selectProjects(projects []discovery.ProjectDir, localOnly, includeLocal bool) []discovery.ProjectDir {
	var out []discovery.ProjectDir
	for _, p := range projects {
		switch {
		case localOnly:
			if p.Local {
				out = append(out, p)
			}
		case p.Local && !includeLocal:
			continue
		default:
			out = append(out, p)
		}
	}
	return out
}
