// Package e2e drives kanbus's engine packages end to end, the way a
// CLI would, without the argument-parsing CLI surface itself (out of
// scope). The harness's method set mirrors teacher's e2etests.Runner
// (SetupSandbox/Run) but calls straight into the engine's own public
// API — discovery, kconfig, issueops, depgraph, beads, daemon — since
// this domain ships no CLI binary for the harness to exec.
package e2e

import (
	"os"
	"path/filepath"
	"time"

	"kanbus/internal/beads"
	"kanbus/internal/daemon"
	"kanbus/internal/depgraph"
	"kanbus/internal/discovery"
	"kanbus/internal/fsio"
	"kanbus/internal/idgen"
	"kanbus/internal/issueops"
	"kanbus/internal/kcache"
	"kanbus/internal/kconfig"
	"kanbus/internal/kenv"
	"kanbus/internal/kindex"
	"kanbus/internal/kissue"
	"kanbus/internal/query"
)

// Harness wraps one sandbox repository root and the Environment its
// operations draw ids from (New supplies the real one).
type Harness struct {
	Root string
	Env  *kenv.Environment
}

// New creates a Harness rooted at dir, with a real (non-deterministic)
// Environment.
func New(dir string) *Harness {
	return &Harness{Root: dir, Env: kenv.Real()}
}

// Init scaffolds a new repository at h.Root.
func (h *Harness) Init(force bool) error {
	return discovery.Init(h.Root, force)
}

// project resolves the sole project directory under h.Root.
func (h *Harness) project() (*discovery.Root, discovery.ProjectDir, error) {
	return discovery.LoadSingle(h.Root)
}

func (h *Harness) scope(p discovery.ProjectDir) issueops.Scope {
	return issueops.Scope{IssuesDir: filepath.Join(p.Path, "issues"), EventsDir: p.Path}
}

// Create creates an issue in the primary project scope.
func (h *Harness) Create(in issueops.CreateInput) (*kissue.Issue, error) {
	root, project, err := h.project()
	if err != nil {
		return nil, err
	}
	id, err := h.newID(project)
	if err != nil {
		return nil, err
	}
	return issueops.Create(root.Config, h.scope(project), id, in, h.Env.Now())
}

func (h *Harness) newID(project discovery.ProjectDir) (string, error) {
	ids, err := fsio.ListIdentifiers(filepath.Join(project.Path, "issues"))
	if err != nil {
		return "", err
	}
	existing := make(map[string]bool, len(ids))
	for _, id := range ids {
		existing[id] = true
	}
	root, _, err := h.project()
	if err != nil {
		return "", err
	}
	prefix := root.Config.ProjectKey
	if prefix == "" {
		prefix = "kbs"
	}
	return idgen.FormatKey(h.Env, "", prefix, existing)
}

// Close transitions an issue to "closed".
func (h *Harness) Close(id, actorID string) (*kissue.Issue, error) {
	root, project, err := h.project()
	if err != nil {
		return nil, err
	}
	return issueops.Close(root.Config, h.scope(project), id, actorID, h.Env.Now())
}

// Delete removes an issue file.
func (h *Harness) Delete(id, actorID string) error {
	_, project, err := h.project()
	if err != nil {
		return err
	}
	return issueops.Delete(h.scope(project), id, actorID, h.Env.Now())
}

// DepAdd adds a dependency link, consulting a freshly-built index for
// cycle detection.
func (h *Harness) DepAdd(id, targetID string, kind kissue.DependencyKind, actorID string) (*kissue.Issue, error) {
	_, project, err := h.project()
	if err != nil {
		return nil, err
	}
	scope := h.scope(project)
	idx, err := kindex.Build(scope.IssuesDir)
	if err != nil {
		return nil, err
	}
	return issueops.AddDependency(scope, depgraph.FromIndex(idx), id, targetID, kind, actorID, h.Env.Now())
}

// DepRemove removes a dependency link.
func (h *Harness) DepRemove(id, targetID, actorID string) (*kissue.Issue, error) {
	_, project, err := h.project()
	if err != nil {
		return nil, err
	}
	return issueops.RemoveDependency(h.scope(project), id, targetID, actorID, h.Env.Now())
}

// List runs the list_issues composition with its zero-value options:
// the native backend, every non-local project directory, no
// filter/search, id-only sort.
func (h *Harness) List() ([]*kissue.Issue, error) {
	return h.Query(query.ListOptions{})
}

// Query runs the full list_issues composition (discovery ->
// indexing/daemon cache -> local-only/include-local filtering ->
// beads-or-native -> filter/search/sort) over every project directory
// h.Root resolves to, not just the sole one LoadSingle would require -
// the multi-project aggregation case needs more than one to exist.
func (h *Harness) Query(opts query.ListOptions) ([]*kissue.Issue, error) {
	root, err := discovery.Discover(h.Root)
	if err != nil {
		return nil, err
	}
	return query.List(root, opts)
}

// IssuePath returns the on-disk path of id's issue file in the primary
// project, for scenarios that need to touch a file's mtime directly.
func (h *Harness) IssuePath(id string) (string, error) {
	_, project, err := h.project()
	if err != nil {
		return "", err
	}
	return filepath.Join(project.Path, "issues", id+".json"), nil
}

// Cache returns a kcache.Cache bound to the primary project's issues
// directory, for scenarios exercising mtime-keyed invalidation.
func (h *Harness) Cache() (*kcache.Cache, error) {
	_, project, err := h.project()
	if err != nil {
		return nil, err
	}
	return kcache.New(project.Path, filepath.Join(project.Path, "issues")), nil
}

// BeadsPath returns the conventional .beads/issues.jsonl path under
// h.Root.
func (h *Harness) BeadsPath() string {
	return filepath.Join(h.Root, ".beads", "issues.jsonl")
}

// BeadsLoad loads every issue from the Beads JSONL file.
func (h *Harness) BeadsLoad() ([]*kissue.Issue, []beads.Warning, error) {
	return beads.Load(h.BeadsPath())
}

// BeadsSave writes issues back to the Beads JSONL file.
func (h *Harness) BeadsSave(issues []*kissue.Issue) error {
	return beads.Save(h.BeadsPath(), issues)
}

// BeadsCreate loads the Beads JSONL file, appends a new issue per in
// (hierarchical-child numbering when in.Parent is set), saves the
// extended set back, and returns the new issue.
func (h *Harness) BeadsCreate(in beads.CreateInput) (*kissue.Issue, error) {
	root, _, err := h.project()
	if err != nil {
		return nil, err
	}
	issues, _, err := h.BeadsLoad()
	if err != nil {
		return nil, err
	}
	prefix := root.Config.ProjectKey
	if prefix == "" {
		prefix = "bdx"
	}
	extended, issue, err := beads.Create(root.Config, issues, prefix, in, h.Env.Now())
	if err != nil {
		return nil, err
	}
	if err := h.BeadsSave(extended); err != nil {
		return nil, err
	}
	return issue, nil
}

// Daemon returns a client wired to projectPath's socket path, with
// "kanbusdPath serve" as its respawn command, and that socket path, for
// scenarios exercising daemon spawn/respawn behavior.
func (h *Harness) Daemon(projectPath, kanbusdPath string) (*daemon.Client, string) {
	socketPath := daemon.SocketPath(projectPath)
	client := &daemon.Client{
		SocketPath: socketPath,
		DaemonCmd:  []string{kanbusdPath, "serve"},
	}
	return client, socketPath
}

// WriteConfig writes cfg to h.Root/.kanbus.yml, overwriting Init's
// default if a scenario needs a non-default configuration.
func (h *Harness) WriteConfig(cfg kconfig.Configuration) error {
	return kconfig.Write(filepath.Join(h.Root, ".kanbus.yml"), cfg)
}

// Touch resets path's mtime to t, used by cache-invalidation scenarios
// that need to force an mtime change deterministically.
func (h *Harness) Touch(path string, t time.Time) error {
	return os.Chtimes(path, t, t)
}
