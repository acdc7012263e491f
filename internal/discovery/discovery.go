// Package discovery locates .kanbus.yml and the project directories it
// (and the repository layout) imply. Grounded on
// dcosson-beads-lite's internal/configservice.ResolvePaths — the
// upward walk stopping at the git root, and the git-worktree fallback
// — generalized from "find one .beads dir" to "find .kanbus.yml, plus
// virtual and implicit project directories".
package discovery

import (
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"kanbus/internal/kconfig"
	"kanbus/internal/kerrors"
)

// contributingAgentTemplate is the static scaffold init writes beside
// .kanbus.yml. It is a fixed asset, not the generated per-repository
// agent instructions (that generation step is out of scope here) —
// the same distinction the teacher draws between its formulas
// directory (shipped templates) and its runtime-rendered output.
const contributingAgentTemplate = `# Contributing as an agent

This repository tracks work with kanbus. Issues live as JSON files
under ` + "`project/issues/`" + `; do not hand-edit them — use the engine's
create/update/close/comment operations so events and the cache stay
consistent.

Run ` + "`kanbusd status`" + ` to check whether the warm-index daemon is
reachable before a long listing session.
`

// Init creates a new kanbus repository at repoRoot: .kanbus.yml (the
// default Configuration), project/issues/, project/events/, and the
// CONTRIBUTING_AGENT.template.md scaffold. It raises AlreadyInitialized
// if .kanbus.yml already exists, unless force is set.
func Init(repoRoot string, force bool) error {
	configPath := filepath.Join(repoRoot, ".kanbus.yml")
	if _, err := os.Stat(configPath); err == nil && !force {
		return kerrors.New(kerrors.AlreadyInitialized, "%s already exists", configPath)
	}

	cfg := kconfig.Default()
	if err := kconfig.Write(configPath, cfg); err != nil {
		return err
	}

	projectDir := filepath.Join(repoRoot, cfg.ProjectDirectory)
	if err := os.MkdirAll(filepath.Join(projectDir, "issues"), 0o755); err != nil {
		return kerrors.Wrap(kerrors.InternalError, err, "creating %s/issues", projectDir)
	}
	if err := os.MkdirAll(filepath.Join(projectDir, "events"), 0o755); err != nil {
		return kerrors.Wrap(kerrors.InternalError, err, "creating %s/events", projectDir)
	}

	templatePath := filepath.Join(repoRoot, "CONTRIBUTING_AGENT.template.md")
	if err := os.WriteFile(templatePath, []byte(contributingAgentTemplate), 0o644); err != nil {
		return kerrors.Wrap(kerrors.InternalError, err, "writing %s", templatePath)
	}
	return nil
}

// ProjectDir is one directory this repository keeps issues in.
type ProjectDir struct {
	// Label identifies the project for multi-project listing output:
	// "" for the primary project, "local" for project-local, the
	// virtual_projects key for a virtual project, or the name of the
	// parent directory for an implicit <child>/project directory.
	Label string
	Path  string
	Local bool
}

// Root describes a resolved repository: where .kanbus.yml lives and
// every project directory it implies.
type Root struct {
	ConfigPath         string
	OverrideConfigPath string
	RepoRoot           string
	Config             kconfig.Configuration
	Projects           []ProjectDir
}

// FindGitRoot returns the git repository root for startDir, or "" if
// startDir is not inside a git repository.
func FindGitRoot(startDir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = startDir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Discover resolves the repository rooted at or above start: it finds
// the closest ancestor containing .kanbus.yml (never walking above the
// git top-level), loads that configuration, and collects every
// project directory the configuration and the implicit-scan rule
// imply.
func Discover(start string) (*Root, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.ProjectNotInitialized, err, "resolving %s", start)
	}

	gitRoot, _ := FindGitRoot(abs)

	configDir, found := findConfigUpward(abs, gitRoot)
	if !found {
		return nil, kerrors.New(kerrors.ProjectNotInitialized,
			"no .kanbus.yml found at or above %s", abs)
	}

	configPath := filepath.Join(configDir, ".kanbus.yml")
	overridePath := filepath.Join(configDir, ".kanbus.override.yml")
	cfg, err := kconfig.Load(configPath, overridePath)
	if err != nil {
		return nil, err
	}

	root := &Root{
		ConfigPath:         configPath,
		OverrideConfigPath: overridePath,
		RepoRoot:           configDir,
		Config:             cfg,
	}

	projects, err := collectProjectDirs(configDir, cfg)
	if err != nil {
		return nil, err
	}
	root.Projects = projects

	return root, nil
}

// LoadSingle returns the unique project directory rooted at start, or
// a tagged error if zero or multiple are found.
func LoadSingle(start string) (*Root, ProjectDir, error) {
	root, err := Discover(start)
	if err != nil {
		return nil, ProjectDir{}, err
	}
	switch len(root.Projects) {
	case 0:
		return nil, ProjectDir{}, kerrors.New(kerrors.ProjectNotInitialized, "no project directories found")
	case 1:
		return root, root.Projects[0], nil
	default:
		return nil, ProjectDir{}, kerrors.New(kerrors.MultipleProjectsFound,
			"found %d project directories; specify one explicitly", len(root.Projects))
	}
}

// findConfigUpward walks from start toward the filesystem root looking
// for .kanbus.yml, never crossing above gitRoot.
func findConfigUpward(start, gitRoot string) (string, bool) {
	dir := start
	for {
		candidate := filepath.Join(dir, ".kanbus.yml")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return dir, true
		}

		if gitRoot != "" && dir == gitRoot {
			return "", false
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// collectProjectDirs gathers the primary project dir, virtual project
// dirs, and the one-level-deep implicit project/ scan, applying
// ignore_paths and deduplicating by canonical path.
//
// Per SPEC_FULL.md §9 open question 1: the one-level-deep implicit
// scan is preserved as specified, even though its original intent is
// unclear.
func collectProjectDirs(repoRoot string, cfg kconfig.Configuration) ([]ProjectDir, error) {
	var dirs []ProjectDir

	primary := filepath.Join(repoRoot, cfg.ProjectDirectory)
	dirs = append(dirs, ProjectDir{Label: "", Path: primary})

	localDir := filepath.Join(repoRoot, cfg.ProjectDirectory+"-local")
	if info, err := os.Stat(localDir); err == nil && info.IsDir() {
		dirs = append(dirs, ProjectDir{Label: "local", Path: localDir, Local: true})
	}

	for label, vp := range cfg.VirtualProjects {
		path := vp.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(repoRoot, path)
		}
		if _, err := os.Stat(path); err != nil {
			return nil, kerrors.New(kerrors.VirtualProjectPathNotFound, "virtual project %q: %s does not exist", label, path)
		}
		dirs = append(dirs, ProjectDir{Label: label, Path: path})
	}

	entries, err := os.ReadDir(repoRoot)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			implicit := filepath.Join(repoRoot, e.Name(), "project")
			if info, statErr := os.Stat(implicit); statErr == nil && info.IsDir() {
				dirs = append(dirs, ProjectDir{Label: e.Name(), Path: implicit})
			}
		}
	}

	ignore := make(map[string]bool, len(cfg.IgnorePaths))
	for _, p := range cfg.IgnorePaths {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(repoRoot, abs)
		}
		ignore[filepath.Clean(abs)] = true
	}

	seen := map[string]bool{}
	var result []ProjectDir
	for _, d := range dirs {
		canon := filepath.Clean(d.Path)
		if ignore[canon] || seen[canon] {
			continue
		}
		seen[canon] = true
		d.Path = canon
		result = append(result, d)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result, nil
}
