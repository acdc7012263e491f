// Package kcache serializes a kindex.Index to
// <project>/.cache/index.json, keyed by the mtimes of the scanned
// issue files, so repeated reads can skip re-scanning the directory
// when nothing changed. New component — dcosson-beads-lite always
// re-scans on every call — grounded on the atomic-write convention in
// internal/fsio and the mtime-keyed cache shape described for this
// system. Concurrent rebuild requests are deduplicated with
// golang.org/x/sync/singleflight.
package kcache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"kanbus/internal/kerrors"
	"kanbus/internal/kindex"
	"kanbus/internal/kissue"
)

const cacheVersion = 1

// fileOnDisk is the persisted cache shape.
type fileOnDisk struct {
	Version     int               `json:"version"`
	BuiltAt     string            `json:"built_at"`
	FileMtimes  map[string]int64  `json:"file_mtimes"`
	Issues      []*kissue.Issue   `json:"issues"`
	ReverseDeps map[string][]string `json:"reverse_deps"`
}

// Cache guards one issues directory's cache file and deduplicates
// concurrent rebuilds.
type Cache struct {
	IssuesDir string
	CachePath string

	group singleflight.Group
}

// New returns a Cache for the given issues directory; the cache file
// lives at <projectDir>/.cache/index.json.
func New(projectDir, issuesDir string) *Cache {
	return &Cache{
		IssuesDir: issuesDir,
		CachePath: filepath.Join(projectDir, ".cache", "index.json"),
	}
}

// scanMtimes stats every file currently in IssuesDir and returns a
// name -> unix-nano mtime map, for comparison against a cached value.
func (c *Cache) scanMtimes() (map[string]int64, error) {
	entries, err := os.ReadDir(c.IssuesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]int64{}, nil
		}
		return nil, kerrors.Wrap(kerrors.InternalError, err, "scanning %s", c.IssuesDir)
	}
	mtimes := map[string]int64{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, kerrors.Wrap(kerrors.InternalError, err, "stat %s", e.Name())
		}
		mtimes[e.Name()] = info.ModTime().UnixNano()
	}
	return mtimes, nil
}

func mtimesEqual(a, b map[string]int64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// LoadIfValid returns the cached index if the on-disk cache's
// file_mtimes exactly match the current directory scan; otherwise it
// returns nil, nil (a cache miss, not an error).
func (c *Cache) LoadIfValid() (*kindex.Index, error) {
	data, err := os.ReadFile(c.CachePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, kerrors.Wrap(kerrors.InternalError, err, "reading cache %s", c.CachePath)
	}
	var stored fileOnDisk
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, nil // corrupt cache is a miss, not fatal
	}
	if stored.Version != cacheVersion {
		return nil, nil
	}

	current, err := c.scanMtimes()
	if err != nil {
		return nil, err
	}
	if !mtimesEqual(stored.FileMtimes, current) {
		return nil, nil
	}

	return reconstruct(stored.Issues), nil
}

// reconstruct rebuilds a full Index from a flat issue list, always
// recomputing ReverseDep from the issues themselves (the on-disk
// reverse_deps value is advisory only and never trusted here).
func reconstruct(issues []*kissue.Issue) *kindex.Index {
	idx := &kindex.Index{
		ByID:       map[string]*kissue.Issue{},
		ByStatus:   map[string][]*kissue.Issue{},
		ByType:     map[string][]*kissue.Issue{},
		ByParent:   map[string][]*kissue.Issue{},
		ByLabel:    map[string][]*kissue.Issue{},
		ReverseDep: map[string][]string{},
	}
	ids := make([]string, 0, len(issues))
	for _, issue := range issues {
		idx.ByID[issue.ID] = issue
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
		ids = append(ids, issue.ID)
	}
	sort.Strings(ids)
	idx.Order = ids
	return idx
}

// Rebuild re-scans IssuesDir via kindex.Build, writes the result to
// the cache file, and returns the fresh index. Concurrent callers for
// the same Cache collapse onto a single in-flight rebuild.
func (c *Cache) Rebuild() (*kindex.Index, error) {
	v, err, _ := c.group.Do("rebuild", func() (any, error) {
		idx, err := kindex.Build(c.IssuesDir)
		if err != nil {
			return nil, err
		}
		mtimes, err := c.scanMtimes()
		if err != nil {
			return nil, err
		}
		if err := c.write(idx, mtimes); err != nil {
			return nil, err
		}
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*kindex.Index), nil
}

// write atomically replaces the cache file with a serialization of idx
// and the given mtimes snapshot.
func (c *Cache) write(idx *kindex.Index, mtimes map[string]int64) error {
	if err := os.MkdirAll(filepath.Dir(c.CachePath), 0o755); err != nil {
		return kerrors.Wrap(kerrors.InternalError, err, "creating cache dir")
	}

	onDisk := fileOnDisk{
		Version:     cacheVersion,
		BuiltAt:     time.Now().UTC().Format(time.RFC3339Nano),
		FileMtimes:  mtimes,
		Issues:      idx.All(),
		ReverseDeps: idx.ReverseDep,
	}
	data, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return kerrors.Wrap(kerrors.InternalError, err, "marshaling cache")
	}

	tmp := c.CachePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return kerrors.Wrap(kerrors.InternalError, err, "writing temp cache file")
	}
	if err := os.Rename(tmp, c.CachePath); err != nil {
		os.Remove(tmp)
		return kerrors.Wrap(kerrors.InternalError, err, "renaming cache file into place")
	}
	return nil
}

// Invalidate removes the cache file, forcing the next Load/Rebuild to
// re-scan from scratch.
func (c *Cache) Invalidate() error {
	if err := os.Remove(c.CachePath); err != nil && !os.IsNotExist(err) {
		return kerrors.Wrap(kerrors.InternalError, err, "invalidating cache %s", c.CachePath)
	}
	return nil
}

// Load returns the valid cached index, or rebuilds it if the cache is
// missing or stale.
func (c *Cache) Load() (*kindex.Index, error) {
	idx, err := c.LoadIfValid()
	if err != nil {
		return nil, err
	}
	if idx != nil {
		return idx, nil
	}
	return c.Rebuild()
}
