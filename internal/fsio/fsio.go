// Package fsio implements atomic issue file I/O: write-tmp-then-rename,
// full-read decode, and directory scans for id stems. Grounded
// directly on dcosson-beads-lite's atomicWriteJSON in
// internal/issuestorage/filesystem/filesystem.go (random .tmp suffix,
// f.Sync before close, rename into place). Per-file locking uses
// github.com/gofrs/flock in place of the teacher's raw syscall.Flock
// (see SPEC_FULL.md §4.E).
package fsio

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"

	"kanbus/internal/kerrors"
	"kanbus/internal/kissue"
)

// WriteIssue serializes issue to a buffer, writes it to a temp file in
// dir, then renames it into place at <dir>/<issue.ID>.json.
func WriteIssue(dir string, issue *kissue.Issue) error {
	if issue.ID == "" {
		return kerrors.New(kerrors.InvalidIssueData, "cannot write an issue with an empty id")
	}
	path := filepath.Join(dir, issue.ID+".json")
	return writeAtomic(path, issue)
}

// WriteIssueAt writes issue to an explicit path (used when an op moves
// an issue across scopes, e.g. promote/localize, and when an op
// restores an issue's prior state after a failed event write).
func WriteIssueAt(path string, issue *kissue.Issue) error {
	return writeAtomic(path, issue)
}

func writeAtomic(path string, data any) error {
	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return kerrors.Wrap(kerrors.InternalError, err, "generating temp suffix")
	}
	tmp := path + ".tmp." + hex.EncodeToString(randBytes)

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return kerrors.Wrap(kerrors.InternalError, err, "opening temp file %s", tmp)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return kerrors.Wrap(kerrors.InvalidIssueData, err, "encoding %s", path)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return kerrors.Wrap(kerrors.InternalError, err, "syncing %s", tmp)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return kerrors.Wrap(kerrors.InternalError, err, "closing %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return kerrors.Wrap(kerrors.InternalError, err, "renaming %s into place", path)
	}
	return nil
}

// ReadIssue reads and decodes the issue file at path.
func ReadIssue(path string) (*kissue.Issue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kerrors.New(kerrors.NotFound, "issue file %s does not exist", path)
		}
		return nil, kerrors.Wrap(kerrors.InternalError, err, "reading %s", path)
	}
	var issue kissue.Issue
	if err := json.Unmarshal(data, &issue); err != nil {
		return nil, kerrors.Wrap(kerrors.InvalidIssueData, err, "decoding %s", path)
	}
	return &issue, nil
}

// ListIdentifiers scans dir for *.json files and returns their stems
// (file names without the .json suffix), which are issue ids.
func ListIdentifiers(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, kerrors.Wrap(kerrors.InternalError, err, "scanning %s", dir)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Lock returns a flock-backed lock handle for the issue file at path.
// Callers must Unlock() when done. Locking the issue file itself
// (rather than a separate sidecar lock file) avoids a flock+unlink
// race, matching the teacher's own design choice.
func Lock(path string) (*flock.Flock, error) {
	lock := flock.New(path)
	if err := lock.Lock(); err != nil {
		return nil, kerrors.Wrap(kerrors.InternalError, err, "locking %s", path)
	}
	return lock, nil
}

// RLock returns a shared flock for reading path.
func RLock(path string) (*flock.Flock, error) {
	lock := flock.New(path)
	if err := lock.RLock(); err != nil {
		return nil, kerrors.Wrap(kerrors.InternalError, err, "read-locking %s", path)
	}
	return lock, nil
}

// Remove deletes the issue file at path. A file that is already gone
// is reported as NotFound.
func Remove(path string) error {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return kerrors.New(kerrors.NotFound, "issue file %s does not exist", path)
		}
		return kerrors.Wrap(kerrors.InternalError, err, "removing %s", path)
	}
	return nil
}

// EnsureDir creates dir (and parents) if it does not already exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return kerrors.Wrap(kerrors.InternalError, err, "creating %s", dir)
	}
	return nil
}
