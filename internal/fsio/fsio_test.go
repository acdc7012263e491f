package fsio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"kanbus/internal/kissue"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	issue := &kissue.Issue{
		ID:        "kbs-abc",
		Title:     "Title",
		Type:      "task",
		Status:    "open",
		Priority:  2,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := WriteIssue(dir, issue); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ReadIssue(filepath.Join(dir, "kbs-abc.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Title != "Title" {
		t.Errorf("unexpected title %q", got.Title)
	}

	ids, err := ListIdentifiers(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 1 || ids[0] != "kbs-abc" {
		t.Errorf("unexpected identifiers: %v", ids)
	}
}

func TestReadMissingFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := ReadIssue(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	issue := &kissue.Issue{ID: "kbs-1", Title: "T", Status: "open", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := WriteIssue(dir, issue); err != nil {
		t.Fatalf("write: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected exactly one file (the issue, no temp files), got %v", entries)
	}
}
