// Package eventlog appends one file per event under <scope>/events/,
// named "{occurred_at}__{event_id}.json". Each file is written via the
// same write-tmp-then-rename primitive as internal/fsio's
// writeAtomic (grounded on dcosson-beads-lite's atomicWriteJSON in
// internal/issuestorage/filesystem/filesystem.go), generalized from
// "one JSON file per issue" to "one JSON file per event". A batch
// write that fails partway unlinks every file it had already renamed
// into place, so a reader never observes a partial batch; the caller
// is responsible for restoring its own primary artifact (the issue
// file) on a batch failure.
package eventlog

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"kanbus/internal/kerrors"
)

const isoLayout = "2006-01-02T15:04:05.000Z"

// EventType enumerates the event_type values named in the event log's
// lifecycle contract.
const (
	IssueCreated      = "issue_created"
	IssueDeleted      = "issue_deleted"
	StateTransition   = "state_transition"
	FieldUpdated      = "field_updated"
	CommentAdded      = "comment_added"
	CommentUpdated    = "comment_updated"
	CommentDeleted    = "comment_deleted"
	DependencyAdded   = "dependency_added"
	DependencyRemoved = "dependency_removed"
	IssuePromoted     = "issue_promoted"
	IssueLocalized    = "issue_localized"
)

// Event is one append-only record of a mutation applied to an issue.
type Event struct {
	SchemaVersion int    `json:"schema_version"`
	EventID       string `json:"event_id"`
	IssueID       string `json:"issue_id"`
	EventType     string `json:"event_type"`
	OccurredAt    string `json:"occurred_at"`
	ActorID       string `json:"actor_id"`
	Payload       any    `json:"payload,omitempty"`
}

// fileName returns the on-disk name for event: "{occurred_at}__{event_id}.json".
func fileName(event Event) string {
	return event.OccurredAt + "__" + event.EventID + ".json"
}

// Append writes a single event under <scope>/events/.
func Append(scopeDir string, issueID, eventType, actorID string, payload any, now time.Time) (Event, error) {
	events, err := WriteBatch(scopeDir, []Event{{
		IssueID:   issueID,
		EventType: eventType,
		ActorID:   actorID,
		Payload:   payload,
	}}, now)
	if err != nil {
		return Event{}, err
	}
	return events[0], nil
}

// WriteBatch assigns schema_version/event_id/occurred_at to every
// event missing them, writes each as its own file via
// write-tmp-then-rename, and returns the finalized events. An event
// whose file name already exists is never overwritten: that write
// fails. If any
// event in the batch fails to write, every file already renamed into
// place for this batch is unlinked before the error is returned.
func WriteBatch(scopeDir string, events []Event, now time.Time) ([]Event, error) {
	if len(events) == 0 {
		return nil, nil
	}

	dir := filepath.Join(scopeDir, "events")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, kerrors.Wrap(kerrors.InternalError, err, "creating events directory")
	}

	occurredAt := now.UTC().Format(isoLayout)
	written := make([]string, 0, len(events))

	rollback := func() {
		for _, path := range written {
			os.Remove(path)
		}
	}

	for i := range events {
		if events[i].SchemaVersion == 0 {
			events[i].SchemaVersion = 1
		}
		if events[i].EventID == "" {
			events[i].EventID = uuid.NewString()
		}
		if events[i].OccurredAt == "" {
			events[i].OccurredAt = occurredAt
		}

		path := filepath.Join(dir, fileName(events[i]))
		if err := writeAtomic(path, events[i]); err != nil {
			rollback()
			return nil, kerrors.Wrap(kerrors.InternalError, err, "writing event %d of %d, batch rolled back", i+1, len(events))
		}
		written = append(written, path)
	}

	return events, nil
}

func writeAtomic(path string, event Event) error {
	if _, err := os.Stat(path); err == nil {
		return &os.PathError{Op: "write event", Path: path, Err: os.ErrExist}
	}
	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return err
	}
	tmp := path + ".tmp." + hex.EncodeToString(randBytes)

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(event); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
