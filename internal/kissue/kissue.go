// Package kissue defines the Issue, Comment, and Dependency data model
// and its JSON codec: alias-tolerant decoding (id/identifier,
// type/issue_type), stable canonical key order on encode, and an open
// custom map that preserves unknown fields verbatim across write
// cycles. Grounded on dcosson-beads-lite's internal/issuestorage.Issue,
// generalized to spec.md's smaller, non-molecule field set.
package kissue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// DependencyKind is the relationship a Dependency expresses toward
// its target issue.
type DependencyKind string

const (
	DependencyBlockedBy DependencyKind = "blocked-by"
	DependencyRelatesTo DependencyKind = "relates-to"
)

// ValidDependencyKinds is the closed set of dependency kinds.
var ValidDependencyKinds = map[DependencyKind]bool{
	DependencyBlockedBy: true,
	DependencyRelatesTo: true,
}

// Dependency is a typed, directed link from the owning issue to id.
type Dependency struct {
	ID   string         `json:"id"`
	Type DependencyKind `json:"type"`
}

// Comment is a single comment on an issue. ID is a UUID; comments
// written before this field existed get ids lazily, when the next
// comment is added to the issue (issueops.Comment).
type Comment struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Issue is the primary entity: a task/bug/feature/etc. tracked as one
// JSON file under <project>/issues/<id>.json.
type Issue struct {
	ID          string
	Title       string
	Description string
	Type        string
	Status      string
	Priority    int
	Assignee    string
	Creator     string
	Parent      string
	Labels      []string
	Dependencies []Dependency
	Comments    []Comment
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClosedAt    *time.Time
	Custom      map[string]any
}

// HasDependency reports whether the issue already links to targetID.
func (i *Issue) HasDependency(targetID string) bool {
	for _, d := range i.Dependencies {
		if d.ID == targetID {
			return true
		}
	}
	return false
}

// DependencyOf returns the dependency entry pointing at targetID, if any.
func (i *Issue) DependencyOf(targetID string) (Dependency, bool) {
	for _, d := range i.Dependencies {
		if d.ID == targetID {
			return d, true
		}
	}
	return Dependency{}, false
}

// BlockedByIDs returns the target ids of every blocked-by dependency.
func (i *Issue) BlockedByIDs() []string {
	var ids []string
	for _, d := range i.Dependencies {
		if d.Type == DependencyBlockedBy {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

// canonicalKeys is the fixed, spec-mandated key order for issue JSON.
var canonicalKeys = []string{
	"id", "title", "description", "type", "status", "priority",
	"assignee", "creator", "parent", "labels", "dependencies",
	"comments", "created_at", "updated_at", "closed_at", "custom",
}

const isoLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// MarshalJSON writes every canonical key in the fixed order from §6,
// two-space indented by the caller (json.MarshalIndent), with custom
// entries sorted by key for determinism.
func (i Issue) MarshalJSON() ([]byte, error) {
	labels := i.Labels
	if labels == nil {
		labels = []string{}
	}
	deps := i.Dependencies
	if deps == nil {
		deps = []Dependency{}
	}
	comments := i.Comments
	if comments == nil {
		comments = []Comment{}
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	fields := []struct {
		key string
		val any
	}{
		{"id", i.ID},
		{"title", i.Title},
		{"description", i.Description},
		{"type", i.Type},
		{"status", i.Status},
		{"priority", i.Priority},
		{"assignee", i.Assignee},
		{"creator", i.Creator},
		{"parent", i.Parent},
		{"labels", labels},
		{"dependencies", deps},
		{"comments", comments},
		{"created_at", formatTime(i.CreatedAt)},
		{"updated_at", formatTime(i.UpdatedAt)},
	}
	for idx, f := range fields {
		if idx > 0 {
			buf.WriteByte(',')
		}
		if err := writeKV(&buf, f.key, f.val); err != nil {
			return nil, err
		}
	}

	buf.WriteByte(',')
	if i.ClosedAt != nil {
		if err := writeKV(&buf, "closed_at", formatTime(*i.ClosedAt)); err != nil {
			return nil, err
		}
	} else {
		if err := writeKV(&buf, "closed_at", nil); err != nil {
			return nil, err
		}
	}

	buf.WriteByte(',')
	custom := i.Custom
	if custom == nil {
		custom = map[string]any{}
	}
	if err := writeKV(&buf, "custom", sortedCustom(custom)); err != nil {
		return nil, err
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeKV(buf *bytes.Buffer, key string, val any) error {
	kb, err := json.Marshal(key)
	if err != nil {
		return err
	}
	vb, err := json.Marshal(val)
	if err != nil {
		return err
	}
	buf.Write(kb)
	buf.WriteByte(':')
	buf.Write(vb)
	return nil
}

// sortedCustom returns an ordered representation (json.RawMessage map
// does not guarantee order, but encoding/json sorts map[string]any
// keys lexicographically already — this wrapper exists to make that
// explicit and future-proof against a switch to an ordered map type).
func sortedCustom(m map[string]any) map[string]any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make(map[string]any, len(m))
	for _, k := range keys {
		ordered[k] = m[k]
	}
	return ordered
}

// UnmarshalJSON decodes an issue, accepting id/identifier and
// type/issue_type as aliases for id/type, and folding any top-level
// key outside the canonical schema into Custom.
func (i *Issue) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("kissue: decode issue: %w", err)
	}

	take := func(keys ...string) (json.RawMessage, bool) {
		for _, k := range keys {
			if v, ok := raw[k]; ok {
				delete(raw, k)
				return v, true
			}
		}
		return nil, false
	}

	var err error
	if v, ok := take("id", "identifier"); ok {
		err = json.Unmarshal(v, &i.ID)
	}
	if err != nil {
		return fmt.Errorf("kissue: id: %w", err)
	}
	if v, ok := take("title"); ok {
		if err := json.Unmarshal(v, &i.Title); err != nil {
			return fmt.Errorf("kissue: title: %w", err)
		}
	}
	if v, ok := take("description"); ok {
		if err := json.Unmarshal(v, &i.Description); err != nil {
			return fmt.Errorf("kissue: description: %w", err)
		}
	}
	if v, ok := take("type", "issue_type"); ok {
		if err := json.Unmarshal(v, &i.Type); err != nil {
			return fmt.Errorf("kissue: type: %w", err)
		}
	}
	if v, ok := take("status"); ok {
		if err := json.Unmarshal(v, &i.Status); err != nil {
			return fmt.Errorf("kissue: status: %w", err)
		}
	}
	if v, ok := take("priority"); ok {
		if err := json.Unmarshal(v, &i.Priority); err != nil {
			return fmt.Errorf("kissue: priority: %w", err)
		}
	}
	if v, ok := take("assignee"); ok {
		if err := json.Unmarshal(v, &i.Assignee); err != nil {
			return fmt.Errorf("kissue: assignee: %w", err)
		}
	}
	if v, ok := take("creator"); ok {
		if err := json.Unmarshal(v, &i.Creator); err != nil {
			return fmt.Errorf("kissue: creator: %w", err)
		}
	}
	if v, ok := take("parent"); ok {
		if err := json.Unmarshal(v, &i.Parent); err != nil {
			return fmt.Errorf("kissue: parent: %w", err)
		}
	}
	if v, ok := take("labels"); ok {
		if err := json.Unmarshal(v, &i.Labels); err != nil {
			return fmt.Errorf("kissue: labels: %w", err)
		}
	}
	if v, ok := take("dependencies"); ok {
		if err := json.Unmarshal(v, &i.Dependencies); err != nil {
			return fmt.Errorf("kissue: dependencies: %w", err)
		}
	}
	if v, ok := take("comments"); ok {
		if err := json.Unmarshal(v, &i.Comments); err != nil {
			return fmt.Errorf("kissue: comments: %w", err)
		}
	}
	if v, ok := take("created_at"); ok {
		if err := json.Unmarshal(v, &i.CreatedAt); err != nil {
			return fmt.Errorf("kissue: created_at: %w", err)
		}
	}
	if v, ok := take("updated_at"); ok {
		if err := json.Unmarshal(v, &i.UpdatedAt); err != nil {
			return fmt.Errorf("kissue: updated_at: %w", err)
		}
	}
	if v, ok := take("closed_at"); ok {
		var t *time.Time
		if err := json.Unmarshal(v, &t); err != nil {
			return fmt.Errorf("kissue: closed_at: %w", err)
		}
		i.ClosedAt = t
	}

	custom := map[string]any{}
	if v, ok := take("custom"); ok {
		if err := json.Unmarshal(v, &custom); err != nil {
			return fmt.Errorf("kissue: custom: %w", err)
		}
	}
	for k, v := range raw {
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return fmt.Errorf("kissue: custom field %q: %w", k, err)
		}
		if _, exists := custom[k]; !exists {
			custom[k] = decoded
		}
	}
	i.Custom = custom

	return nil
}
