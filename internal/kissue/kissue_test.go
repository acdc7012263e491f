package kissue

import (
	"encoding/json"
	"testing"
	"time"
)

func sampleIssue() Issue {
	return Issue{
		ID:          "kbs-abc123",
		Title:       "Implement OAuth2 flow",
		Description: "",
		Type:        "task",
		Status:      "open",
		Priority:    2,
		Labels:      []string{},
		Dependencies: []Dependency{
			{ID: "kbs-def456", Type: DependencyBlockedBy},
		},
		Comments:  []Comment{},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Custom:    map[string]any{},
	}
}

func TestRoundTrip(t *testing.T) {
	issue := sampleIssue()
	data, err := json.MarshalIndent(issue, "", "  ")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Issue
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	data2, err := json.MarshalIndent(decoded, "", "  ")
	if err != nil {
		t.Fatalf("re-marshal: %v", err)
	}
	if string(data) != string(data2) {
		t.Fatalf("not idempotent:\n--- first ---\n%s\n--- second ---\n%s", data, data2)
	}
}

func TestCanonicalKeyOrder(t *testing.T) {
	issue := sampleIssue()
	data, err := json.Marshal(issue)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range canonicalKeys {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing canonical key %q", key)
		}
	}

	// Confirm key order in the raw byte stream.
	idx := -1
	for _, key := range canonicalKeys {
		pos := indexOfKey(string(data), key)
		if pos < idx {
			t.Fatalf("key %q out of order", key)
		}
		idx = pos
	}
}

func indexOfKey(s, key string) int {
	needle := `"` + key + `":`
	for i := 0; i+len(needle) <= len(s); i++ {
		if s[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func TestAliasDecoding(t *testing.T) {
	raw := []byte(`{"identifier":"kbs-xyz","issue_type":"bug","title":"t","status":"open","priority":1,"extra_field":"kept"}`)
	var issue Issue
	if err := json.Unmarshal(raw, &issue); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if issue.ID != "kbs-xyz" {
		t.Errorf("id alias not applied: got %q", issue.ID)
	}
	if issue.Type != "bug" {
		t.Errorf("type alias not applied: got %q", issue.Type)
	}
	if issue.Custom["extra_field"] != "kept" {
		t.Errorf("unknown field not preserved in custom: %+v", issue.Custom)
	}
}

func TestClosedAtInvariantHelpers(t *testing.T) {
	issue := sampleIssue()
	if issue.ClosedAt != nil {
		t.Fatalf("expected nil closed_at for open issue")
	}
	now := time.Now().UTC()
	issue.Status = "closed"
	issue.ClosedAt = &now
	if issue.ClosedAt == nil {
		t.Fatalf("expected closed_at to be set")
	}
}
