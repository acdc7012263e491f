package idgen

import (
	"testing"
	"time"

	"kanbus/internal/kenv"
)

func TestFormatKeyRetriesOnCollision(t *testing.T) {
	env := kenv.Sequence([]string{"11111111-1111-1111-1111-111111111111", "22222222-2222-2222-2222-222222222222"}, time.Now())
	existing := map[string]bool{"kbs-11111111-1111-1111-1111-111111111111": true}

	id, err := FormatKey(env, "title", "kbs", existing)
	if err != nil {
		t.Fatalf("format key: %v", err)
	}
	if id != "kbs-22222222-2222-2222-2222-222222222222" {
		t.Errorf("expected second candidate after collision, got %q", id)
	}
}

func TestHierarchicalIDRoundTrip(t *testing.T) {
	if !IsHierarchicalID("kbs-a3f8.1") {
		t.Fatalf("expected hierarchical id to be recognized")
	}
	if IsHierarchicalID("kbs-a3f8") {
		t.Fatalf("root id should not be hierarchical")
	}
	parent, n, ok := ParseHierarchicalID("kbs-a3f8.2")
	if !ok || parent != "kbs-a3f8" || n != 2 {
		t.Fatalf("unexpected parse result: %q %d %v", parent, n, ok)
	}
	if RootParentID("kbs-a3f8.1.2") != "kbs-a3f8" {
		t.Fatalf("expected root parent kbs-a3f8")
	}
}

func TestNextChildNumber(t *testing.T) {
	existing := map[string]bool{
		"kbs-epic.1":   true,
		"kbs-epic.2":   true,
		"kbs-epic.2.1": true,
	}
	if got := NextChildNumber("kbs-epic", existing); got != 3 {
		t.Fatalf("expected next child number 3, got %d", got)
	}
}

func TestBeadsSlugIsThreeChars(t *testing.T) {
	slug, err := BeadsSlug("bdx", map[string]bool{})
	if err != nil {
		t.Fatalf("beads slug: %v", err)
	}
	if len(slug) != len("bdx-")+3 {
		t.Fatalf("expected 3-char slug body, got %q", slug)
	}
}
