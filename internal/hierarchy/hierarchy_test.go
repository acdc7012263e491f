package hierarchy

import (
	"testing"

	"kanbus/internal/kconfig"
	"kanbus/internal/kerrors"
)

func testConfig() kconfig.Configuration {
	cfg := kconfig.Default()
	cfg.Hierarchy = []string{"initiative", "epic", "task", "sub-task"}
	cfg.Types = []string{"bug", "chore"}
	return cfg
}

func TestAllowedChildrenMiddleRung(t *testing.T) {
	cfg := testConfig()
	allowed := AllowedChildren(cfg, "epic")
	if !allowed["task"] {
		t.Errorf("expected task to be an allowed child of epic")
	}
	if !allowed["bug"] || !allowed["chore"] {
		t.Errorf("expected free-standing types to always be allowed children")
	}
	if allowed["initiative"] {
		t.Errorf("did not expect initiative to be an allowed child of epic")
	}
}

func TestAllowedChildrenLastRung(t *testing.T) {
	cfg := testConfig()
	allowed := AllowedChildren(cfg, "sub-task")
	if len(allowed) != 0 {
		t.Errorf("expected no allowed children for the last hierarchy rung, got %v", allowed)
	}
}

func TestAllowedChildrenUnknownParentType(t *testing.T) {
	cfg := testConfig()
	allowed := AllowedChildren(cfg, "bug")
	if len(allowed) != 0 {
		t.Errorf("expected no allowed children for a free-standing type, got %v", allowed)
	}
}

func TestValidateRejectsDisallowedChild(t *testing.T) {
	cfg := testConfig()
	err := Validate(cfg, "sub-task", "task")
	if !kerrors.Is(err, kerrors.InvalidHierarchy) {
		t.Fatalf("expected InvalidHierarchy, got %v", err)
	}
}

func TestValidateAcceptsAllowedChild(t *testing.T) {
	cfg := testConfig()
	if err := Validate(cfg, "initiative", "epic"); err != nil {
		t.Fatalf("expected allowed child, got %v", err)
	}
}
