package workflow

import (
	"testing"
	"time"

	"kanbus/internal/kconfig"
	"kanbus/internal/kerrors"
	"kanbus/internal/kissue"
)

func testConfig() kconfig.Configuration {
	cfg := kconfig.Default()
	cfg.Workflows["bug"] = kconfig.Workflow{
		"open":        {"in_progress", "closed"},
		"in_progress": {"closed"},
		"closed":      {"open"},
	}
	return cfg
}

func TestWorkflowForFallsBackToDefault(t *testing.T) {
	cfg := testConfig()
	wf := WorkflowFor(cfg, "task")
	if wf["open"] == nil {
		t.Fatalf("expected default workflow for unconfigured type")
	}
}

func TestWorkflowForTypeSpecific(t *testing.T) {
	cfg := testConfig()
	wf := WorkflowFor(cfg, "bug")
	if len(wf["open"]) != 2 {
		t.Fatalf("expected bug-specific workflow to be used")
	}
}

func TestValidateTransitionAllowed(t *testing.T) {
	cfg := testConfig()
	if err := ValidateTransition(cfg, "bug", "open", "closed"); err != nil {
		t.Fatalf("expected allowed transition, got %v", err)
	}
}

func TestValidateTransitionDisallowed(t *testing.T) {
	cfg := testConfig()
	err := ValidateTransition(cfg, "bug", "closed", "in_progress")
	if !kerrors.Is(err, kerrors.InvalidTransition) {
		t.Fatalf("expected InvalidTransition error, got %v", err)
	}
}

func TestApplySideEffectsSetsClosedAt(t *testing.T) {
	issue := &kissue.Issue{Status: "open"}
	now := time.Now().UTC()
	ApplySideEffects(issue, "closed", now)
	if issue.ClosedAt == nil || !issue.ClosedAt.Equal(now) {
		t.Fatalf("expected closed_at to be set to now")
	}
}

func TestApplySideEffectsClearsClosedAt(t *testing.T) {
	prior := time.Now().UTC()
	issue := &kissue.Issue{Status: "closed", ClosedAt: &prior}
	ApplySideEffects(issue, "open", time.Now().UTC())
	if issue.ClosedAt != nil {
		t.Fatalf("expected closed_at to be cleared on reopen")
	}
}
