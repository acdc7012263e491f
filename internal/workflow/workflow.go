// Package workflow resolves and validates per-issue-type status
// workflows and applies the closed_at side effect of a transition. New
// component — dcosson-beads-lite has no configurable workflow concept
// (status is a free-form string) — grounded on kconfig.Configuration's
// Workflows map and validated against the same "default" fallback rule
// kconfig.Validate already enforces at load time.
package workflow

import (
	"time"

	"kanbus/internal/kconfig"
	"kanbus/internal/kerrors"
	"kanbus/internal/kissue"
)

// WorkflowFor returns the workflow that applies to issueType: the
// type-specific workflow if one is defined, else the "default"
// workflow.
func WorkflowFor(cfg kconfig.Configuration, issueType string) kconfig.Workflow {
	if wf, ok := cfg.Workflows[issueType]; ok {
		return wf
	}
	return cfg.Workflows["default"]
}

// ValidateTransition requires that to is among the statuses reachable
// from from in issueType's workflow, raising InvalidTransition
// otherwise.
func ValidateTransition(cfg kconfig.Configuration, issueType, from, to string) error {
	wf := WorkflowFor(cfg, issueType)
	for _, candidate := range wf[from] {
		if candidate == to {
			return nil
		}
	}
	return kerrors.New(kerrors.InvalidTransition, "cannot transition %q from %q to %q", issueType, from, to)
}

// ApplySideEffects mutates issue to reflect a transition to newStatus
// at time now: closed_at is set on entering "closed" and cleared on
// leaving it.
func ApplySideEffects(issue *kissue.Issue, newStatus string, now time.Time) {
	wasClosed := issue.Status == "closed"
	issue.Status = newStatus
	switch {
	case newStatus == "closed":
		t := now
		issue.ClosedAt = &t
	case wasClosed && newStatus != "closed":
		issue.ClosedAt = nil
	}
}
