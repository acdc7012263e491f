package kconfig

import (
	"strings"

	"kanbus/internal/kerrors"
)

// colorPalette is the fixed set of colors status/priority definitions
// may use. Grounded on the teacher's own validate.go, which checks
// color fields against a small fixed set rather than accepting
// arbitrary strings.
var colorPalette = map[string]bool{
	"red": true, "orange": true, "yellow": true, "green": true,
	"blue": true, "purple": true, "gray": true, "grey": true,
	"pink": true, "cyan": true,
}

// Validate checks cfg against every invariant in §4.B, returning the
// first violation found as a ConfigurationInvalid-kind error.
func Validate(cfg Configuration) error {
	if strings.TrimSpace(cfg.ProjectDirectory) == "" {
		return kerrors.New(kerrors.ConfigurationInvalid, "project_directory must not be empty")
	}
	if len(cfg.Hierarchy) == 0 {
		return kerrors.New(kerrors.ConfigurationInvalid, "hierarchy must not be empty")
	}
	if len(cfg.Statuses) == 0 {
		return kerrors.New(kerrors.ConfigurationInvalid, "statuses must not be empty")
	}
	if len(cfg.Categories) == 0 {
		return kerrors.New(kerrors.ConfigurationInvalid, "categories must not be empty")
	}

	if err := validateNoDuplicates(cfg); err != nil {
		return err
	}

	if _, ok := cfg.Workflows["default"]; !ok {
		return kerrors.New(kerrors.ConfigurationInvalid, "workflows must declare a %q entry", "default")
	}

	if _, ok := cfg.Priorities[cfg.DefaultPriority]; !ok {
		return kerrors.New(kerrors.ConfigurationInvalid, "default_priority %d is not a key of priorities", cfg.DefaultPriority)
	}

	statusKeys := map[string]bool{}
	categorySet := map[string]bool{}
	for _, c := range cfg.Categories {
		categorySet[c] = true
	}
	for _, s := range cfg.Statuses {
		statusKeys[s.Key] = true
		if !categorySet[s.Category] {
			return kerrors.New(kerrors.ConfigurationInvalid, "status %q has undeclared category %q", s.Key, s.Category)
		}
		if s.Color != "" && !colorPalette[s.Color] {
			return kerrors.New(kerrors.ConfigurationInvalid, "status %q has unsupported color %q", s.Key, s.Color)
		}
	}
	for _, p := range cfg.Priorities {
		if p.Color != "" && !colorPalette[p.Color] {
			return kerrors.New(kerrors.ConfigurationInvalid, "priority %q has unsupported color %q", p.Name, p.Color)
		}
	}

	if !statusKeys[cfg.InitialStatus] {
		return kerrors.New(kerrors.ConfigurationInvalid, "initial_status %q is not a declared status", cfg.InitialStatus)
	}

	edges := map[string]bool{}
	for issueType, wf := range cfg.Workflows {
		for from, tos := range wf {
			if !statusKeys[from] {
				return kerrors.New(kerrors.ConfigurationInvalid, "workflow %q references undeclared from-status %q", issueType, from)
			}
			for _, to := range tos {
				if !statusKeys[to] {
					return kerrors.New(kerrors.ConfigurationInvalid, "workflow %q references undeclared to-status %q", issueType, to)
				}
				edges[TransitionLabelKey(issueType, from, to)] = true
			}
		}
	}

	for key := range edges {
		if _, ok := cfg.TransitionLabels[key]; !ok {
			return kerrors.New(kerrors.ConfigurationInvalid, "transition_labels missing entry for %q", key)
		}
	}
	for key := range cfg.TransitionLabels {
		if !edges[key] {
			return kerrors.New(kerrors.ConfigurationInvalid, "transition_labels has extra entry %q not present in any workflow", key)
		}
	}

	return nil
}

func validateNoDuplicates(cfg Configuration) error {
	seenTypes := map[string]bool{}
	for _, t := range cfg.Hierarchy {
		if seenTypes[t] {
			return kerrors.New(kerrors.ConfigurationInvalid, "duplicate hierarchy/type key %q", t)
		}
		seenTypes[t] = true
	}
	for _, t := range cfg.Types {
		if seenTypes[t] {
			return kerrors.New(kerrors.ConfigurationInvalid, "duplicate hierarchy/type key %q", t)
		}
		seenTypes[t] = true
	}

	seenStatus := map[string]bool{}
	for _, s := range cfg.Statuses {
		if seenStatus[s.Key] {
			return kerrors.New(kerrors.ConfigurationInvalid, "duplicate status key %q", s.Key)
		}
		seenStatus[s.Key] = true
	}

	seenCategory := map[string]bool{}
	for _, c := range cfg.Categories {
		if seenCategory[c] {
			return kerrors.New(kerrors.ConfigurationInvalid, "duplicate category %q", c)
		}
		seenCategory[c] = true
	}

	return nil
}

// IsHierarchyType reports whether t is one of the ordered hierarchy levels.
func (cfg Configuration) IsHierarchyType(t string) bool {
	for _, h := range cfg.Hierarchy {
		if h == t {
			return true
		}
	}
	return false
}

// IsKnownType reports whether t is declared in hierarchy or types.
func (cfg Configuration) IsKnownType(t string) bool {
	return cfg.IsHierarchyType(t) || containsStr(cfg.Types, t)
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
