// Package kconfig loads, merges, and validates .kanbus.yml. Grounded on
// dcosson-beads-lite's internal/config package (Default/Load/Write
// shape via gopkg.in/yaml.v3), generalized from beads-lite's flat
// Config struct to spec.md's richer, workflow/hierarchy-aware
// Configuration document. The teacher's parallel flat key-value Store
// abstraction (internal/config/store.go, yamlstore/) has no analog
// here — Configuration is a single structured document, not a bag of
// scalar settings.
package kconfig

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"kanbus/internal/kerrors"
)

// PriorityDef names and colors one priority level.
type PriorityDef struct {
	Name  string `yaml:"name"`
	Color string `yaml:"color"`
}

// StatusDef declares one status value available to workflows.
type StatusDef struct {
	Key       string `yaml:"key"`
	Name      string `yaml:"name"`
	Category  string `yaml:"category"`
	Color     string `yaml:"color,omitempty"`
	Collapsed bool   `yaml:"collapsed,omitempty"`
}

// VirtualProject is an additional project directory contributed by
// configuration under a distinct label.
type VirtualProject struct {
	Path string `yaml:"path"`
}

// Workflow maps a from-status to the set of statuses reachable from it.
type Workflow map[string][]string

// Configuration is the decoded shape of .kanbus.yml.
type Configuration struct {
	ProjectDirectory   string                    `yaml:"project_directory"`
	ProjectKey         string                    `yaml:"project_key"`
	Hierarchy          []string                  `yaml:"hierarchy"`
	Types              []string                  `yaml:"types"`
	Workflows          map[string]Workflow       `yaml:"workflows"`
	InitialStatus      string                    `yaml:"initial_status"`
	Priorities         map[int]PriorityDef       `yaml:"priorities"`
	DefaultPriority    int                       `yaml:"default_priority"`
	Statuses           []StatusDef               `yaml:"statuses"`
	Categories         []string                  `yaml:"categories"`
	TransitionLabels   map[string]string         `yaml:"transition_labels"`
	VirtualProjects    map[string]VirtualProject  `yaml:"virtual_projects"`
	IgnorePaths        []string                   `yaml:"ignore_paths"`
	Assignee           string                     `yaml:"assignee,omitempty"`
	TimeZone           string                     `yaml:"time_zone,omitempty"`
	BeadsCompatibility bool                       `yaml:"beads_compatibility,omitempty"`
}

// TransitionLabelKey builds the transition_labels key for one workflow
// edge. The shape (type|from|to) is this implementation's own choice —
// spec.md leaves the exact key format unstated; qualifying by issue
// type avoids collisions when two types reuse the same status names
// with different meanings.
func TransitionLabelKey(issueType, from, to string) string {
	return issueType + "|" + from + "|" + to
}

// Default returns the built-in default configuration, modeled on the
// teacher's own Default() (project name, id prefix, default
// priority/type) but expanded to the full workflow/hierarchy shape.
func Default() Configuration {
	cfg := Configuration{
		ProjectDirectory: "project",
		ProjectKey:       "kbs",
		Hierarchy:        []string{"initiative", "epic", "task", "sub-task"},
		Types:            []string{"bug", "chore"},
		Workflows: map[string]Workflow{
			"default": {
				"open":        {"in_progress", "closed"},
				"in_progress": {"open", "blocked", "closed"},
				"blocked":     {"in_progress", "open"},
				"closed":      {},
			},
		},
		InitialStatus: "open",
		Priorities: map[int]PriorityDef{
			0: {Name: "critical", Color: "red"},
			1: {Name: "high", Color: "orange"},
			2: {Name: "medium", Color: "yellow"},
			3: {Name: "low", Color: "blue"},
		},
		DefaultPriority: 2,
		Statuses: []StatusDef{
			{Key: "open", Name: "Open", Category: "todo"},
			{Key: "in_progress", Name: "In Progress", Category: "doing"},
			{Key: "blocked", Name: "Blocked", Category: "doing"},
			{Key: "closed", Name: "Closed", Category: "done"},
		},
		Categories:       []string{"todo", "doing", "done"},
		VirtualProjects:  map[string]VirtualProject{},
		IgnorePaths:      []string{},
	}
	cfg.TransitionLabels = defaultTransitionLabels(cfg.Workflows["default"])
	return cfg
}

func defaultTransitionLabels(wf Workflow) map[string]string {
	labels := map[string]string{}
	for from, tos := range wf {
		for _, to := range tos {
			labels[TransitionLabelKey("default", from, to)] = fmt.Sprintf("%s → %s", from, to)
		}
	}
	return labels
}

// Load reads .kanbus.yml at path, shallow-merges .kanbus.override.yml
// from the same directory if present, validates the result, and
// returns the merged Configuration. Unknown top-level fields in either
// file are rejected with UnknownConfigurationFields.
func Load(path, overridePath string) (Configuration, error) {
	cfg := Default()

	primary, err := decodeStrict(path)
	if err != nil {
		return Configuration{}, err
	}
	if primary != nil {
		mergeInto(&cfg, primary)
	}

	if overridePath != "" {
		if _, statErr := os.Stat(overridePath); statErr == nil {
			override, err := decodeStrict(overridePath)
			if err != nil {
				return Configuration{}, err
			}
			if override != nil {
				mergeInto(&cfg, override)
			}
		}
	}

	if err := Validate(cfg); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}

// decodeStrict parses a YAML document into a generic map first, so
// unknown top-level keys can be reported by name, then decodes the
// known-good map into a Configuration via yaml.v3's KnownFields mode.
func decodeStrict(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, kerrors.Wrap(kerrors.ConfigurationInvalid, err, "reading %s", path)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return &Configuration{}, nil
	}

	var generic map[string]any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, kerrors.Wrap(kerrors.ConfigurationInvalid, err, "parsing %s", path)
	}
	if generic == nil {
		return &Configuration{}, nil
	}

	if unknown := unknownTopLevelKeys(generic); len(unknown) > 0 {
		return nil, kerrors.New(kerrors.UnknownConfigurationFields,
			"%s: unrecognized fields: %s", path, strings.Join(unknown, ", "))
	}

	var cfg Configuration
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, kerrors.Wrap(kerrors.ConfigurationInvalid, err, "decoding %s", path)
	}
	return &cfg, nil
}

var knownTopLevelFields = map[string]bool{
	"project_directory": true, "project_key": true, "hierarchy": true,
	"types": true, "workflows": true, "initial_status": true,
	"priorities": true, "default_priority": true, "statuses": true,
	"categories": true, "transition_labels": true, "virtual_projects": true,
	"ignore_paths": true, "assignee": true, "time_zone": true,
	"beads_compatibility": true,
}

func unknownTopLevelKeys(m map[string]any) []string {
	var unknown []string
	for k := range m {
		if !knownTopLevelFields[k] {
			unknown = append(unknown, k)
		}
	}
	return unknown
}

// mergeInto shallow-merges overlay's non-zero fields into base,
// mirroring the teacher's own mergeConfig — but field-for-field
// against Configuration's larger shape. Slices/maps replace wholesale
// when present in the overlay (shallow merge).
func mergeInto(base *Configuration, overlay *Configuration) {
	if overlay.ProjectDirectory != "" {
		base.ProjectDirectory = overlay.ProjectDirectory
	}
	if overlay.ProjectKey != "" {
		base.ProjectKey = overlay.ProjectKey
	}
	if len(overlay.Hierarchy) > 0 {
		base.Hierarchy = overlay.Hierarchy
	}
	if len(overlay.Types) > 0 {
		base.Types = overlay.Types
	}
	if len(overlay.Workflows) > 0 {
		base.Workflows = overlay.Workflows
	}
	if overlay.InitialStatus != "" {
		base.InitialStatus = overlay.InitialStatus
	}
	if len(overlay.Priorities) > 0 {
		base.Priorities = overlay.Priorities
	}
	if overlay.DefaultPriority != 0 {
		base.DefaultPriority = overlay.DefaultPriority
	}
	if len(overlay.Statuses) > 0 {
		base.Statuses = overlay.Statuses
	}
	if len(overlay.Categories) > 0 {
		base.Categories = overlay.Categories
	}
	if len(overlay.TransitionLabels) > 0 {
		base.TransitionLabels = overlay.TransitionLabels
	}
	if len(overlay.VirtualProjects) > 0 {
		base.VirtualProjects = overlay.VirtualProjects
	}
	if len(overlay.IgnorePaths) > 0 {
		base.IgnorePaths = overlay.IgnorePaths
	}
	if overlay.Assignee != "" {
		base.Assignee = overlay.Assignee
	}
	if overlay.TimeZone != "" {
		base.TimeZone = overlay.TimeZone
	}
	if overlay.BeadsCompatibility {
		base.BeadsCompatibility = overlay.BeadsCompatibility
	}
}

// Write serializes cfg to path as YAML, matching the teacher's own
// Write helper.
func Write(path string, cfg Configuration) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return kerrors.Wrap(kerrors.ConfigurationInvalid, err, "encoding configuration")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return kerrors.Wrap(kerrors.ConfigurationInvalid, err, "writing %s", path)
	}
	return nil
}
