// Package hierarchy validates parent/child issue-type relationships
// against the configured hierarchy chain plus free-standing types. New
// component — dcosson-beads-lite has no hierarchy concept beyond the
// dot-notation id scheme in internal/storage — grounded on
// kconfig.Configuration.Hierarchy/Types.
package hierarchy

import (
	"kanbus/internal/kconfig"
	"kanbus/internal/kerrors"
)

// AllowedChildren returns the set of issue types that may be a direct
// child of parentType: if parentType sits at position i in the
// hierarchy chain and is not the last rung, the next rung in the chain
// plus every free-standing type is allowed. Any other parentType
// (including the last rung, or a type outside the chain) allows no
// children.
func AllowedChildren(cfg kconfig.Configuration, parentType string) map[string]bool {
	allowed := map[string]bool{}
	for i, t := range cfg.Hierarchy {
		if t != parentType {
			continue
		}
		if i < len(cfg.Hierarchy)-1 {
			allowed[cfg.Hierarchy[i+1]] = true
			for _, ft := range cfg.Types {
				allowed[ft] = true
			}
		}
		break
	}
	return allowed
}

// Validate raises InvalidHierarchy when childType is not an allowed
// child of parentType.
func Validate(cfg kconfig.Configuration, parentType, childType string) error {
	if AllowedChildren(cfg, parentType)[childType] {
		return nil
	}
	return kerrors.New(kerrors.InvalidHierarchy, "issue type %q cannot be a child of %q", childType, parentType)
}
