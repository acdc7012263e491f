// Package idgen produces issue identifiers for both native Kanbus
// storage (<prefix>-<uuid4>, collision-retried) and Beads-compatible
// storage (<prefix>-<3-char slug> or <parent>.<n+1>). The hierarchical
// helpers below are kept from dcosson-beads-lite's
// internal/storage/storage.go (IsHierarchicalID, ChildID,
// ParseHierarchicalID, RootParentID) — the native random-ID scheme
// itself is replaced, since the teacher's adaptive base36 length
// scheme has no place here: spec.md fixes the native shape to a uuid4
// body.
package idgen

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"unicode"

	"kanbus/internal/kenv"
	"kanbus/internal/kerrors"
)

// MaxCollisionRetries is the number of times native ID generation
// retries on a collision with an existing id before giving up.
const MaxCollisionRetries = 10

// FormatKey produces a native "<prefix>-<uuid4>" id, retrying up to
// MaxCollisionRetries times if the candidate collides with an id in
// existing. title is accepted for parity with the conceptual contract
// in §4.D (a future hash-based scheme could derive from it) but the
// uuid4 body does not depend on it.
func FormatKey(env *kenv.Environment, title, prefix string, existing map[string]bool) (string, error) {
	for attempt := 0; attempt < MaxCollisionRetries; attempt++ {
		candidate := prefix + "-" + env.NewUUID()
		if !existing[candidate] {
			return candidate, nil
		}
	}
	return "", kerrors.New(kerrors.InternalError, "id generation: %d consecutive collisions for prefix %q", MaxCollisionRetries, prefix)
}

// DisplayID truncates a native "<prefix>-<uuid4>" id's uuid body to its
// first 6 hex characters for compact display, optionally prefixed by
// projectKey when rendering a multi-project listing. The prefix/uuid
// boundary is the FIRST dash in id, not the last: a uuid4 body itself
// contains dashes at fixed positions, so LastIndex would find one of
// those instead of the prefix separator.
func DisplayID(id string, projectKey string) string {
	dash := strings.Index(id, "-")
	short := id
	if dash >= 0 && dash+1+6 <= len(id) {
		short = id[:dash+1+6]
	}
	if projectKey == "" {
		return short
	}
	return projectKey + ":" + short
}

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// BeadsSlug generates a 3-character base36 slug for a root (parentless)
// Beads-mode issue, retrying on collision with existing.
func BeadsSlug(prefix string, existing map[string]bool) (string, error) {
	for attempt := 0; attempt < MaxCollisionRetries; attempt++ {
		slug, err := randomBase36(3)
		if err != nil {
			return "", kerrors.Wrap(kerrors.InternalError, err, "generating beads slug")
		}
		candidate := prefix + "-" + slug
		if !existing[candidate] {
			return candidate, nil
		}
	}
	return "", kerrors.New(kerrors.InternalError, "beads slug generation: %d consecutive collisions for prefix %q", MaxCollisionRetries, prefix)
}

func randomBase36(length int) (string, error) {
	mod := new(big.Int).Exp(big.NewInt(36), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, mod)
	if err != nil {
		return "", err
	}
	encoded := n.Text(36)
	for len(encoded) < length {
		encoded = "0" + encoded
	}
	return encoded, nil
}

// --- Hierarchical ID helpers, kept from the teacher verbatim in
// behavior (internal/storage/storage.go) since Beads-mode child
// numbering uses exactly this dot-notation scheme. ---

// IsHierarchicalID reports whether id is a hierarchical child id: it
// contains a dot and the suffix after the last dot is purely numeric.
func IsHierarchicalID(id string) bool {
	dot := strings.LastIndex(id, ".")
	if dot < 0 || dot == len(id)-1 {
		return false
	}
	suffix := id[dot+1:]
	for _, r := range suffix {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// ChildID returns the composite child id given a parent id and child number.
func ChildID(parentID string, childNum int) string {
	return fmt.Sprintf("%s.%d", parentID, childNum)
}

// ParseHierarchicalID splits a hierarchical id into its immediate
// parent and child number.
func ParseHierarchicalID(id string) (parentID string, childNum int, ok bool) {
	if !IsHierarchicalID(id) {
		return "", 0, false
	}
	dot := strings.LastIndex(id, ".")
	parentID = id[:dot]
	childNum, _ = strconv.Atoi(id[dot+1:])
	return parentID, childNum, true
}

// RootParentID returns the root parent portion of a (possibly
// hierarchical) id.
func RootParentID(id string) string {
	dot := strings.Index(id, ".")
	if dot < 0 {
		return id
	}
	return id[:dot]
}

// NextChildNumber returns the next child number for parentID given the
// full set of existing ids, by scanning for the maximum numeric suffix
// among parentID's direct children.
func NextChildNumber(parentID string, existing map[string]bool) int {
	max := 0
	prefix := parentID + "."
	for id := range existing {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		rest := id[len(prefix):]
		if strings.Contains(rest, ".") {
			continue // not a direct child
		}
		if n, err := strconv.Atoi(rest); err == nil && n > max {
			max = n
		}
	}
	return max + 1
}

// BeadsChildID generates the next hierarchical child id for parentID.
func BeadsChildID(parentID string, existing map[string]bool) string {
	return ChildID(parentID, NextChildNumber(parentID, existing))
}
