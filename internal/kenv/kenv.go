// Package kenv bundles every ambient, non-deterministic capability the
// kanbus engine needs — environment variables, the clock, UUID
// generation, and subprocess spawning — behind one explicit struct.
// idgen.FormatKey takes its UUIDs from it, and the e2e harness carries
// one for that purpose; elsewhere the engine still calls the process
// globals directly (event and comment ids, the cache's build time, the
// daemon client's respawn, discovery's git lookup, termcolor's
// environment lookups). Tests inject a fake Environment where one is
// taken.
package kenv

import (
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"
)

// Environment is passed explicitly into the engine operations that
// take one (see the package doc for which do).
type Environment struct {
	Getenv func(key string) string
	Now    func() time.Time
	// NewUUID returns a fresh UUID string (lowercase, hyphenated). Tests
	// replace this with a deterministic sequence.
	NewUUID func() string
	// Spawn starts a detached subprocess given argv[0] and its args,
	// returning once the process has been started (not once it exits).
	Spawn func(name string, args ...string) error
}

// Real returns the production Environment, backed by the OS.
func Real() *Environment {
	return &Environment{
		Getenv: os.Getenv,
		Now:    func() time.Time { return time.Now().UTC() },
		NewUUID: func() string {
			return uuid.NewString()
		},
		Spawn: func(name string, args ...string) error {
			cmd := exec.Command(name, args...)
			cmd.Stdin = nil
			cmd.Stdout = nil
			cmd.Stderr = nil
			return cmd.Start()
		},
	}
}

// Sequence returns a fake Environment whose NewUUID replays the given
// ids in order, then panics once exhausted — for deterministic tests
// of ID collision-retry paths, generalizing the teacher's own
// replayable-sequence test hook.
func Sequence(ids []string, now time.Time) *Environment {
	i := 0
	return &Environment{
		Getenv: func(string) string { return "" },
		Now:    func() time.Time { return now },
		NewUUID: func() string {
			if i >= len(ids) {
				panic("kenv: uuid sequence exhausted")
			}
			id := ids[i]
			i++
			return id
		},
		Spawn: func(string, ...string) error { return nil },
	}
}
