package daemon

import (
	"path/filepath"
	"testing"
)

func TestSocketPathIsDeterministicAndBounded(t *testing.T) {
	a := SocketPath("/repo/one")
	b := SocketPath("/repo/one")
	c := SocketPath("/repo/two")

	if a != b {
		t.Fatalf("expected deterministic socket path for the same root")
	}
	if a == c {
		t.Fatalf("expected different roots to produce different socket paths")
	}
	base := filepath.Base(a)
	if len(base) != len("kanbus-")+12+len(".sock") {
		t.Fatalf("unexpected socket path shape: %s", base)
	}
}

func TestCheckVersionSameMajorMinorOK(t *testing.T) {
	if err := CheckVersion("1.0", "1.0"); err != nil {
		t.Fatalf("expected matching versions to be compatible: %v", err)
	}
	if err := CheckVersion("1.0", "1.2"); err != nil {
		t.Fatalf("expected client minor <= daemon minor to be compatible: %v", err)
	}
}

func TestCheckVersionMajorMismatch(t *testing.T) {
	if err := CheckVersion("2.0", "1.0"); err == nil {
		t.Fatalf("expected major version mismatch to be rejected")
	}
}

func TestCheckVersionClientNewerMinorRejected(t *testing.T) {
	if err := CheckVersion("1.5", "1.0"); err == nil {
		t.Fatalf("expected client minor newer than daemon to be rejected")
	}
}

func TestNoDaemonParsing(t *testing.T) {
	cases := map[string]bool{
		"1": true, "true": true, "TRUE": true, "yes": true, "Yes": true,
		"0": false, "false": false, "": false, "maybe": false,
	}
	for input, want := range cases {
		if got := NoDaemon(input); got != want {
			t.Errorf("NoDaemon(%q) = %v, want %v", input, got, want)
		}
	}
}
