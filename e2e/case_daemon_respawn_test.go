package e2e

import (
	"path/filepath"
	"testing"
	"time"

	"kanbus/internal/daemon"
	"kanbus/internal/kcache"
)

// TestDaemonUnreachableWithoutRespawnCommandFails covers the failure
// side of the fourth literal scenario: a client pointed at a socket
// path with no listener behind it, and no daemon command configured to
// respawn one, must fail with a daemon connection error rather than
// hang. A successful respawn is not exercised here.
func TestDaemonUnreachableWithoutRespawnCommandFails(t *testing.T) {
	dir := t.TempDir()
	socketPath := daemon.SocketPath(dir)

	client := &daemon.Client{SocketPath: socketPath}
	_, err := client.Send(daemon.Request{Action: "ping", RequestID: "1"})
	if err == nil {
		t.Fatalf("expected connection failure with no daemon and no respawn command")
	}
}

// TestDaemonServesPingAndShutdown runs a real in-process server and
// confirms ping and shutdown round-trip correctly, and that the
// listener is gone once shutdown completes.
func TestDaemonServesPingAndShutdown(t *testing.T) {
	h := New(t.TempDir())
	if err := h.Init(false); err != nil {
		t.Fatalf("init: %v", err)
	}
	_, project, err := h.project()
	if err != nil {
		t.Fatalf("project: %v", err)
	}

	issuesDir := filepath.Join(project.Path, "issues")
	cache := kcache.New(project.Path, issuesDir)
	server := daemon.NewServer(project.Path, issuesDir, cache)
	socketPath := daemon.SocketPath(project.Path)

	done := make(chan error, 1)
	go func() { done <- server.Run(socketPath) }()
	time.Sleep(50 * time.Millisecond)

	client := &daemon.Client{SocketPath: socketPath}
	resp, err := client.Send(daemon.Request{Action: "ping", RequestID: "1"})
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("expected ok status, got %q", resp.Status)
	}

	if _, err := client.Send(daemon.Request{Action: "shutdown", RequestID: "2"}); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server.Run returned error after shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not stop after shutdown request")
	}
}
