// Package daemon implements the warm-index unix-socket server and its
// client: a newline-delimited JSON request/response protocol over a
// per-root socket path. Transport idiom (net.Listen("unix", ...),
// net.DialTimeout, stale-socket detection via failed dial then unlink)
// is grounded on steveyegge-beads's internal/rpc/transport_unix.go and
// endpoint_unix.go; the envelope field names themselves follow
// spec.md's protocol exactly, not the teacher's own richer
// Request/Response struct (dcosson-beads-lite has no daemon at all —
// this is a new component for this domain). The accept loop is
// coordinated with golang.org/x/sync/errgroup; version compatibility
// is computed with golang.org/x/mod/semver against a synthesized
// "v<major>.<minor>.0" string; the client's respawn retry uses
// github.com/cenkalti/backoff/v4's constant backoff policy; the shared
// index is additionally refreshed on fsnotify write events against
// <project>/issues/ as a latency optimization layered over the mtime
// check that remains the correctness source of truth.
package daemon

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/mod/semver"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"kanbus/internal/kcache"
	"kanbus/internal/kerrors"
	"kanbus/internal/kindex"
)

// ProtocolVersion is this build's protocol_version string.
const ProtocolVersion = "1.0"

const (
	socketReadTimeout  = 2 * time.Second
	clientDialTimeout  = 2 * time.Second
	respawnMaxAttempts = 10
	respawnInterval    = 50 * time.Millisecond
)

// Request is one line of the client -> server protocol.
type Request struct {
	ProtocolVersion string          `json:"protocol_version"`
	RequestID       string          `json:"request_id"`
	Action          string          `json:"action"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// ResponseError is the error shape embedded in a Response.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Response is one line of the server -> client protocol.
type Response struct {
	ProtocolVersion string        `json:"protocol_version"`
	RequestID       string        `json:"request_id"`
	Status          string        `json:"status"` // "ok" | "error"
	Result          any           `json:"result,omitempty"`
	Error           *ResponseError `json:"error,omitempty"`
}

// SocketPath derives the per-root socket path: SHA-256 of the
// canonical root path, first 12 hex chars, as "<tmp>/kanbus-<hex>.sock".
func SocketPath(canonicalRoot string) string {
	sum := sha256.Sum256([]byte(canonicalRoot))
	hexDigest := hex.EncodeToString(sum[:])[:12]
	return filepath.Join(os.TempDir(), "kanbus-"+hexDigest+".sock")
}

// versionString turns a "major.minor" pair into the "vX.Y.0" form
// golang.org/x/mod/semver expects.
func versionString(protocolVersion string) string {
	return "v" + protocolVersion + ".0"
}

// CheckVersion applies the compatibility rule: client and daemon must
// share major; client's minor must be <= the daemon's.
func CheckVersion(clientVersion, daemonVersion string) error {
	cv, dv := versionString(clientVersion), versionString(daemonVersion)
	if !semver.IsValid(cv) || !semver.IsValid(dv) {
		return kerrors.New(kerrors.ProtocolVersionUnsupported, "malformed protocol version %q or %q", clientVersion, daemonVersion)
	}
	if semver.Major(cv) != semver.Major(dv) {
		return kerrors.New(kerrors.ProtocolVersionMismatch, "client major version %q does not match daemon %q", clientVersion, daemonVersion)
	}
	if semver.Compare(cv, dv) > 0 {
		return kerrors.New(kerrors.ProtocolVersionUnsupported, "client minor version %q is newer than daemon %q", clientVersion, daemonVersion)
	}
	return nil
}

// Server holds one root's warm index and serves requests over a unix
// socket.
type Server struct {
	Root      string
	IssuesDir string
	Cache     *kcache.Cache
	Logger    *slog.Logger

	idx      atomic.Pointer[kindex.Index]
	listener net.Listener
	stopCh   chan struct{}
}

// NewServer constructs a Server for root, wired to cache. Diagnostics
// go to a no-op logger until NewDiagnosticLogger's handler is assigned
// to Logger; a daemon has no attached terminal to print to directly.
func NewServer(root, issuesDir string, cache *kcache.Cache) *Server {
	return &Server{
		Root:      root,
		IssuesDir: issuesDir,
		Cache:     cache,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		stopCh:    make(chan struct{}),
	}
}

// NewDiagnosticLogger returns a JSON-lines slog.Logger writing to
// <root>/.kanbus/daemon.log, rotated by lumberjack at 10MB/5 backups
// so a long-lived daemon never grows its log file unbounded.
func NewDiagnosticLogger(root string) *slog.Logger {
	writer := &lumberjack.Logger{
		Filename:   filepath.Join(root, ".kanbus", "daemon.log"),
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     28,
	}
	return slog.New(slog.NewJSONHandler(writer, nil))
}

// Run opens the listener (deleting any pre-existing socket path
// first), warm-starts the index, then serves connections until
// shutdown is requested or the listener errors. Each connection is
// handled by its own errgroup-managed worker goroutine.
func (s *Server) Run(socketPath string) error {
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return kerrors.Wrap(kerrors.InternalError, err, "listening on %s", socketPath)
	}
	s.listener = listener
	defer listener.Close()
	s.Logger.Info("daemon listening", "socket", socketPath, "root", s.Root)

	idx, err := s.Cache.Load()
	if err != nil {
		return kerrors.Wrap(kerrors.InternalError, err, "warm start")
	}
	s.idx.Store(idx)

	stopWatch := s.watchForInvalidation()
	defer stopWatch()

	group, _ := errgroup.WithContext(context.Background())
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				s.Logger.Info("daemon shutting down", "socket", socketPath)
				return group.Wait()
			default:
				s.Logger.Error("accept failed", "error", err)
				return kerrors.Wrap(kerrors.InternalError, err, "accepting connection")
			}
		}
		group.Go(func() error {
			s.handleConn(conn)
			return nil
		})
	}
}

// watchForInvalidation starts an fsnotify watch on IssuesDir so the
// shared index is refreshed promptly on write events, layered as a
// latency optimization over the mtime check that remains the
// correctness source of truth (a watch that misses an event, or never
// starts because the platform lacks support, degrades gracefully to
// mtime-only validation).
func (s *Server) watchForInvalidation() func() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return func() {}
	}
	if err := watcher.Add(s.IssuesDir); err != nil {
		watcher.Close()
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		for {
			select {
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				if idx, err := s.Cache.Rebuild(); err == nil {
					s.idx.Store(idx)
				}
			case <-watcher.Errors:
				continue
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		watcher.Close()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(socketReadTimeout))

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		var req Request
		resp := Response{ProtocolVersion: ProtocolVersion}

		if err := json.Unmarshal(line, &req); err != nil {
			resp.Status = "error"
			resp.Error = &ResponseError{Code: string(kerrors.InternalError), Message: "malformed request payload"}
			writeResponse(conn, resp)
			continue
		}
		resp.RequestID = req.RequestID

		if err := CheckVersion(req.ProtocolVersion, ProtocolVersion); err != nil {
			resp.Status = "error"
			resp.Error = errorOf(err)
			writeResponse(conn, resp)
			continue
		}

		s.dispatch(req, &resp)
		writeResponse(conn, resp)

		if req.Action == "shutdown" {
			close(s.stopCh)
			s.listener.Close()
			return
		}
	}
}

func (s *Server) dispatch(req Request, resp *Response) {
	switch req.Action {
	case "ping":
		resp.Status = "ok"
		resp.Result = map[string]string{"status": "pong"}
	case "shutdown":
		resp.Status = "ok"
		resp.Result = map[string]string{"status": "stopping"}
	case "index.list":
		idx := s.idx.Load()
		if idx == nil {
			resp.Status = "error"
			resp.Error = &ResponseError{Code: string(kerrors.InternalError), Message: "index not yet warm"}
			return
		}
		resp.Status = "ok"
		resp.Result = map[string]any{"issues": idx.All()}
	default:
		resp.Status = "error"
		resp.Error = &ResponseError{Code: string(kerrors.UnknownAction), Message: "unknown action " + req.Action}
	}
}

func errorOf(err error) *ResponseError {
	if kerr, ok := err.(*kerrors.Error); ok {
		return &ResponseError{Code: string(kerr.Kind), Message: kerr.Message}
	}
	return &ResponseError{Code: string(kerrors.InternalError), Message: err.Error()}
}

func writeResponse(conn net.Conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	conn.Write(append(data, '\n'))
}

// Client talks to a running daemon, spawning and retrying against it
// as needed.
type Client struct {
	SocketPath string
	DaemonCmd  []string // argv used to spawn the daemon if unreachable
}

// NoDaemon reports whether the KANBUS_NO_DAEMON environment value
// disables daemon use: only "1", "true", "yes" (case-insensitive)
// disable it; every other value, including unset, means "not disabled".
func NoDaemon(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// Send delivers req to the daemon at c.SocketPath, spawning the daemon
// and retrying (constant 50ms backoff, 10 attempts) if the initial
// connection attempt fails. A pre-existing stale socket file is
// removed before respawn.
func (c *Client) Send(req Request) (*Response, error) {
	conn, err := c.dial()
	if err == nil {
		return c.roundTrip(conn, req)
	}

	os.Remove(c.SocketPath)
	if err := c.spawn(); err != nil {
		return nil, kerrors.Wrap(kerrors.DaemonConnectionFailed, err, "spawning daemon")
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(respawnInterval), respawnMaxAttempts)
	var retried net.Conn
	operation := func() error {
		dialed, dialErr := c.dial()
		if dialErr != nil {
			return dialErr
		}
		retried = dialed
		return nil
	}
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, kerrors.Wrap(kerrors.DaemonConnectionFailed, err, "connecting to daemon after respawn")
	}
	return c.roundTrip(retried, req)
}

func (c *Client) dial() (net.Conn, error) {
	return net.DialTimeout("unix", c.SocketPath, clientDialTimeout)
}

func (c *Client) spawn() error {
	if len(c.DaemonCmd) == 0 {
		return kerrors.New(kerrors.DaemonConnectionFailed, "no daemon command configured")
	}
	cmd := exec.Command(c.DaemonCmd[0], c.DaemonCmd[1:]...)
	return cmd.Start()
}

func (c *Client) roundTrip(conn net.Conn, req Request) (*Response, error) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(clientDialTimeout))

	req.ProtocolVersion = ProtocolVersion
	data, err := json.Marshal(req)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.InternalError, err, "marshaling request")
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return nil, kerrors.Wrap(kerrors.DaemonConnectionFailed, err, "writing request")
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, kerrors.Wrap(kerrors.DaemonConnectionFailed, err, "reading response")
		}
		return nil, kerrors.New(kerrors.EmptyDaemonResponse, "daemon closed the connection without a response")
	}

	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, kerrors.Wrap(kerrors.InternalError, err, "decoding response")
	}
	return &resp, nil
}
