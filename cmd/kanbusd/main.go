// kanbusd is the daemon-lifecycle binary: it starts, stops, and
// reports on the warm-index background process internal/daemon
// implements. It deliberately does not expose issue CRUD — the
// argument-parsing surface for that is out of scope here — grounded on
// dcosson-beads-lite's cmd/main.go + internal/cmd/root.go
// (AppProvider-style lazy setup, cobra root-command wiring), scoped
// down to the three daemon-lifecycle verbs relevant to this domain.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"kanbus/internal/daemon"
	"kanbus/internal/discovery"
	"kanbus/internal/kcache"
)

// Version is overridable at build time via
// -ldflags "-X main.Version=1.2.3".
var Version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kanbusd",
		Short:         "Lifecycle control for the kanbus warm-index daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newStopCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func resolveProject(projectFlag string) (*discovery.Root, discovery.ProjectDir, error) {
	start := "."
	if projectFlag != "" {
		root, err := discovery.Discover(start)
		if err != nil {
			return nil, discovery.ProjectDir{}, err
		}
		for _, p := range root.Projects {
			if p.Label == projectFlag {
				return root, p, nil
			}
		}
		return nil, discovery.ProjectDir{}, fmt.Errorf("no project labeled %q", projectFlag)
	}
	return discovery.LoadSingle(start)
}

func newServeCmd() *cobra.Command {
	var projectFlag string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the warm-index daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, project, err := resolveProject(projectFlag)
			if err != nil {
				return err
			}
			issuesDir := filepath.Join(project.Path, "issues")
			cache := kcache.New(project.Path, issuesDir)
			server := daemon.NewServer(root.RepoRoot, issuesDir, cache)
			server.Logger = daemon.NewDiagnosticLogger(root.RepoRoot)
			socketPath := daemon.SocketPath(project.Path)
			fmt.Fprintf(cmd.OutOrStdout(), "kanbusd listening on %s\n", socketPath)
			return server.Run(socketPath)
		},
	}
	cmd.Flags().StringVar(&projectFlag, "project", "", "project label to serve (default: the sole project)")
	return cmd
}

func newStopCmd() *cobra.Command {
	var projectFlag string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Ask a running daemon to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, project, err := resolveProject(projectFlag)
			if err != nil {
				return err
			}
			client := &daemon.Client{SocketPath: daemon.SocketPath(project.Path)}
			resp, err := client.Send(daemon.Request{
				RequestID: "stop",
				Action:    "shutdown",
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", resp.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectFlag, "project", "", "project label to stop (default: the sole project)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var projectFlag string
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether a daemon is reachable for this project",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, project, err := resolveProject(projectFlag)
			if err != nil {
				return err
			}
			socketPath := daemon.SocketPath(project.Path)
			client := &daemon.Client{SocketPath: socketPath}
			start := time.Now()
			resp, err := client.Send(daemon.Request{RequestID: "status", Action: "ping"})
			reachable := err == nil && resp.Status == "ok"

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"socket_path": socketPath,
					"reachable":   reachable,
					"latency_ms":  time.Since(start).Milliseconds(),
				})
			}
			if reachable {
				fmt.Fprintf(cmd.OutOrStdout(), "daemon reachable at %s\n", socketPath)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "daemon not reachable at %s\n", socketPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectFlag, "project", "", "project label to check (default: the sole project)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "kanbusd version %s (protocol %s)\n", Version, daemon.ProtocolVersion)
			return nil
		},
	}
}
