// Command teleportation-hook implements the five lifecycle hooks the
// assistant invokes synchronously (spec.md §4.10). Every subcommand reads
// JSON from stdin, writes JSON to stdout, and exits zero regardless of
// internal errors — those are logged to the hook log file instead.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dundas/teleportation/internal/hook"
	"github.com/dundas/teleportation/internal/logging"
	"github.com/dundas/teleportation/internal/relay"
)

var (
	stateDir      string
	daemonPort    int
	relayAPIURL   string
	relayAPIKey   string
	daemonBinPath string
)

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".teleportation"
	}
	return filepath.Join(home, ".teleportation")
}

func main() {
	root := &cobra.Command{
		Use:           "teleportation-hook",
		Short:         "Assistant lifecycle hook dispatcher",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&stateDir, "state-dir", defaultStateDir(), "daemon state directory")
	root.PersistentFlags().IntVar(&daemonPort, "daemon-port", 3050, "daemon control port")
	root.PersistentFlags().StringVar(&relayAPIURL, "relay-api-url", os.Getenv("RELAY_API_URL"), "relay base URL")
	root.PersistentFlags().StringVar(&relayAPIKey, "relay-api-key", os.Getenv("RELAY_API_KEY"), "relay bearer secret")
	root.PersistentFlags().StringVar(&daemonBinPath, "daemon-bin", "teleportationd", "path to the daemon binary, for session-start auto-launch")

	root.AddCommand(
		sessionStartCmd(),
		preToolUseCmd(),
		permissionRequestCmd(),
		postToolUseCmd(),
		sessionEndCmd(),
	)

	// Every hook exits zero no matter what: internal errors are logged, not
	// surfaced as process failure (spec.md §4.10).
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}

func buildEnv() (hook.Env, func() error) {
	logPath := os.Getenv("TELEPORTATION_HOOK_LOG")
	if logPath == "" {
		logPath = filepath.Join(stateDir, "hook.log")
	}
	log, closeLog, err := logging.New(logPath, "hook")
	if err != nil {
		// Fall back to a disabled logger; the hook must never fail to run
		// over a logging problem.
		log = zerolog.Nop()
		closeLog = func() error { return nil }
	}
	client := relay.NewClient(relayAPIURL, relayAPIKey)
	env := hook.Env{
		DaemonBaseURL: fmt.Sprintf("http://127.0.0.1:%d", daemonPort),
		Relay:         client,
		Log:           log,
		HTTPTimeout:   hook.DefaultHTTPTimeout,
	}
	return env, closeLog
}

func markerDir() string {
	return filepath.Join(stateDir, "session-markers")
}

func sessionStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:  "session-start",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, closeLog := buildEnv()
			defer closeLog()
			in := hook.ReadInput(os.Stdin)
			launch := func() error {
				return launchDaemon(daemonBinPath, stateDir)
			}
			out := hook.SessionStart(cmd.Context(), env, in, markerDir(), launch)
			hook.WriteOutput(os.Stdout, out)
			return nil
		},
	}
}

func preToolUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:  "pre-tool-use",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, closeLog := buildEnv()
			defer closeLog()
			in := hook.ReadInput(os.Stdin)
			out := hook.PreToolUse(cmd.Context(), env, in, markerDir())
			hook.WriteOutput(os.Stdout, out)
			return nil
		},
	}
}

func permissionRequestCmd() *cobra.Command {
	return &cobra.Command{
		Use:  "permission-request",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, closeLog := buildEnv()
			defer closeLog()
			in := hook.ReadInput(os.Stdin)
			out := hook.PermissionRequest(cmd.Context(), env, in)
			hook.WriteOutput(os.Stdout, out)
			return nil
		},
	}
}

func postToolUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:  "post-tool-use",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, closeLog := buildEnv()
			defer closeLog()
			in := hook.ReadInput(os.Stdin)
			out := hook.PostToolUse(cmd.Context(), env, in)
			hook.WriteOutput(os.Stdout, out)
			return nil
		},
	}
}

func sessionEndCmd() *cobra.Command {
	return &cobra.Command{
		Use:  "session-end",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, closeLog := buildEnv()
			defer closeLog()
			in := hook.ReadInput(os.Stdin)
			pidFile := filepath.Join(stateDir, "helpers", in.SessionID+".pid")
			out := hook.SessionEnd(cmd.Context(), env, in, pidFile)
			hook.WriteOutput(os.Stdout, out)
			return nil
		},
	}
}

// launchDaemon starts "<bin> start" and does not wait for it; the daemon
// runs in the foreground of that child process, and its PID lock keeps a
// second copy from running, so the hook only needs to kick it off and move on.
func launchDaemon(bin, stateDir string) error {
	c := exec.Command(bin, "start", "--state-dir", stateDir)
	c.Stdout = nil
	c.Stderr = nil
	c.Stdin = nil
	return c.Start()
}
