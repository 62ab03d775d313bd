// Command teleportationd is the daemon entrypoint and operator CLI.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dundas/teleportation/internal/config"
	"github.com/dundas/teleportation/internal/daemon"
	"github.com/dundas/teleportation/internal/logging"
	"github.com/dundas/teleportation/internal/pidlock"
)

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".teleportation"
	}
	return filepath.Join(home, ".teleportation")
}

var stateDir string

func main() {
	root := &cobra.Command{
		Use:   "teleportationd",
		Short: "Teleportation daemon and operator CLI",
	}
	root.PersistentFlags().StringVar(&stateDir, "state-dir", defaultStateDir(), "directory for PID lock, logs, and config")

	root.AddCommand(startCmd(), statusCmd(), stopCmd(), doctorCmd(), loginCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(stateDir, 0o700); err != nil {
				return fmt.Errorf("creating state dir: %w", err)
			}

			cfg, err := config.Load(stateDir)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}

			log, closeLog, err := logging.New(filepath.Join(stateDir, "daemon.log"), "daemon")
			if err != nil {
				return fmt.Errorf("opening daemon log: %w", err)
			}
			defer closeLog()

			audit, closeAudit, err := logging.Audit(filepath.Join(stateDir, "audit.log"))
			if err != nil {
				return fmt.Errorf("opening audit log: %w", err)
			}
			defer closeAudit()

			d, err := daemon.New(cfg, log, audit)
			if err != nil {
				return fmt.Errorf("assembling daemon: %w", err)
			}

			return d.Run(cmd.Context())
		},
	}
}

func statusCmd() *cobra.Command {
	var port int
	c := &cobra.Command{
		Use:   "status",
		Short: "Query the daemon's health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(stateDir)
			if err == nil && port == 0 {
				port = cfg.DaemonPort
			}
			if port == 0 {
				port = 3050
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/health", port), nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("daemon unreachable: %w", err)
			}
			defer resp.Body.Close()

			var health map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
				return fmt.Errorf("decoding health response: %w", err)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(health)
		},
	}
	c.Flags().IntVar(&port, "port", 0, "daemon control port (defaults to config)")
	return c
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Send SIGTERM to the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			lock := pidlock.New(filepath.Join(stateDir, "daemon.pid"))
			pid, err := lock.RunningPID()
			if err != nil {
				return fmt.Errorf("no running daemon found: %w", err)
			}
			proc, err := os.FindProcess(pid)
			if err != nil {
				return err
			}
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("signaling daemon pid %d: %w", pid, err)
			}
			fmt.Printf("sent SIGTERM to daemon pid %d\n", pid)
			return nil
		},
	}
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check PID lock liveness, control server reachability, and relay reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(stateDir)
			if err != nil {
				fmt.Printf("config: FAIL (%v)\n", err)
			} else {
				fmt.Println("config: OK")
			}

			lock := pidlock.New(filepath.Join(stateDir, "daemon.pid"))
			if pid, err := lock.RunningPID(); err == nil {
				fmt.Printf("pid lock: daemon running (pid %d)\n", pid)
			} else {
				fmt.Println("pid lock: no daemon running")
			}

			if cfg.DaemonPort != 0 {
				ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
				defer cancel()
				req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/health", cfg.DaemonPort), nil)
				if resp, err := http.DefaultClient.Do(req); err == nil {
					resp.Body.Close()
					fmt.Println("control server: reachable")
				} else {
					fmt.Printf("control server: unreachable (%v)\n", err)
				}
			}

			if cfg.RelayAPIURL != "" {
				ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
				defer cancel()
				req, _ := http.NewRequestWithContext(ctx, http.MethodGet, cfg.RelayAPIURL+"/api/health", nil)
				if resp, err := http.DefaultClient.Do(req); err == nil {
					resp.Body.Close()
					fmt.Println("relay: reachable")
				} else {
					fmt.Printf("relay: unreachable (%v)\n", err)
				}
			}

			return nil
		},
	}
}

// loginCmd prompts for a relay API key with terminal echo disabled and
// persists it (and the relay URL, if given) to <state-dir>/config.toml.
func loginCmd() *cobra.Command {
	var relayURL string
	c := &cobra.Command{
		Use:   "login",
		Short: "Store relay credentials in config.toml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if relayURL == "" {
				fmt.Print("Relay API URL: ")
				reader := bufio.NewReader(os.Stdin)
				line, _ := reader.ReadString('\n')
				relayURL = strings.TrimSpace(line)
			}

			fmt.Print("Relay API key: ")
			keyBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("reading API key: %w", err)
			}

			if err := os.MkdirAll(stateDir, 0o700); err != nil {
				return fmt.Errorf("creating state dir: %w", err)
			}

			data, err := toml.Marshal(struct {
				RelayAPIURL string `toml:"relay_api_url"`
				RelayAPIKey string `toml:"relay_api_key"`
			}{RelayAPIURL: relayURL, RelayAPIKey: string(keyBytes)})
			if err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}

			path := filepath.Join(stateDir, "config.toml")
			if err := os.WriteFile(path, data, 0o600); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	c.Flags().StringVar(&relayURL, "relay-api-url", "", "relay base URL (prompted if omitted)")
	return c
}
