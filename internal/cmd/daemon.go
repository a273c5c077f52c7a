package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/phosh-mobile/searchd/internal/config"
	"github.com/phosh-mobile/searchd/internal/daemon"
	"github.com/phosh-mobile/searchd/internal/ipc"
)

const daemonStopTimeout = 5 * time.Second

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	Short:   "Manage the background search daemon",
	GroupID: groupSetup,
	Long: `Manage the phosh-searchd process serving the local socket API.

Subcommands:
  start  - Start the daemon (runs in background)
  stop   - Stop the daemon
  status - Check if daemon is running`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the background daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		paths := config.DefaultPaths()
		socketPath := cfg.ResolveSocketPath(paths)
		w := cmd.OutOrStdout()

		if daemon.IsRunningWithPaths(paths) {
			// A daemon that holds the lock may still be binding its socket.
			if err := daemon.WaitForSocket(cmd.Context(), socketPath, ipc.SpawnTimeout); err != nil {
				return fmt.Errorf("daemon is running but its socket is missing: %w", err)
			}
			fmt.Fprintf(w, "Daemon: %s\n", styles.ok.Render("already running"))
			return nil
		}

		fmt.Fprint(w, "Starting phosh-searchd...")
		if err := ipc.SpawnAndWait(cmd.Context(), socketPath, ipc.SpawnTimeout); err != nil {
			fmt.Fprintf(w, " %s\n", styles.err.Render("failed"))
			return err
		}
		fmt.Fprintf(w, " %s\n", styles.ok.Render("ready"))
		return nil
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		paths := config.DefaultPaths()
		socketPath := cfg.ResolveSocketPath(paths)
		w := cmd.OutOrStdout()

		stopErr := daemon.StopWithPaths(paths, daemonStopTimeout)
		hadSocket := ipc.SocketExists(socketPath)
		cleanErr := daemon.CleanupStaleWithPaths(paths, socketPath)

		if stopErr != nil {
			if hadSocket && cleanErr == nil {
				fmt.Fprintf(w, "Removed stale socket %s\n", socketPath)
				return nil
			}
			return stopErr
		}
		if cleanErr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", cleanErr)
		}
		fmt.Fprintln(w, "Daemon stopped.")
		return nil
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		paths := config.DefaultPaths()
		socketPath := cfg.ResolveSocketPath(paths)
		w := cmd.OutOrStdout()

		if daemon.IsRunningWithPaths(paths) {
			fmt.Fprintf(w, "Daemon: %s\n", styles.ok.Render("running"))
			if pid, held, err := daemon.ReadHeldPID(paths.LockFile()); err == nil && held && pid > 0 {
				fmt.Fprintf(w, "  PID:    %d\n", pid)
			}
		} else {
			fmt.Fprintf(w, "Daemon: %s\n", styles.dim.Render("not running"))
		}

		switch {
		case ipc.IsDaemonRunning(socketPath):
			fmt.Fprintf(w, "  Socket: %s (%s)\n", socketPath, styles.ok.Render("answering"))
		case ipc.SocketExists(socketPath):
			fmt.Fprintf(w, "  Socket: %s (%s)\n", socketPath, styles.warn.Render("stale"))
		default:
			fmt.Fprintf(w, "  Socket: %s (%s)\n", socketPath, styles.dim.Render("absent"))
		}
		return nil
	},
}

func init() {
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
}
