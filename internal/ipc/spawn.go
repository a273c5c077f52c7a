package ipc

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/execabs"
)

// DaemonBinaryName is the name of the daemon executable
const DaemonBinaryName = "phosh-searchd"

// DaemonPathEnv overrides the daemon binary location.
const DaemonPathEnv = "PHOSH_SEARCHD_PATH"

var (
	// Test seams for daemon spawn and socket probing behavior.
	quickDialFn    = func(path string) (io.Closer, error) { return QuickDial(path) }
	socketExistsFn = SocketExists
	removeFileFn   = os.Remove
	startDaemonFn  = startDaemon

	// Retry transient socket dial failures before deleting an existing socket.
	staleSocketDialAttempts = 3
	staleSocketRetryDelay   = 25 * time.Millisecond
)

// LogPath returns the log file of a spawned daemon serving socketPath.
func LogPath(socketPath string) string {
	return filepath.Join(filepath.Dir(socketPath), "searchd.log")
}

// EnsureDaemon makes sure a daemon answers on socketPath, spawning one and
// waiting up to timeout for it if needed.
func EnsureDaemon(ctx context.Context, socketPath string, timeout time.Duration) error {
	// Fast path: socket exists and is connectable
	if socketExistsFn(socketPath) {
		if conn, err := quickDialFn(socketPath); err == nil {
			_ = conn.Close()
			return nil
		}
	}
	return SpawnAndWait(ctx, socketPath, timeout)
}

// SpawnDaemon starts the daemon process in the background without waiting
// for it to be ready.
func SpawnDaemon(ctx context.Context, socketPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(socketPath), 0o700); err != nil {
		return fmt.Errorf("failed to create run dir: %w", err)
	}
	if err := removeStaleSocket(ctx, socketPath); err != nil {
		return err
	}

	daemonPath, err := findDaemonBinary()
	if err != nil {
		return err
	}
	return startDaemonFn(daemonPath, socketPath)
}

func startDaemon(daemonPath, socketPath string) error {
	logFile, err := os.OpenFile(LogPath(socketPath), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		// Log file creation failed, use /dev/null
		logFile, _ = os.Open(os.DevNull)
	}
	defer logFile.Close()

	// execabs prevents executing binaries resolved to relative paths.
	cmd := execabs.Command(daemonPath, "--socket", socketPath)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	// Detach from the parent process group
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Detach from child - let it run independently
	return cmd.Process.Release()
}

// SpawnAndWait spawns the daemon and waits for its socket to accept
// connections.
func SpawnAndWait(ctx context.Context, socketPath string, timeout time.Duration) error {
	if err := SpawnDaemon(ctx, socketPath); err != nil {
		return err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("daemon did not start within %v", timeout)
		case <-ticker.C:
			if !socketExistsFn(socketPath) {
				continue
			}
			if conn, err := quickDialFn(socketPath); err == nil {
				_ = conn.Close()
				return nil
			}
		}
	}
}

// findDaemonBinary locates the daemon executable
func findDaemonBinary() (string, error) {
	if path := os.Getenv(DaemonPathEnv); path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to resolve %s: %w", DaemonPathEnv, err)
		}
		if _, err := os.Stat(absPath); err == nil {
			return absPath, nil
		}
	}

	// Check same directory as current executable
	if exe, err := os.Executable(); err == nil {
		daemonPath := filepath.Join(filepath.Dir(exe), DaemonBinaryName)
		if _, err := os.Stat(daemonPath); err == nil {
			return daemonPath, nil
		}
	}

	// execabs refuses PATH entries that resolve relative to the working
	// directory.
	if path, err := execabs.LookPath(DaemonBinaryName); err == nil {
		return path, nil
	}

	for _, path := range []string{
		"/usr/libexec/" + DaemonBinaryName,
		"/usr/local/libexec/" + DaemonBinaryName,
	} {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("daemon binary '%s' not found", DaemonBinaryName)
}

// IsDaemonRunning reports whether a daemon answers on socketPath
func IsDaemonRunning(socketPath string) bool {
	if !SocketExists(socketPath) {
		return false
	}
	conn, err := QuickDial(socketPath)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func removeStaleSocket(ctx context.Context, socketPath string) error {
	if !socketExistsFn(socketPath) {
		return nil
	}

	// Retry dial a few times to avoid deleting an active socket after
	// a transient connection failure.
	for attempt := 0; attempt < staleSocketDialAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if conn, err := quickDialFn(socketPath); err == nil {
			_ = conn.Close()
			return nil
		}
		if attempt < staleSocketDialAttempts-1 {
			timer := time.NewTimer(staleSocketRetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	if err := removeFileFn(socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}
	return nil
}
