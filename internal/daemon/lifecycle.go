package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/phosh-mobile/searchd/internal/config"
)

// ReloadFunc is a function called on SIGHUP to reload configuration.
type ReloadFunc func() error

// Task runs alongside the socket server until ctx is cancelled. A task
// error stops the daemon.
type Task func(ctx context.Context) error

// RunConfig configures Run.
type RunConfig struct {
	// Paths locates the runtime directory and lock file (optional, uses
	// defaults if nil)
	Paths *config.Paths

	// Server configures the socket server. Nil disables the socket.
	Server *ServerConfig

	// ReloadFn is called on SIGHUP. If nil, SIGHUP is ignored.
	ReloadFn ReloadFunc

	// Tasks run until shutdown, e.g. the D-Bus export and the app monitor.
	Tasks []Task

	// Logger is the structured logger (optional, uses default if nil)
	Logger *slog.Logger
}

// Run starts the daemon and blocks until shutdown.
// It handles signals for lifecycle management:
//   - SIGTERM/SIGINT: graceful shutdown (stop serving, remove socket and lock file)
//   - SIGHUP: reload configuration and providers
//   - SIGPIPE: ignore (prevent crashes on broken pipe)
func Run(ctx context.Context, cfg *RunConfig) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := CheckNotRoot(); err != nil {
		return err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	paths := cfg.Paths
	if paths == nil {
		paths = config.DefaultPaths()
	}

	if err := EnsureSecureDirectory(paths.RuntimeDir); err != nil {
		return fmt.Errorf("failed to ensure secure runtime directory: %w", err)
	}

	// Acquire lock file to prevent double-start
	lockFile := NewLockFile(paths.LockFile())
	if err := lockFile.Acquire(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lockFile.Release()

	var server *Server
	if cfg.Server != nil {
		var err error
		if server, err = NewServer(cfg.Server); err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Ignore SIGPIPE to prevent crash on broken pipe
	signal.Ignore(syscall.SIGPIPE)

	sigChan := make(chan os.Signal, 4)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case sig := <-sigChan:
				switch sig {
				case syscall.SIGTERM, syscall.SIGINT:
					logger.Info("received shutdown signal", "signal", sig)
					cancel()
					return nil

				case syscall.SIGHUP:
					handleReload(logger, cfg.ReloadFn)
				}

			case <-gctx.Done():
				return nil
			}
		}
	})

	if server != nil {
		g.Go(func() error {
			err := server.Start(gctx)
			if err == nil && gctx.Err() == nil {
				// Shutdown was called directly; stop the rest too.
				cancel()
			}
			return err
		})
	}

	for _, task := range cfg.Tasks {
		g.Go(func() error { return task(gctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func handleReload(logger *slog.Logger, reload ReloadFunc) {
	if reload == nil {
		logger.Debug("no reload function configured, ignoring SIGHUP")
		return
	}
	logger.Info("received SIGHUP, reloading configuration")
	if err := reload(); err != nil {
		logger.Error("failed to reload configuration", "error", err)
		return
	}
	logger.Info("configuration reloaded successfully")
}

// IsRunningWithPaths reports whether a daemon holds the lock under paths.
func IsRunningWithPaths(paths *config.Paths) bool {
	pid, held, err := ReadHeldPID(paths.LockFile())
	if err != nil || !held {
		return false
	}
	return pid <= 0 || isProcessAlive(pid)
}

// StopWithPaths sends SIGTERM to the daemon holding the lock and waits up
// to timeout for it to exit before killing it.
func StopWithPaths(paths *config.Paths, timeout time.Duration) error {
	pid, held, err := ReadHeldPID(paths.LockFile())
	if err != nil {
		return fmt.Errorf("failed to read lock PID: %w", err)
	}
	if !held || pid <= 0 {
		return fmt.Errorf("daemon not running")
	}

	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	deadline := time.After(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			// Force kill if graceful shutdown didn't work
			_ = unix.Kill(pid, unix.SIGKILL)
			return nil
		case <-ticker.C:
			if !isProcessAlive(pid) {
				return nil
			}
		}
	}
}

// CleanupStaleWithPaths removes a socket left behind by a daemon that is
// no longer running.
func CleanupStaleWithPaths(paths *config.Paths, socketPath string) error {
	if IsRunningWithPaths(paths) {
		return fmt.Errorf("daemon is still running")
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove socket: %w", err)
	}
	return nil
}

// WaitForSocket waits until socketPath exists, ctx is done or timeout
// elapses.
func WaitForSocket(ctx context.Context, socketPath string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(socketPath); err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("socket not available after %v", timeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
