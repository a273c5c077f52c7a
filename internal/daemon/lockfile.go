package daemon

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrAlreadyRunning is returned by Acquire when a live process holds the lock.
var ErrAlreadyRunning = errors.New("daemon already running")

// LockFile is an exclusive flock(2) lock that keeps a second daemon from
// starting. The holder's PID is written into the file.
type LockFile struct {
	file *os.File
	path string
}

// NewLockFile creates a LockFile at path. Nothing is locked until Acquire.
func NewLockFile(path string) *LockFile {
	return &LockFile{path: path}
}

// ReadHeldPID returns the PID recorded in lockPath if the lock is currently
// held by another open file. A missing file is reported as not held.
func ReadHeldPID(lockPath string) (pid int, held bool, err error) {
	f, err := os.OpenFile(lockPath, os.O_RDWR, 0) //nolint:gosec // G304: lock path comes from config.Paths
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close()

	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB) //nolint:gosec // G115: fd fits in int
	switch {
	case err == nil:
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN) //nolint:gosec // G115: fd fits in int
		return 0, false, nil
	case errors.Is(err, unix.EWOULDBLOCK):
		return readPID(f), true, nil
	default:
		return 0, false, fmt.Errorf("flock: %w", err)
	}
}

// Acquire takes the lock without blocking. A lock left behind by a dead
// process is removed and taken over once.
func (l *LockFile) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	err := l.tryAcquire()
	if !errors.Is(err, unix.EWOULDBLOCK) {
		return err
	}

	pid, _, _ := ReadHeldPID(l.path)
	if pid > 0 && !isProcessAlive(pid) {
		os.Remove(l.path)
		if err := l.tryAcquire(); err != nil {
			return fmt.Errorf("failed to acquire lock on retry: %w", err)
		}
		return nil
	}
	if pid > 0 {
		return fmt.Errorf("%w (PID %d), lock file: %s", ErrAlreadyRunning, pid, l.path)
	}
	return fmt.Errorf("%w, lock file: %s", ErrAlreadyRunning, l.path)
}

func (l *LockFile) tryAcquire() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600) //nolint:gosec // G304: lock path comes from config.Paths
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil { //nolint:gosec // G115: fd fits in int
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return err
		}
		return fmt.Errorf("failed to acquire lock on %s: %w", l.path, err)
	}

	if err := writePID(f); err != nil {
		f.Close()
		return err
	}
	l.file = f
	return nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("failed to write PID to lock file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync lock file: %w", err)
	}
	return nil
}

// Release unlocks and removes the lock file. It is a no-op when the lock
// is not held.
func (l *LockFile) Release() error {
	if l.file == nil {
		return nil
	}

	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN) //nolint:gosec // G115: fd fits in int
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("failed to close lock file: %w", err)
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *LockFile) Path() string {
	return l.path
}

func readPID(f *os.File) int {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0
	}
	buf := make([]byte, 32)
	n, err := f.Read(buf)
	if err != nil || n == 0 {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0
	}
	return pid
}

// isProcessAlive reports whether pid names a live process.
func isProcessAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
