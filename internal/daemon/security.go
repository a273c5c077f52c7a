package daemon

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrRunningAsRoot is returned when the daemon runs with effective UID 0.
// The search service belongs to a user session.
var ErrRunningAsRoot = errors.New("refusing to run as root (UID 0): the search daemon belongs to a user session")

// ErrInsecureDirectory is returned when the runtime directory is not private
// to the current user.
var ErrInsecureDirectory = errors.New("runtime directory is not private")

// CheckNotRoot returns ErrRunningAsRoot for effective UID 0.
func CheckNotRoot() error {
	if unix.Geteuid() == 0 {
		return ErrRunningAsRoot
	}
	return nil
}

// ValidateDirectoryPermissions checks that dirPath is owned by the current
// user and has mode 0700. A missing directory is accepted.
func ValidateDirectoryPermissions(dirPath string) error {
	var st unix.Stat_t
	if err := unix.Stat(dirPath, &st); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil
		}
		return fmt.Errorf("failed to stat directory %s: %w", dirPath, err)
	}

	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return fmt.Errorf("%s is not a directory", dirPath)
	}
	if int(st.Uid) != unix.Geteuid() {
		return fmt.Errorf("%w: %s is owned by UID %d", ErrInsecureDirectory, dirPath, st.Uid)
	}
	if perm := st.Mode & 0o777; perm != 0o700 {
		return fmt.Errorf("%w: %s has mode %o; expected exactly 0700",
			ErrInsecureDirectory, dirPath, perm)
	}
	return nil
}

// EnsureSecureDirectory creates dirPath with mode 0700, or tightens the
// mode of an existing directory. A directory owned by someone else is an
// error.
func EnsureSecureDirectory(dirPath string) error {
	info, err := os.Stat(dirPath)
	if os.IsNotExist(err) {
		return os.MkdirAll(dirPath, 0o700)
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory %s: %w", dirPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s exists but is not a directory", dirPath)
	}

	if info.Mode().Perm() != 0o700 {
		if err := os.Chmod(dirPath, 0o700); err != nil { //nolint:gosec // G302: 0700 is the runtime directory mode
			return fmt.Errorf("failed to fix permissions on %s: %w", dirPath, err)
		}
	}
	return ValidateDirectoryPermissions(dirPath)
}
