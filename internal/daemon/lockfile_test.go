package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestLockFile_Acquire_Release(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "searchd.lock")
	lf := NewLockFile(lockPath)

	if err := lf.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	data, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("failed to read lock file: %v", err)
	}
	expected := fmt.Sprintf("%d\n", os.Getpid())
	if string(data) != expected {
		t.Errorf("expected PID %q in lock file, got %q", expected, string(data))
	}

	if err := lf.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Error("lock file should be removed after Release")
	}
}

func TestLockFile_DoubleAcquire_Blocked(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "searchd.lock")
	lf1 := NewLockFile(lockPath)
	lf2 := NewLockFile(lockPath)

	if err := lf1.Acquire(); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer lf1.Release()

	// flock is per open file description on Linux, so a second open of the
	// same file conflicts even within one process.
	err := lf2.Acquire()
	if err == nil {
		lf2.Release()
		t.Fatal("second Acquire should fail while the lock is held")
	}
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestLockFile_StalePID_Recovery(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "searchd.lock")
	if err := os.WriteFile(lockPath, []byte("999999999\n"), 0o600); err != nil {
		t.Fatalf("failed to write stale PID: %v", err)
	}

	lf := NewLockFile(lockPath)
	if err := lf.Acquire(); err != nil {
		t.Fatalf("Acquire failed with stale PID: %v", err)
	}
	defer lf.Release()

	data, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("failed to read lock file: %v", err)
	}
	if string(data) != fmt.Sprintf("%d\n", os.Getpid()) {
		t.Errorf("expected our PID, got %q", string(data))
	}
}

func TestLockFile_Release_Idempotent(t *testing.T) {
	t.Parallel()

	lf := NewLockFile(filepath.Join(t.TempDir(), "searchd.lock"))

	if err := lf.Release(); err != nil {
		t.Errorf("Release without Acquire should not error: %v", err)
	}
	if err := lf.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := lf.Release(); err != nil {
		t.Fatalf("first Release failed: %v", err)
	}
	if err := lf.Release(); err != nil {
		t.Errorf("second Release should not error: %v", err)
	}
}

func TestLockFile_CreatesDirectory(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "nested", "runtime", "searchd.lock")
	lf := NewLockFile(lockPath)
	if err := lf.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lf.Release()

	info, err := os.Stat(filepath.Dir(lockPath))
	if err != nil {
		t.Fatalf("lock directory missing: %v", err)
	}
	if info.Mode().Perm() != 0o700 {
		t.Errorf("expected directory mode 0700, got %o", info.Mode().Perm())
	}
	if lf.Path() != lockPath {
		t.Errorf("Path() = %q, want %q", lf.Path(), lockPath)
	}
}

func TestLockFile_AcquireAfterRelease(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "searchd.lock")
	lf1 := NewLockFile(lockPath)
	if err := lf1.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := lf1.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	lf2 := NewLockFile(lockPath)
	if err := lf2.Acquire(); err != nil {
		t.Fatalf("Acquire after Release failed: %v", err)
	}
	lf2.Release()
}

func TestReadHeldPID(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "searchd.lock")

	pid, held, err := ReadHeldPID(lockPath)
	if err != nil || held || pid != 0 {
		t.Fatalf("missing lock: got pid=%d held=%v err=%v", pid, held, err)
	}

	lf := NewLockFile(lockPath)
	if err := lf.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	pid, held, err = ReadHeldPID(lockPath)
	if err != nil {
		t.Fatalf("ReadHeldPID failed: %v", err)
	}
	if !held || pid != os.Getpid() {
		t.Errorf("held lock: got pid=%d held=%v", pid, held)
	}

	lf.Release()
	if err := os.WriteFile(lockPath, []byte("42\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, held, err = ReadHeldPID(lockPath)
	if err != nil || held {
		t.Errorf("unlocked file: got held=%v err=%v", held, err)
	}
}

func TestIsProcessAlive(t *testing.T) {
	t.Parallel()

	if !isProcessAlive(os.Getpid()) {
		t.Error("current process should be alive")
	}
	if isProcessAlive(999999999) {
		t.Error("nonexistent process should not be alive")
	}
}

func TestReadPID_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"valid", "1234\n", 1234},
		{"garbage", "not-a-pid", 0},
		{"empty", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "pid")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			f, err := os.Open(path)
			if err != nil {
				t.Fatal(err)
			}
			defer f.Close()
			if got := readPID(f); got != tt.want {
				t.Errorf("readPID() = %d, want %d", got, tt.want)
			}
		})
	}
}
