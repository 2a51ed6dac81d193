package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"
)

// Lock file names guarding the per-node worker singletons.
const (
	NodeLockFile = "node.lock"
	FifoLockFile = "fifo.lock"
)

const lockTimeout = 3 * time.Second

// fileLock is an advisory flock-based singleton guard. The lock dies
// with the process, so a crashed worker never wedges its successor.
type fileLock struct {
	file *os.File
}

// acquireLock takes the named lock, retrying until the timeout lapses.
// Failure means another worker of the same kind already owns this node.
func acquireLock(dir, name string) (*fileLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}

	deadline := time.Now().Add(lockTimeout)
	for {
		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			f.Close()
			return nil, fmt.Errorf("lock %s is held by another worker", path)
		}
		time.Sleep(100 * time.Millisecond)
	}

	// Record the holder for operators poking around.
	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	return &fileLock{file: f}, nil
}

func (l *fileLock) release() {
	if l == nil || l.file == nil {
		return
	}
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}
