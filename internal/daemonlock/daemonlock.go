// Package daemonlock guards against two collectived processes running
// against the same data directory, adapted from the teacher's
// internal/daemonrunner advisory-lock pattern (process.go + flock_unix.go).
package daemonlock

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ErrLocked is returned when another collectived already holds the lock.
var ErrLocked = errors.New("daemonlock: already held by another collectived process")

// Info is the metadata recorded in the lock file.
type Info struct {
	PID       int       `json:"pid"`
	MachineID string    `json:"machine_id"`
	StartedAt time.Time `json:"started_at"`
}

// Lock represents a held advisory lock on dataDir/daemon.lock.
type Lock struct {
	file *os.File
}

// Close releases the lock.
func (l *Lock) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Acquire takes an exclusive non-blocking lock on dataDir/daemon.lock,
// failing with ErrLocked if a live collectived already holds it.
func Acquire(dataDir, machineID string) (*Lock, error) {
	path := filepath.Join(dataDir, "daemon.lock")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("daemonlock: open %s: %w", path, err)
	}

	if err := flockExclusive(f); err != nil {
		f.Close()
		if errors.Is(err, ErrLocked) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("daemonlock: lock %s: %w", path, err)
	}

	info := Info{PID: os.Getpid(), MachineID: machineID, StartedAt: time.Now().UTC()}
	f.Truncate(0)
	f.Seek(0, 0)
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.Encode(info)
	f.Sync()

	return &Lock{file: f}, nil
}
