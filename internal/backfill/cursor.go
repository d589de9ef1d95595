package backfill

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// CursorVersion is stamped into every saved cursor so later schema changes
// can migrate old files instead of rejecting them.
const CursorVersion = 1

// Cursor records how far a backfill run has progressed. Pagination is keyed
// on (created_at, id), so both must advance together.
type Cursor struct {
	Version        int       `json:"version"`
	LastCreatedAt  time.Time `json:"last_created_at"`
	LastID         string    `json:"last_id"`
	CurrentDate    string    `json:"current_date,omitempty"`
	ProcessedCount int       `json:"processed_count"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsEmpty reports whether the cursor has ever been advanced.
func (c Cursor) IsEmpty() bool {
	return c.LastCreatedAt.IsZero() && c.LastID == ""
}

// CursorManager persists the cursor to a JSON file and guards it with an
// advisory file lock so two backfill processes cannot interleave writes.
type CursorManager struct {
	path string
	lock *os.File
}

func NewCursorManager(path string) *CursorManager {
	return &CursorManager{path: path}
}

func (m *CursorManager) lockPath() string {
	return m.path + ".lock"
}

// Lock takes a non-blocking exclusive flock on a sidecar lock file.
func (m *CursorManager) Lock() error {
	f, err := os.OpenFile(m.lockPath(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return fmt.Errorf("cursor %s is locked by another backfill process", m.path)
		}
		return fmt.Errorf("acquire cursor lock: %w", err)
	}

	m.lock = f
	return nil
}

// Unlock releases the flock and removes the sidecar file. Safe to call when
// no lock is held.
func (m *CursorManager) Unlock() error {
	if m.lock == nil {
		return nil
	}

	if err := syscall.Flock(int(m.lock.Fd()), syscall.LOCK_UN); err != nil {
		return fmt.Errorf("release cursor lock: %w", err)
	}
	m.lock.Close()
	m.lock = nil

	if err := os.Remove(m.lockPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// Load reads the saved cursor. A missing or empty file yields a fresh cursor
// so a first run needs no setup step.
func (m *CursorManager) Load() (Cursor, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Cursor{Version: CursorVersion}, nil
		}
		return Cursor{}, fmt.Errorf("read cursor file: %w", err)
	}
	if len(data) == 0 {
		return Cursor{Version: CursorVersion}, nil
	}

	var cur Cursor
	if err := json.Unmarshal(data, &cur); err != nil {
		return Cursor{}, fmt.Errorf("parse cursor file %s: %w", m.path, err)
	}

	// Files written before versioning carry version 0.
	if cur.Version == 0 {
		cur.Version = CursorVersion
	}
	return cur, nil
}

// Save writes the cursor atomically: marshal to a temp file, fsync, then
// rename over the target. A crash mid-save leaves the previous cursor intact.
func (m *CursorManager) Save(cur Cursor) error {
	cur.Version = CursorVersion
	cur.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(cur, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}

	tmp := m.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temp cursor file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp cursor file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp cursor file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp cursor file: %w", err)
	}

	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace cursor file: %w", err)
	}
	return nil
}

// Reset deletes the cursor file so the next run starts from the beginning.
func (m *CursorManager) Reset() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cursor file: %w", err)
	}
	return nil
}
