// Package eventlog persists per-connection delivery statistics.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skycoin/skyevent/pkg/netevent"
)

// LogEntry describes one connection after it terminated.
type LogEntry struct {
	Remote   string         `json:"remote" cbor:"1,keyasint"`
	Role     string         `json:"role" cbor:"2,keyasint"`
	Classes  uint32         `json:"classes" cbor:"3,keyasint"`
	Opened   time.Time      `json:"opened" cbor:"4,keyasint"`
	Closed   time.Time      `json:"closed" cbor:"5,keyasint"`
	Reason   string         `json:"reason,omitempty" cbor:"6,keyasint,omitempty"`
	Stats    netevent.Stats `json:"stats" cbor:"7,keyasint"`
	Violated bool           `json:"violated" cbor:"8,keyasint"`
}

// NewLogEntry captures the final state of c.
func NewLogEntry(c *netevent.Conn, remote string, opened time.Time) *LogEntry {
	e := &LogEntry{
		Remote:  remote,
		Role:    c.Role().String(),
		Classes: c.ClassCount(),
		Opened:  opened,
		Closed:  time.Now(),
		Stats:   c.Stats(),
	}
	if err := c.Err(); err != nil {
		e.Reason = err.Error()
		e.Violated = netevent.IsProtocolViolation(err)
	}
	return e
}

// LogStore stores connection log entries.
type LogStore interface {
	Entry(id uuid.UUID) (*LogEntry, error)
	Record(id uuid.UUID, entry *LogEntry) error
}

type inMemoryLogStore struct {
	entries map[uuid.UUID]*LogEntry
	mu      sync.Mutex
}

// InMemoryLogStore implements in-memory LogStore.
func InMemoryLogStore() LogStore {
	return &inMemoryLogStore{
		entries: map[uuid.UUID]*LogEntry{},
	}
}

func (ls *inMemoryLogStore) Entry(id uuid.UUID) (*LogEntry, error) {
	ls.mu.Lock()
	entry, ok := ls.entries[id]
	ls.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	return entry, nil
}

func (ls *inMemoryLogStore) Record(id uuid.UUID, entry *LogEntry) error {
	ls.mu.Lock()
	ls.entries[id] = entry
	ls.mu.Unlock()
	return nil
}

type fileLogStore struct {
	dir string
}

// FileLogStore implements a LogStore that keeps one JSON file per connection.
func FileLogStore(dir string) (LogStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &fileLogStore{dir}, nil
}

func (ls *fileLogStore) path(id uuid.UUID) string {
	return filepath.Join(ls.dir, fmt.Sprintf("%s.log", id))
}

func (ls *fileLogStore) Entry(id uuid.UUID) (*LogEntry, error) {
	f, err := os.Open(ls.path(id))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open: %s", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.WithError(err).Warn("Failed to close log file.")
		}
	}()

	entry := &LogEntry{}
	if err := json.NewDecoder(f).Decode(entry); err != nil {
		return nil, fmt.Errorf("json: %s", err)
	}
	return entry, nil
}

func (ls *fileLogStore) Record(id uuid.UUID, entry *LogEntry) error {
	f, err := os.OpenFile(ls.path(id), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("open: %s", err)
	}

	if err := json.NewEncoder(f).Encode(entry); err != nil {
		f.Close() // nolint: errcheck
		return fmt.Errorf("json: %s", err)
	}
	return f.Close()
}
