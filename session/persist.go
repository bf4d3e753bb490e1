package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultKey is the fixed key the session record is stored under.
const DefaultKey = "mixlab-auth"

// RecordVersion is the layout version written with every record.
const RecordVersion = 0

// Record is the durable form of a Session. It is always written and read whole.
type Record struct {
	State   Session `json:"state"`
	Version int     `json:"version"`
}

// Persister stores session records.
//
// Load returns ok=false when no record exists under key.
type Persister interface {
	Load(ctx context.Context, key string) (rec Record, ok bool, err error)
	Save(ctx context.Context, key string, rec Record) error
}

// MemoryPersister keeps records in process memory.
type MemoryPersister struct {
	mu      sync.Mutex
	records map[string][]byte
}

// NewMemoryPersister returns an empty in-memory persister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{records: make(map[string][]byte)}
}

func (m *MemoryPersister) Load(_ context.Context, key string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.records[key]
	if !ok {
		return Record{}, false, nil
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("session: decode record: %w", err)
	}
	return rec, true, nil
}

func (m *MemoryPersister) Save(_ context.Context, key string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: encode record: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = make(map[string][]byte)
	}
	m.records[key] = data
	return nil
}

// FilePersister stores one JSON file per key inside Dir.
//
// Writes go to a temporary file that is renamed over the target, so a reader
// never sees a partially written record.
type FilePersister struct {
	Dir string

	mu sync.Mutex
}

// NewFilePersister returns a persister rooted at dir, creating it if needed.
func NewFilePersister(dir string) (*FilePersister, error) {
	if dir == "" {
		return nil, errors.New("session: file persister dir required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("session: create dir: %w", err)
	}
	return &FilePersister{Dir: dir}, nil
}

func (f *FilePersister) path(key string) string {
	return filepath.Join(f.Dir, filepath.Base(key)+".json")
}

func (f *FilePersister) Load(_ context.Context, key string) (Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("session: read record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("session: decode record: %w", err)
	}
	return rec, true, nil
}

func (f *FilePersister) Save(_ context.Context, key string, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encode record: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	target := f.path(key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("session: write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		if removeErr := os.Remove(tmp); removeErr != nil {
			return fmt.Errorf("session: rename temp file: %v; remove temp file: %w", err, removeErr)
		}
		return fmt.Errorf("session: rename temp file: %w", err)
	}
	return nil
}
