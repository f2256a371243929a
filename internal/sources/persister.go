package sources

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// Persister is the durable storage abstraction behind Store.
// Implementations can be in-memory or file-based; Store does not care which.
type Persister interface {
	// Load returns the persisted records in order. A missing backing file is
	// not an error and yields an empty slice.
	Load() ([]Record, error)

	// Save replaces the persisted records with recs.
	Save(recs []Record) error
}

// MemoryPersister keeps records in memory only. Useful for tests and for
// running without a metadata file.
type MemoryPersister struct {
	mu   sync.Mutex
	recs []Record
	// Fail, when set, is returned from Save to simulate storage failures.
	Fail error
}

// NewMemoryPersister returns a persister preloaded with recs.
func NewMemoryPersister(recs ...Record) *MemoryPersister {
	return &MemoryPersister{recs: recs}
}

// Load implements Persister.Load.
func (m *MemoryPersister) Load() ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.recs))
	for i := range m.recs {
		out = append(out, m.recs[i].clone())
	}
	return out, nil
}

// Save implements Persister.Save.
func (m *MemoryPersister) Save(recs []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.recs = make([]Record, 0, len(recs))
	for i := range recs {
		m.recs = append(m.recs, recs[i].clone())
	}
	return nil
}

// FilePersister stores records as a JSON array in a single file.
// Writes go to a temp file that is renamed into place under an exclusive
// flock; reads take a shared lock, so other processes (the CLI) can read
// while the server writes.
type FilePersister struct {
	path string
	lock *flock.Flock
}

// NewFilePersister returns a persister for path. The lock file lives next to
// it as path + ".lock".
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the metadata file location.
func (f *FilePersister) Path() string {
	return f.path
}

// Load implements Persister.Load.
func (f *FilePersister) Load() ([]Record, error) {
	if _, err := os.Stat(f.path); errors.Is(err, os.ErrNotExist) {
		return []Record{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return nil, fmt.Errorf("create metadata directory: %w", err)
	}
	if err := f.lock.RLock(); err != nil {
		return nil, fmt.Errorf("lock metadata file: %w", err)
	}
	defer f.lock.Unlock() //nolint:errcheck

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read metadata file: %w", err)
	}
	if len(data) == 0 {
		return []Record{}, nil
	}

	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("parse metadata file: %w", err)
	}
	for i := range recs {
		if recs[i].Screenshots == nil {
			recs[i].Screenshots = []Screenshot{}
		}
	}
	return recs, nil
}

// Save implements Persister.Save.
func (f *FilePersister) Save(recs []Record) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create metadata directory: %w", err)
	}
	if recs == nil {
		recs = []Record{}
	}
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("lock metadata file: %w", err)
	}
	defer f.lock.Unlock() //nolint:errcheck

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write metadata file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close metadata file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace metadata file: %w", err)
	}
	return nil
}
