// ABOUTME: Storage backends for the token store: in-memory, JSON file and bbolt
// ABOUTME: Memory is per-process (kiosk sessions); file and bolt survive restarts

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// MemoryBackend keeps slots for the life of the process
type MemoryBackend struct {
	mu    sync.RWMutex
	slots map[string]string
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{slots: make(map[string]string)}
}

func (m *MemoryBackend) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.slots[key]
	return v, ok, nil
}

func (m *MemoryBackend) Put(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[key] = value
	return nil
}

func (m *MemoryBackend) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, key)
	return nil
}

// FileBackend stores all slots in one JSON document readable only by the owner
type FileBackend struct {
	mu   sync.Mutex
	path string
}

// NewFileBackend returns a backend writing to path. The file is created on first write.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Path returns the backing file path
func (f *FileBackend) Path() string {
	return f.path
}

func (f *FileBackend) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	slots, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := slots[key]
	return v, ok, nil
}

func (f *FileBackend) Put(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	slots, err := f.load()
	if err != nil {
		return err
	}
	slots[key] = value
	return f.save(slots)
}

func (f *FileBackend) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	slots, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := slots[key]; !ok {
		return nil
	}
	delete(slots, key)
	return f.save(slots)
}

func (f *FileBackend) load() (map[string]string, error) {
	slots := make(map[string]string)

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return slots, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	if len(data) == 0 {
		return slots, nil
	}
	if err := json.Unmarshal(data, &slots); err != nil {
		return nil, fmt.Errorf("failed to parse session file %s: %w", f.path, err)
	}
	return slots, nil
}

// save writes through a temp file so a crash never leaves a torn document
func (f *FileBackend) save(slots map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(slots, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".session-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to set session file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

const (
	boltBucket         = "session"
	defaultBoltTimeout = time.Second
)

// BoltBackend stores slots in a bbolt database. bbolt locks the file for as
// long as it is open, so every operation opens and closes the database and
// other portalctl processes can use it in between.
type BoltBackend struct {
	path    string
	options bbolt.Options

	mu sync.Mutex
}

// OpenBoltBackend creates the database at path if needed and checks it can be opened
func OpenBoltBackend(path string, options *bbolt.Options) (*BoltBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	b := &BoltBackend{path: path, options: *bbolt.DefaultOptions}
	if options != nil {
		b.options = *options
	}
	if b.options.Timeout <= 0 {
		b.options.Timeout = defaultBoltTimeout
	}

	err := b.update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Close is a no-op; the database is only open during an operation
func (b *BoltBackend) Close() error {
	return nil
}

func (b *BoltBackend) open(readOnly bool) (*bbolt.DB, error) {
	opts := b.options
	opts.ReadOnly = readOnly
	db, err := bbolt.Open(b.path, 0600, &opts)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return db, nil
}

func (b *BoltBackend) view(fn func(*bbolt.Tx) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	db, err := b.open(true)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.View(fn)
}

func (b *BoltBackend) update(fn func(*bbolt.Tx) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	db, err := b.open(false)
	if err != nil {
		return err
	}
	if err := db.Update(fn); err != nil {
		db.Close()
		return err
	}
	return db.Close()
}

func (b *BoltBackend) Get(key string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := b.view(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(boltBucket))
		if bucket == nil {
			return nil
		}
		data := bucket.Get([]byte(key))
		if data == nil {
			return nil
		}
		value, ok = string(data), true
		return nil
	})
	return value, ok, err
}

func (b *BoltBackend) Put(key, value string) error {
	return b.update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), []byte(value))
	})
}

func (b *BoltBackend) Delete(key string) error {
	return b.update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(boltBucket))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
}
