package drive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ardnew/softiec/pkg"
)

// Storage is the file store behind a drive.
type Storage interface {
	// Load returns the contents of the named file, or pkg.ErrNotFound.
	Load(name string) ([]byte, error)

	// Save creates or replaces the named file.
	Save(name string, data []byte) error

	// Remove deletes the named file, or returns pkg.ErrNotFound.
	Remove(name string) error

	// List returns the file names in order.
	List() []string

	// IsReadOnly reports whether Save and Remove are refused.
	IsReadOnly() bool
}

// MemoryStorage implements Storage in memory.
type MemoryStorage struct {
	files    map[string][]byte
	readOnly bool
	mutex    sync.RWMutex
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{files: make(map[string][]byte)}
}

// Load implements Storage.
func (m *MemoryStorage) Load(name string) ([]byte, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	data, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, pkg.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Save implements Storage.
func (m *MemoryStorage) Save(name string, data []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.readOnly {
		return pkg.ErrReadOnly
	}
	m.files[name] = append([]byte(nil), data...)
	return nil
}

// Remove implements Storage.
func (m *MemoryStorage) Remove(name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.readOnly {
		return pkg.ErrReadOnly
	}
	if _, ok := m.files[name]; !ok {
		return fmt.Errorf("%q: %w", name, pkg.ErrNotFound)
	}
	delete(m.files, name)
	return nil
}

// List implements Storage.
func (m *MemoryStorage) List() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsReadOnly implements Storage.
func (m *MemoryStorage) IsReadOnly() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.readOnly
}

// SetReadOnly sets the read-only flag.
func (m *MemoryStorage) SetReadOnly(readOnly bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.readOnly = readOnly
}

// DirStorage implements Storage over the regular files of a host
// directory.
type DirStorage struct {
	dir      string
	readOnly bool
	mutex    sync.RWMutex
}

// NewDirStorage creates a store over dir, which must exist.
func NewDirStorage(dir string, readOnly bool) (*DirStorage, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory: %w", dir, pkg.ErrInvalidParameter)
	}
	return &DirStorage{dir: dir, readOnly: readOnly}, nil
}

// path maps a file name to a path inside the directory. Names that would
// escape it are rejected.
func (d *DirStorage) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("%q: %w", name, pkg.ErrInvalidParameter)
	}
	return filepath.Join(d.dir, name), nil
}

// Load implements Storage.
func (d *DirStorage) Load(name string) ([]byte, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	p, err := d.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%q: %w", name, pkg.ErrNotFound)
	}
	return data, err
}

// Save implements Storage.
func (d *DirStorage) Save(name string, data []byte) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.readOnly {
		return pkg.ErrReadOnly
	}
	p, err := d.path(name)
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0644)
}

// Remove implements Storage.
func (d *DirStorage) Remove(name string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.readOnly {
		return pkg.ErrReadOnly
	}
	p, err := d.path(name)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%q: %w", name, pkg.ErrNotFound)
	}
	return err
}

// List implements Storage.
func (d *DirStorage) List() []string {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names
}

// IsReadOnly implements Storage.
func (d *DirStorage) IsReadOnly() bool {
	return d.readOnly
}
