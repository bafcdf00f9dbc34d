package diskio

import (
	"fmt"
	"sync"

	"github.com/dsnet/golib/memfile"
)

// memFile is an in-memory File backed by dsnet/golib/memfile, the same
// library ryogrid/sametree uses for its virtual disk manager. It gives
// every package in this engine a File implementation with no filesystem
// footprint — used by tests, and by any embedding caller that wants a
// throwaway, process-local database.
type memFile struct {
	mu   sync.Mutex
	f    *memfile.File
	size int64
}

// NewMemFile returns a File with no backing on disk.
func NewMemFile() File {
	return &memFile{f: memfile.New(make([]byte, 0))}
}

func (m *memFile) Size() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size, nil
}

func (m *memFile) Resize(n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= m.size {
		return nil
	}
	zeros := make([]byte, n-m.size)
	if _, err := m.f.WriteAt(zeros, m.size); err != nil {
		return fmt.Errorf("resize mem file to %d: %w", n, err)
	}
	m.size = n
	return nil
}

func (m *memFile) ReadBlock(offset int64, length int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, length)
	if offset >= m.size {
		return buf, nil
	}
	n, err := m.f.ReadAt(buf, offset)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("read block at %d: %w", offset, err)
	}
	return buf, nil
}

func (m *memFile) WriteBlock(buf []byte, offset int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.f.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("write block at %d: %w", offset, err)
	}
	if end := offset + int64(len(buf)); end > m.size {
		m.size = end
	}
	return nil
}

func (m *memFile) Close() error {
	return nil
}
