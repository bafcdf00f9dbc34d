package diskio

import (
	"fmt"
	"os"
)

// posixFile is a plain os.File backed implementation of File, grounded on
// the teacher's disk manager: open-or-create with O_RDWR|O_CREATE, resize
// via Truncate, and ReadAt/WriteAt for block access instead of seek+read.
type posixFile struct {
	f *os.File
}

// NewPosixFile opens (creating if necessary) the file at path as a File.
func NewPosixFile(path string) (File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open segment file %s: %w", path, err)
	}
	return &posixFile{f: f}, nil
}

func (p *posixFile) Size() (int64, error) {
	fi, err := p.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat segment file: %w", err)
	}
	return fi.Size(), nil
}

func (p *posixFile) Resize(n int64) error {
	size, err := p.Size()
	if err != nil {
		return err
	}
	if n <= size {
		return nil
	}
	if err := p.f.Truncate(n); err != nil {
		return fmt.Errorf("resize segment file to %d: %w", n, err)
	}
	return nil
}

func (p *posixFile) ReadBlock(offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	n, err := p.f.ReadAt(buf, offset)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("read block at %d: %w", offset, err)
	}
	for i := n; i < length; i++ {
		buf[i] = 0
	}
	return buf, nil
}

func (p *posixFile) WriteBlock(buf []byte, offset int64) error {
	if _, err := p.f.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("write block at %d: %w", offset, err)
	}
	return nil
}

func (p *posixFile) Close() error {
	return p.f.Close()
}
