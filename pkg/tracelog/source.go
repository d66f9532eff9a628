package tracelog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
)

// Mode selects how a log file is read.
type Mode string

const (
	// ModeBuffered reads the file through the OS with a buffered reader.
	ModeBuffered Mode = "buffered"

	// ModeMmap maps the whole file read-only into memory.
	ModeMmap Mode = "mmap"
)

// ErrUnknownMode is returned for an unrecognized read mode.
var ErrUnknownMode = errors.New("unknown read mode: must be 'buffered' or 'mmap'")

// ParseMode normalizes a mode name. The empty string selects ModeBuffered.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeBuffered:
		return ModeBuffered, nil
	case ModeMmap:
		return ModeMmap, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Open opens the log at path for scanning.
func Open(path string, mode Mode) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	switch mode {
	case "", ModeBuffered:
		return f, nil
	case ModeMmap:
		return mapFile(f)
	default:
		f.Close()
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// mappedFile serves reads out of a read-only memory map.
type mappedFile struct {
	*bytes.Reader
	data mmap.MMap
	fd   *os.File
}

func mapFile(fd *os.File) (io.ReadCloser, error) {
	info, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, fmt.Errorf("stat error: %w", err)
	}
	// zero-length files cannot be mapped.
	if info.Size() == 0 {
		return &mappedFile{Reader: bytes.NewReader(nil), fd: fd}, nil
	}

	data, err := mmap.Map(fd, mmap.RDONLY, 0)
	if err != nil {
		fd.Close()
		return nil, fmt.Errorf("mmap error: %w", err)
	}
	return &mappedFile{Reader: bytes.NewReader(data), data: data, fd: fd}, nil
}

func (m *mappedFile) Close() error {
	var unmapErr error
	if m.data != nil {
		unmapErr = m.data.Unmap()
		m.data = nil
	}
	return errors.Join(unmapErr, m.fd.Close())
}
