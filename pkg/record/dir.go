package record

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

const fileModePerm = 0644

// Checksum is the xxhash64 of one written file.
type Checksum struct {
	File string
	Sum  uint64
}

// DirSink writes curve files and the node summary into a node directory.
// A DirSink belongs to a single job and is not safe for concurrent use.
type DirSink struct {
	dir  string
	node string

	// file name -> curve name, for collision detection.
	files     map[string]string
	checksums []Checksum
}

// NewDirSink returns a sink writing into dir for the given node. The node's
// log and summary file names are reserved.
func NewDirSink(dir, node string) *DirSink {
	return &DirSink{
		dir:  dir,
		node: node,
		files: map[string]string{
			LogFileName(node):     "",
			SummaryFileName(node): "",
		},
	}
}

// LogFileName is the raw log file name of a node.
func LogFileName(node string) string {
	return node + ".log"
}

// SummaryFileName is the summary file name of a node.
func SummaryFileName(node string) string {
	return node + ".crv"
}

// Create opens <dir>/<FileName(name)>, truncating any existing file.
func (s *DirSink) Create(name string) (Stream, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	file := FileName(name)
	if prev, ok := s.files[file]; ok {
		if prev == name {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateCurve, name)
		}
		return nil, fmt.Errorf("%w: %q and %q both map to %q", ErrNameCollision, prev, name, file)
	}

	fd, err := os.OpenFile(filepath.Join(s.dir, file), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fileModePerm)
	if err != nil {
		return nil, fmt.Errorf("create curve %q: %w", name, err)
	}
	s.files[file] = name

	return &fileStream{
		sink:   s,
		file:   file,
		fd:     fd,
		w:      bufio.NewWriter(fd),
		digest: xxhash.New(),
	}, nil
}

// WriteSummary writes <dir>/<node>.crv.
func (s *DirSink) WriteSummary(sum Summary) error {
	var buf bytes.Buffer
	if err := WriteSummaryTo(&buf, sum); err != nil {
		return err
	}
	file := SummaryFileName(s.node)
	if err := os.WriteFile(filepath.Join(s.dir, file), buf.Bytes(), fileModePerm); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	s.checksums = append(s.checksums, Checksum{File: file, Sum: xxhash.Sum64(buf.Bytes())})
	return nil
}

// Checksums returns the checksum of every closed curve file and of the
// summary, in the order they were completed.
func (s *DirSink) Checksums() []Checksum {
	out := make([]Checksum, len(s.checksums))
	copy(out, s.checksums)
	return out
}

// Dir returns the node directory.
func (s *DirSink) Dir() string {
	return s.dir
}

type fileStream struct {
	sink   *DirSink
	file   string
	fd     *os.File
	w      *bufio.Writer
	digest *xxhash.Digest
	buf    []byte
	closed bool
}

func (f *fileStream) WritePair(a, b int64) error {
	if f.closed {
		return ErrClosed
	}
	f.buf = AppendPair(f.buf[:0], a, b)
	// Digest.Write never fails.
	f.digest.Write(f.buf)
	if _, err := f.w.Write(f.buf); err != nil {
		return fmt.Errorf("write %s: %w", f.file, err)
	}
	return nil
}

func (f *fileStream) Close() error {
	if f.closed {
		return ErrClosed
	}
	f.closed = true

	flushErr := f.w.Flush()
	closeErr := f.fd.Close()
	if err := errors.Join(flushErr, closeErr); err != nil {
		return fmt.Errorf("close %s: %w", f.file, err)
	}
	f.sink.checksums = append(f.sink.checksums, Checksum{File: f.file, Sum: f.digest.Sum64()})
	return nil
}
