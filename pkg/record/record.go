// Package record writes curve output: one append-only stream of
// duration pairs per curve, and one summary per node.
//
// Lines are two integers separated by a single space. Values are written as
// computed; negative durations are kept.
package record

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	// ErrClosed is returned when writing to or closing a closed stream.
	ErrClosed = errors.New("stream closed")
	// ErrInvalidName is returned when a curve name cannot be used as a file name.
	ErrInvalidName = errors.New("invalid curve name")
	// ErrNameCollision is returned when two curves map to the same file.
	ErrNameCollision = errors.New("curve file name collision")
	// ErrDuplicateCurve is returned when a curve stream is created twice.
	ErrDuplicateCurve = errors.New("curve stream already created")
)

// Stream receives the duration pairs of one curve.
type Stream interface {
	WritePair(a, b int64) error
	Close() error
}

// Sink creates curve streams and stores the node summary.
type Sink interface {
	// Create opens the stream for a curve. It is called at most once per name.
	Create(name string) (Stream, error)

	// WriteSummary stores the time range and curve list once all streams
	// are closed.
	WriteSummary(s Summary) error
}

// Summary describes one finished node.
type Summary struct {
	StopTime  int64
	StartTime int64
	// Curves lists curve names in first-reference order.
	Curves []string
}

// FileName maps a curve name to its output file name.
func FileName(curve string) string {
	return strings.ReplaceAll(curve, " ", "_")
}

// AppendPair appends the text form of a pair, including the newline.
func AppendPair(dst []byte, a, b int64) []byte {
	dst = strconv.AppendInt(dst, a, 10)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, b, 10)
	return append(dst, '\n')
}

// WriteSummaryTo writes s in the .crv layout:
//
//	# Time range
//	<stop> <start>
//
//	# Curve list
//	<name>
//	...
func WriteSummaryTo(w io.Writer, s Summary) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# Time range\n%d %d\n\n# Curve list\n", s.StopTime, s.StartTime)
	for _, name := range s.Curves {
		bw.WriteString(FileName(name))
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func validateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("%w: %q contains a path separator or NUL", ErrInvalidName, name)
	}
	return nil
}
