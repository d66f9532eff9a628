package tracelog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// HeaderMarker starts the column header line. Everything before it is
	// preamble.
	HeaderMarker = "          timeStamp"

	// headerSkip is the number of lines (units, separator) following the
	// column header.
	headerSkip = 2

	// TimestampWidth is the width, in characters, of the leading timestamp
	// field.
	TimestampWidth = 19

	// TextColumn is the character column where inline event text starts.
	// Lines no longer than this carry their text on the next physical line.
	TextColumn = 32
)

var (
	// ErrShortLine is returned when a data line cannot hold a timestamp field.
	ErrShortLine = errors.New("line shorter than timestamp field")
	// ErrMissingContinuation is returned when a data line expects its text on
	// the next line but the input ends.
	ErrMissingContinuation = errors.New("missing continuation line")
)

// Event is one timestamped entry of a node's trace log.
type Event struct {
	Timestamp int64
	Text      string
}

// ParseError reports a malformed data line.
type ParseError struct {
	// Line is the physical line number (1-indexed).
	Line int
	// Text is the offending line.
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %v: %q", e.Line, e.Err, e.Text)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Scanner yields the events of a trace log in file order. It is not
// restartable: once Next returns an error, every later call returns it too.
type Scanner struct {
	r       *bufio.Reader
	buf     []byte
	line    int
	started bool
	err     error
}

// NewScanner returns a Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReader(r)}
}

// Next returns the next event, or io.EOF when the log is exhausted.
func (s *Scanner) Next() (Event, error) {
	if s.err != nil {
		return Event{}, s.err
	}
	ev, err := s.next()
	if err != nil {
		s.err = err
	}
	return ev, err
}

func (s *Scanner) next() (Event, error) {
	if !s.started {
		s.started = true
		if err := s.skipHeader(); err != nil {
			return Event{}, err
		}
	}

	for {
		line, err := s.readLine()
		if err != nil {
			return Event{}, err
		}
		if line == "" {
			continue
		}

		ts, err := parseTimestamp(line)
		if err != nil {
			return Event{}, &ParseError{Line: s.line, Text: line, Err: err}
		}

		if off, ok := charOffset(line, TextColumn); ok && off < len(line) {
			return Event{Timestamp: ts, Text: line[off:]}, nil
		}

		dataLine := s.line
		text, err := s.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Event{}, &ParseError{Line: dataLine, Text: line, Err: ErrMissingContinuation}
			}
			return Event{}, err
		}
		return Event{Timestamp: ts, Text: text}, nil
	}
}

// Line returns the number of physical lines consumed so far.
func (s *Scanner) Line() int {
	return s.line
}

func (s *Scanner) skipHeader() error {
	for {
		line, err := s.readLine()
		if err != nil {
			return err
		}
		if strings.HasPrefix(line, HeaderMarker) {
			break
		}
	}
	for i := 0; i < headerSkip; i++ {
		if _, err := s.readLine(); err != nil {
			return err
		}
	}
	return nil
}

// readLine returns the next line without its terminator. A line ends at
// "\n", "\r\n" or a lone "\r". A final line without a terminator is
// returned before io.EOF.
func (s *Scanner) readLine() (string, error) {
	s.buf = s.buf[:0]
	for {
		c, err := s.r.ReadByte()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return "", err
			}
			if len(s.buf) == 0 {
				return "", io.EOF
			}
			break
		}
		if c == '\n' {
			break
		}
		if c == '\r' {
			if next, err := s.r.Peek(1); err == nil && next[0] == '\n' {
				s.r.ReadByte()
			}
			break
		}
		s.buf = append(s.buf, c)
	}
	s.line++
	return string(s.buf), nil
}

func parseTimestamp(line string) (int64, error) {
	off, ok := charOffset(line, TimestampWidth)
	if !ok {
		return 0, ErrShortLine
	}
	return strconv.ParseInt(strings.TrimSpace(line[:off]), 10, 64)
}

// charOffset returns the byte offset at which the n-th character of line
// starts, or len(line) when line is exactly n characters long. It reports
// false when line has fewer than n characters. An invalid byte counts as
// one character.
func charOffset(line string, n int) (int, bool) {
	if len(line) < n {
		return 0, false
	}
	if isASCII(line[:n]) {
		return n, true
	}
	count := 0
	for off := range line {
		if count == n {
			return off, true
		}
		count++
	}
	return len(line), count == n
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// ReadAll drains s and returns every event. Intended for small logs and tests.
func ReadAll(s *Scanner) ([]Event, error) {
	var events []Event
	for {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}
