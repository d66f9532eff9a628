package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/unijord/tracecurve/pkg/curve"
)

const (
	markerDataDir   = "# data directory"
	markerMaxJobs   = "# max number of"
	markerRawCurves = "# raw curves"

	blockUpPrefix   = "up="
	blockDownPrefix = "down="
)

var (
	// ErrUnexpectedEOF is returned when a section marker or definition
	// header is not followed by its value lines.
	ErrUnexpectedEOF = errors.New("unexpected end of config")
	// ErrMalformedHeader is returned for a definition line without ':'.
	ErrMalformedHeader = errors.New("definition line must be '<type>: <name>'")
	// ErrMalformedBlock is returned when a block pattern line lacks up= or down=.
	ErrMalformedBlock = errors.New("block pattern must start with up= or down=")
)

// LineError locates a legacy config problem.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

type lineReader struct {
	sc   *bufio.Scanner
	line int
}

func (r *lineReader) next() (string, bool) {
	if !r.sc.Scan() {
		return "", false
	}
	r.line++
	return strings.TrimSuffix(r.sc.Text(), "\r"), true
}

// value reads the line following a marker or header.
func (r *lineReader) value() (string, error) {
	v, ok := r.next()
	if !ok {
		if err := r.sc.Err(); err != nil {
			return "", err
		}
		return "", &LineError{Line: r.line + 1, Err: ErrUnexpectedEOF}
	}
	return v, nil
}

// ParseLegacy reads the line-oriented config format:
//
//	# data directory
//	/path/to/data
//	# max number of simultaneous threads
//	4
//	# raw curves
//	block: cpu0
//	up=cpu0 run
//	down=cpu0 idle
//	spike: irq
//	irq [0-9]+
//	ignore:
//	noise.*
//
// Blank lines are skipped everywhere. Every non-blank line after
// "# raw curves" starts a definition. Value lines are taken verbatim.
func ParseLegacy(r io.Reader) (Config, error) {
	cfg := Default()
	lr := &lineReader{sc: bufio.NewScanner(r)}
	lr.sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	inCurves := false
	for {
		text, ok := lr.next()
		if !ok {
			break
		}
		switch {
		case text == "":
			continue
		case text == markerDataDir:
			v, err := lr.value()
			if err != nil {
				return Config{}, err
			}
			cfg.DataDir = v
		case strings.HasPrefix(text, markerMaxJobs):
			v, err := lr.value()
			if err != nil {
				return Config{}, err
			}
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return Config{}, &LineError{Line: lr.line, Err: err}
			}
			cfg.MaxJobs = n
		case text == markerRawCurves:
			inCurves = true
		case inCurves:
			def, err := parseDefinition(lr, text)
			if err != nil {
				return Config{}, err
			}
			cfg.Curves = append(cfg.Curves, def)
		}
	}
	if err := lr.sc.Err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseDefinition(lr *lineReader, header string) (curve.Definition, error) {
	kind, name, ok := strings.Cut(header, ":")
	if !ok {
		return curve.Definition{}, &LineError{Line: lr.line, Err: ErrMalformedHeader}
	}
	def := curve.Definition{Kind: curve.Kind(kind)}
	if def.GetKind() != curve.KindIgnore {
		def.Name = strings.TrimPrefix(name, " ")
	}

	if def.GetKind() != curve.KindBlock {
		up, err := lr.value()
		if err != nil {
			return curve.Definition{}, err
		}
		def.Up = up
		return def, nil
	}

	// Two lines, up= and down=, in either order.
	for range 2 {
		v, err := lr.value()
		if err != nil {
			return curve.Definition{}, err
		}
		switch {
		case strings.HasPrefix(v, blockUpPrefix):
			def.Up = v[len(blockUpPrefix):]
		case strings.HasPrefix(v, blockDownPrefix):
			def.Down = v[len(blockDownPrefix):]
		default:
			return curve.Definition{}, &LineError{Line: lr.line, Err: ErrMalformedBlock}
		}
	}
	return def, nil
}
