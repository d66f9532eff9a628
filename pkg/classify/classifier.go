// Package classify turns trace events into curve samples.
//
// A Classifier owns the curve state of one node: the pending edge of every
// block and toggle curve and the output stream of every curve. It is not safe
// for concurrent use; each job creates its own.
package classify

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/unijord/tracecurve/pkg/curve"
	"github.com/unijord/tracecurve/pkg/record"
	"github.com/unijord/tracecurve/pkg/tracelog"
)

const (
	schedPrefix = "sched: "
	exitPrefix  = "exit "
	enterPrefix = "enter "
	pidPrefix   = "pid"
)

var (
	// ErrFinalized is returned when the classifier is used after Finalize.
	ErrFinalized = errors.New("classifier finalized")
	// ErrMalformedSched is returned for a scheduler switch event whose
	// tokens cannot be split into key=value pairs.
	ErrMalformedSched = errors.New("malformed sched event")
)

// Stats counts classified events.
type Stats struct {
	// Events is the number of events applied.
	Events int64
	// Matched is the number of events matched by at least one definition.
	Matched int64
	// Defaulted is the number of events handled by the default rules.
	Defaulted int64
}

// edge is a pending block or toggle start.
type edge struct {
	at  int64
	set bool
}

type curveState struct {
	name    string
	kind    curve.Kind
	pending edge
	stream  record.Stream
}

// Classifier applies a compiled definition set to a stream of events.
type Classifier struct {
	rules []curve.Rule
	sink  record.Sink

	curves map[string]*curveState
	order  []*curveState

	stop      int64
	start     int64
	started   bool
	finalized bool
	stats     Stats
}

// New returns a classifier writing curves to sink.
func New(set *curve.Set, sink record.Sink) *Classifier {
	return &Classifier{
		rules:  set.Rules(),
		sink:   sink,
		curves: make(map[string]*curveState),
	}
}

// Apply classifies one event. An error leaves the classifier usable for
// Finalize so that the streams opened so far are closed.
func (c *Classifier) Apply(ev tracelog.Event) error {
	if c.finalized {
		return ErrFinalized
	}
	if !c.started {
		c.stop = ev.Timestamp
		c.started = true
	}
	c.stats.Events++

	matched, err := c.matchRules(ev)
	if err == nil && !matched {
		c.stats.Defaulted++
		err = c.applyDefault(ev)
	}
	if matched {
		c.stats.Matched++
	}

	c.start = ev.Timestamp
	return err
}

func (c *Classifier) matchRules(ev tracelog.Event) (bool, error) {
	matched := false
	for i := range c.rules {
		r := &c.rules[i]
		if r.MatchUp(ev.Text) {
			matched = true
			var err error
			switch r.Kind {
			case curve.KindIgnore:
				return true, nil
			case curve.KindBlock:
				err = c.blockUp(r.Name, ev.Timestamp)
			case curve.KindSpike:
				err = c.spike(r.Name, ev.Timestamp)
			case curve.KindToggle:
				err = c.toggle(r.Name, ev.Timestamp)
			}
			if err != nil {
				return matched, err
			}
		} else if r.MatchDown(ev.Text) {
			matched = true
			if err := c.blockDown(r.Name, ev.Timestamp); err != nil {
				return matched, err
			}
		}
	}
	return matched, nil
}

func (c *Classifier) applyDefault(ev tracelog.Event) error {
	text := ev.Text
	switch {
	case strings.HasPrefix(text, schedPrefix):
		prev, next, err := parseSched(text)
		if err != nil {
			return err
		}
		if err := c.blockDown(pidPrefix+prev, ev.Timestamp); err != nil {
			return err
		}
		return c.blockUp(pidPrefix+next, ev.Timestamp)
	case strings.HasPrefix(text, exitPrefix):
		return c.blockDown(text[len(exitPrefix):], ev.Timestamp)
	case strings.HasPrefix(text, enterPrefix):
		return c.blockUp(text[len(enterPrefix):], ev.Timestamp)
	default:
		return c.spike(text, ev.Timestamp)
	}
}

// parseSched extracts the values of the second and third space-separated
// tokens, e.g. "sched: prev=12 next=40" gives ("12", "40").
func parseSched(text string) (string, string, error) {
	tokens := strings.Split(text, " ")
	if len(tokens) < 3 {
		return "", "", fmt.Errorf("%w: %q: want two key=value tokens", ErrMalformedSched, text)
	}
	prev, err := schedValue(text, tokens[1])
	if err != nil {
		return "", "", err
	}
	next, err := schedValue(text, tokens[2])
	if err != nil {
		return "", "", err
	}
	return prev, next, nil
}

func schedValue(text, token string) (string, error) {
	parts := strings.Split(token, "=")
	if len(parts) < 2 || parts[1] == "" {
		return "", fmt.Errorf("%w: %q: token %q has no value", ErrMalformedSched, text, token)
	}
	return parts[1], nil
}

func (c *Classifier) ensureCurve(name string, kind curve.Kind) (*curveState, error) {
	if st, ok := c.curves[name]; ok {
		return st, nil
	}
	stream, err := c.sink.Create(name)
	if err != nil {
		return nil, err
	}
	st := &curveState{name: name, kind: kind, stream: stream}
	c.curves[name] = st
	c.order = append(c.order, st)
	return st, nil
}

func (c *Classifier) spike(name string, t int64) error {
	st, err := c.ensureCurve(name, curve.KindSpike)
	if err != nil {
		return err
	}
	return st.stream.WritePair(c.stop-t, 0)
}

func (c *Classifier) blockUp(name string, t int64) error {
	st, err := c.ensureCurve(name, curve.KindBlock)
	if err != nil {
		return err
	}
	if !st.pending.set {
		return st.stream.WritePair(0, c.stop-t)
	}
	l := st.pending.at
	st.pending = edge{}
	return st.stream.WritePair(c.stop-l, l-t)
}

func (c *Classifier) blockDown(name string, t int64) error {
	st, err := c.ensureCurve(name, curve.KindBlock)
	if err != nil {
		return err
	}
	st.pending = edge{at: t, set: true}
	return nil
}

func (c *Classifier) toggle(name string, t int64) error {
	st, err := c.ensureCurve(name, curve.KindToggle)
	if err != nil {
		return err
	}
	if !st.pending.set {
		st.pending = edge{at: t, set: true}
		return nil
	}
	l := st.pending.at
	st.pending = edge{}
	return st.stream.WritePair(c.stop-l, l-t)
}

// Finalize flushes pending edges against the last event, closes every
// stream and writes the summary. All streams are closed even if one fails;
// the first error is returned and the summary is skipped.
func (c *Classifier) Finalize() (record.Summary, error) {
	if c.finalized {
		return record.Summary{}, ErrFinalized
	}
	c.finalized = true

	var first error
	for _, st := range c.order {
		if st.pending.set {
			l := st.pending.at
			st.pending = edge{}
			if err := st.stream.WritePair(c.stop-l, l-c.start); err != nil && first == nil {
				first = fmt.Errorf("curve %q: %w", st.name, err)
			}
		}
		if err := st.stream.Close(); err != nil && first == nil {
			first = fmt.Errorf("curve %q: %w", st.name, err)
		}
	}

	sum := c.summary()
	if first != nil {
		return sum, first
	}
	if err := c.sink.WriteSummary(sum); err != nil {
		return sum, fmt.Errorf("summary: %w", err)
	}
	return sum, nil
}

// TimeRange returns the first (stop) and latest (start) event timestamps.
// Both are zero before the first event.
func (c *Classifier) TimeRange() (stop, start int64) {
	return c.stop, c.start
}

// Curves returns curve names in first-reference order.
func (c *Classifier) Curves() []string {
	names := make([]string, len(c.order))
	for i, st := range c.order {
		names[i] = st.name
	}
	return names
}

// Kind returns the kind a curve was created with.
func (c *Classifier) Kind(name string) (curve.Kind, bool) {
	st, ok := c.curves[name]
	if !ok {
		return "", false
	}
	return st.kind, true
}

// Stats returns event counters.
func (c *Classifier) Stats() Stats {
	return c.stats
}

// Abort closes every stream without flushing pending edges or writing the
// summary. It returns the first close error.
func (c *Classifier) Abort() error {
	if c.finalized {
		return ErrFinalized
	}
	c.finalized = true

	var first error
	for _, st := range c.order {
		if err := st.stream.Close(); err != nil && first == nil {
			first = fmt.Errorf("curve %q: %w", st.name, err)
		}
	}
	return first
}

func (c *Classifier) summary() record.Summary {
	return record.Summary{StopTime: c.stop, StartTime: c.start, Curves: c.Curves()}
}

// Run applies every event of s and finalizes. When scanning or
// classification fails the classifier is aborted instead: streams are
// closed, lines already written stay, and no summary is written.
func Run(c *Classifier, s *tracelog.Scanner) (record.Summary, error) {
	for {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			return c.Finalize()
		}
		if err == nil {
			err = c.Apply(ev)
		}
		if err != nil {
			// The first failure is the one reported.
			_ = c.Abort()
			return c.summary(), err
		}
	}
}
