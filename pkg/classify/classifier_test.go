package classify

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unijord/tracecurve/pkg/curve"
	"github.com/unijord/tracecurve/pkg/record"
	"github.com/unijord/tracecurve/pkg/tracelog"
)

func apply(t *testing.T, c *Classifier, events ...tracelog.Event) {
	t.Helper()
	for _, ev := range events {
		require.NoError(t, c.Apply(ev))
	}
}

func TestBlock_WorkedExample(t *testing.T) {
	set := curve.MustCompile([]curve.Definition{
		{Kind: curve.KindBlock, Name: "cpu0", Up: "cpu0 run", Down: "cpu0 idle"},
	})
	sink := record.NewMemorySink()
	c := New(set, sink)

	apply(t, c,
		tracelog.Event{Timestamp: 100, Text: "cpu0 idle"},
		tracelog.Event{Timestamp: 90, Text: "cpu0 run"},
		tracelog.Event{Timestamp: 70, Text: "cpu0 idle"},
	)
	sum, err := c.Finalize()
	require.NoError(t, err)

	assert.Equal(t, []string{"0 10", "30 0"}, sink.Lines("cpu0"))
	assert.Equal(t, record.Summary{StopTime: 100, StartTime: 70, Curves: []string{"cpu0"}}, sum)
	assert.Equal(t, &sum, sink.Summary())
	assert.Equal(t, 1, sink.Stream("cpu0").Closes())
	assert.Equal(t, Stats{Events: 3, Matched: 3}, c.Stats())
}

func TestBlock_UpWithoutPending(t *testing.T) {
	set := curve.MustCompile([]curve.Definition{
		{Kind: curve.KindBlock, Name: "io", Up: "io done", Down: "io start"},
	})
	sink := record.NewMemorySink()
	c := New(set, sink)

	apply(t, c,
		tracelog.Event{Timestamp: 50, Text: "io done"},
		tracelog.Event{Timestamp: 40, Text: "io done"},
	)
	_, err := c.Finalize()
	require.NoError(t, err)
	assert.Equal(t, []string{"0 0", "0 10"}, sink.Lines("io"))
}

func TestBlock_DownOverwritesPending(t *testing.T) {
	set := curve.MustCompile([]curve.Definition{
		{Kind: curve.KindBlock, Name: "io", Up: "up", Down: "down"},
	})
	sink := record.NewMemorySink()
	c := New(set, sink)

	apply(t, c,
		tracelog.Event{Timestamp: 100, Text: "down"},
		tracelog.Event{Timestamp: 80, Text: "down"},
		tracelog.Event{Timestamp: 75, Text: "up"},
	)
	_, err := c.Finalize()
	require.NoError(t, err)
	assert.Equal(t, []string{"20 5"}, sink.Lines("io"))
}

func TestBlock_UpCheckedBeforeDown(t *testing.T) {
	// Both patterns match; only the up edge fires.
	set := curve.MustCompile([]curve.Definition{
		{Kind: curve.KindBlock, Name: "b", Up: "x.*", Down: ".*y"},
	})
	sink := record.NewMemorySink()
	c := New(set, sink)

	apply(t, c, tracelog.Event{Timestamp: 10, Text: "xy"})
	_, err := c.Finalize()
	require.NoError(t, err)
	assert.Equal(t, []string{"0 0"}, sink.Lines("b"))
}

func TestToggle_PairsAndTrailing(t *testing.T) {
	set := curve.MustCompile([]curve.Definition{
		{Kind: curve.KindToggle, Name: "gc", Up: "gc"},
	})
	sink := record.NewMemorySink()
	c := New(set, sink)

	apply(t, c,
		tracelog.Event{Timestamp: 100, Text: "gc"},
		tracelog.Event{Timestamp: 95, Text: "gc"},
		tracelog.Event{Timestamp: 90, Text: "gc"},
		tracelog.Event{Timestamp: 60, Text: "other"},
	)
	_, err := c.Finalize()
	require.NoError(t, err)

	assert.Equal(t, []string{"0 5", "10 30"}, sink.Lines("gc"))
	kind, ok := c.Kind("gc")
	require.True(t, ok)
	assert.Equal(t, curve.KindToggle, kind)
}

func TestSpike_OneLinePerMatch(t *testing.T) {
	set := curve.MustCompile([]curve.Definition{
		{Kind: curve.KindSpike, Name: "irq", Up: "irq [0-9]+"},
	})
	sink := record.NewMemorySink()
	c := New(set, sink)

	apply(t, c,
		tracelog.Event{Timestamp: 30, Text: "irq 1"},
		tracelog.Event{Timestamp: 25, Text: "irq 22"},
		tracelog.Event{Timestamp: -5, Text: "irq 3"},
	)
	_, err := c.Finalize()
	require.NoError(t, err)
	assert.Equal(t, []string{"0 0", "5 0", "35 0"}, sink.Lines("irq"))
}

func TestFullMatchOnly(t *testing.T) {
	set := curve.MustCompile([]curve.Definition{
		{Kind: curve.KindSpike, Name: "irq", Up: "irq"},
	})
	sink := record.NewMemorySink()
	c := New(set, sink)

	apply(t, c, tracelog.Event{Timestamp: 1, Text: "irq 5"})
	_, err := c.Finalize()
	require.NoError(t, err)

	assert.Nil(t, sink.Lines("irq"))
	assert.Equal(t, []string{"0 0"}, sink.Lines("irq 5"), "substring match falls through to the default spike")
	assert.Equal(t, Stats{Events: 1, Defaulted: 1}, c.Stats())
}

func TestIgnore_StopsEvaluation(t *testing.T) {
	set := curve.MustCompile([]curve.Definition{
		{Kind: curve.KindSpike, Name: "before", Up: "noise"},
		{Kind: curve.KindIgnore, Up: "noise"},
		{Kind: curve.KindSpike, Name: "after", Up: "noise"},
	})
	sink := record.NewMemorySink()
	c := New(set, sink)

	apply(t, c, tracelog.Event{Timestamp: 1, Text: "noise"})
	_, err := c.Finalize()
	require.NoError(t, err)

	assert.Equal(t, []string{"before"}, sink.Names())
	assert.Equal(t, Stats{Events: 1, Matched: 1}, c.Stats())
}

func TestIgnore_AloneProducesNothing(t *testing.T) {
	set := curve.MustCompile([]curve.Definition{{Kind: curve.KindIgnore, Up: "noise.*"}})
	sink := record.NewMemorySink()
	c := New(set, sink)

	apply(t, c, tracelog.Event{Timestamp: 1, Text: "noise 1"})
	sum, err := c.Finalize()
	require.NoError(t, err)

	assert.Empty(t, sink.Names())
	assert.Empty(t, sum.Curves)
}

func TestMultipleDefinitionsFire(t *testing.T) {
	set := curve.MustCompile([]curve.Definition{
		{Kind: curve.KindSpike, Name: "a", Up: "tick"},
		{Kind: curve.KindSpike, Name: "b", Up: "t.*"},
	})
	sink := record.NewMemorySink()
	c := New(set, sink)

	apply(t, c, tracelog.Event{Timestamp: 1, Text: "tick"})
	_, err := c.Finalize()
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, sink.Names())
	assert.Equal(t, []string{"0 0"}, sink.Lines("a"))
	assert.Equal(t, []string{"0 0"}, sink.Lines("b"))
}

func TestDefault_Sched(t *testing.T) {
	sink := record.NewMemorySink()
	c := New(nil, sink)

	apply(t, c,
		tracelog.Event{Timestamp: 100, Text: "sched: prev=1 next=2"},
		tracelog.Event{Timestamp: 80, Text: "sched: prev=2 next=1"},
	)
	_, err := c.Finalize()
	require.NoError(t, err)

	// pid1: down@100, up@80 -> (0, 20). pid2: up@100 -> (0, 0), down@80 -> trailing (20, 0).
	assert.Equal(t, []string{"pid1", "pid2"}, sink.Names())
	assert.Equal(t, []string{"0 20"}, sink.Lines("pid1"))
	assert.Equal(t, []string{"0 0", "20 0"}, sink.Lines("pid2"))
	assert.Equal(t, Stats{Events: 2, Defaulted: 2}, c.Stats())
}

func TestDefault_SchedMalformed(t *testing.T) {
	for _, text := range []string{"sched: prev=1", "sched: prev next=2", "sched: prev= next=2"} {
		c := New(nil, record.NewMemorySink())
		err := c.Apply(tracelog.Event{Timestamp: 1, Text: text})
		assert.ErrorIs(t, err, ErrMalformedSched, text)
	}
}

func TestDefault_EnterExit(t *testing.T) {
	sink := record.NewMemorySink()
	c := New(nil, sink)

	apply(t, c,
		tracelog.Event{Timestamp: 100, Text: "exit main loop"},
		tracelog.Event{Timestamp: 60, Text: "enter main loop"},
		tracelog.Event{Timestamp: 50, Text: "something else"},
	)
	sum, err := c.Finalize()
	require.NoError(t, err)

	assert.Equal(t, []string{"0 40"}, sink.Lines("main loop"))
	assert.Equal(t, []string{"50 0"}, sink.Lines("something else"))
	assert.Equal(t, []string{"main loop", "something else"}, sum.Curves)
}

func TestTimeRange(t *testing.T) {
	c := New(nil, record.NewMemorySink())
	stop, start := c.TimeRange()
	assert.Zero(t, stop)
	assert.Zero(t, start)

	apply(t, c,
		tracelog.Event{Timestamp: 10, Text: "a"},
		tracelog.Event{Timestamp: 30, Text: "b"},
		tracelog.Event{Timestamp: 20, Text: "c"},
	)
	stop, start = c.TimeRange()
	assert.Equal(t, int64(10), stop)
	assert.Equal(t, int64(20), start)
}

func TestFinalize_EmptyStream(t *testing.T) {
	sink := record.NewMemorySink()
	sum, err := New(nil, sink).Finalize()
	require.NoError(t, err)
	assert.Equal(t, &record.Summary{}, sink.Summary())
	assert.Empty(t, sum.Curves)
}

func TestFinalize_Twice(t *testing.T) {
	c := New(nil, record.NewMemorySink())
	_, err := c.Finalize()
	require.NoError(t, err)
	_, err = c.Finalize()
	assert.ErrorIs(t, err, ErrFinalized)
	assert.ErrorIs(t, c.Apply(tracelog.Event{Text: "x"}), ErrFinalized)
}

// failingSink fails Create for one name, or every Close.
type failingSink struct {
	*record.MemorySink
	failCreate string
	failClose  bool
	closed     []string
}

var errInjected = errors.New("injected")

func (f *failingSink) Create(name string) (record.Stream, error) {
	if name == f.failCreate {
		return nil, errInjected
	}
	s, err := f.MemorySink.Create(name)
	if err != nil {
		return nil, err
	}
	return &failingStream{Stream: s, sink: f, name: name}, nil
}

type failingStream struct {
	record.Stream
	sink *failingSink
	name string
}

func (s *failingStream) Close() error {
	s.sink.closed = append(s.sink.closed, s.name)
	if err := s.Stream.Close(); err != nil {
		return err
	}
	if s.sink.failClose {
		return errInjected
	}
	return nil
}

func TestCreateFailureSurfaces(t *testing.T) {
	sink := &failingSink{MemorySink: record.NewMemorySink(), failCreate: "bad"}
	c := New(nil, sink)

	require.NoError(t, c.Apply(tracelog.Event{Timestamp: 1, Text: "good"}))
	err := c.Apply(tracelog.Event{Timestamp: 2, Text: "bad"})
	assert.ErrorIs(t, err, errInjected)

	_, err = c.Finalize()
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, sink.closed)
}

func TestFinalize_ClosesAllOnFailure(t *testing.T) {
	sink := &failingSink{MemorySink: record.NewMemorySink(), failClose: true}
	c := New(nil, sink)
	apply(t, c,
		tracelog.Event{Timestamp: 1, Text: "a"},
		tracelog.Event{Timestamp: 2, Text: "b"},
	)

	_, err := c.Finalize()
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, []string{"a", "b"}, sink.closed)
	assert.Nil(t, sink.Summary(), "summary is skipped when a stream fails")
}

func TestRun_ScanErrorAborts(t *testing.T) {
	input := strings.Join([]string{
		tracelog.HeaderMarker,
		"",
		"",
		fmt.Sprintf("%19d%13s%s", 5, "", "exit worker"),
		fmt.Sprintf("%19s%13s%s", "xx", "", "broken"),
	}, "\n")

	sink := record.NewMemorySink()
	c := New(nil, sink)
	sum, err := Run(c, tracelog.NewScanner(strings.NewReader(input)))
	require.Error(t, err)

	var perr *tracelog.ParseError
	assert.True(t, errors.As(err, &perr))
	assert.Equal(t, []string{"worker"}, sum.Curves)
	assert.Empty(t, sink.Lines("worker"), "pending edges are not flushed")
	assert.Equal(t, 1, sink.Stream("worker").Closes())
	assert.Nil(t, sink.Summary())
}

func TestRun_Finalizes(t *testing.T) {
	input := strings.Join([]string{
		tracelog.HeaderMarker,
		"",
		"",
		fmt.Sprintf("%19d%13s%s", 5, "", "exit worker"),
		fmt.Sprintf("%19d%13s%s", 2, "", "idle"),
	}, "\n")

	sink := record.NewMemorySink()
	c := New(nil, sink)
	sum, err := Run(c, tracelog.NewScanner(strings.NewReader(input)))
	require.NoError(t, err)

	assert.Equal(t, record.Summary{StopTime: 5, StartTime: 2, Curves: []string{"worker", "idle"}}, sum)
	assert.Equal(t, []string{"0 3"}, sink.Lines("worker"))
	assert.Equal(t, []string{"3 0"}, sink.Lines("idle"))
	assert.Equal(t, &sum, sink.Summary())
}

func TestAbort(t *testing.T) {
	sink := record.NewMemorySink()
	c := New(nil, sink)
	apply(t, c, tracelog.Event{Timestamp: 1, Text: "exit x"})

	require.NoError(t, c.Abort())
	assert.Empty(t, sink.Lines("x"))
	assert.Equal(t, 1, sink.Stream("x").Closes())
	assert.ErrorIs(t, c.Abort(), ErrFinalized)
	_, err := c.Finalize()
	assert.ErrorIs(t, err, ErrFinalized)
}
