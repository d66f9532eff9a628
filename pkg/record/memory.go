package record

import (
	"fmt"
	"sync"
)

// MemorySink keeps curve output in memory. It is used for dry runs and tests.
type MemorySink struct {
	mu      sync.Mutex
	streams map[string]*MemoryStream
	order   []string
	summary *Summary
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{streams: make(map[string]*MemoryStream)}
}

func (m *MemorySink) Create(name string) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streams[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateCurve, name)
	}
	s := &MemoryStream{}
	m.streams[name] = s
	m.order = append(m.order, name)
	return s, nil
}

func (m *MemorySink) WriteSummary(s Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := s
	cp.Curves = append([]string(nil), s.Curves...)
	m.summary = &cp
	return nil
}

// Stream returns the stream created for name, or nil.
func (m *MemorySink) Stream(name string) *MemoryStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[name]
}

// Lines returns the lines written to a curve, or nil if it was never created.
func (m *MemorySink) Lines(name string) []string {
	if s := m.Stream(name); s != nil {
		return s.Lines()
	}
	return nil
}

// Names returns created curve names in creation order.
func (m *MemorySink) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// Summary returns the stored summary, or nil if none was written.
func (m *MemorySink) Summary() *Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summary
}

// MemoryStream records pairs as text lines.
type MemoryStream struct {
	mu     sync.Mutex
	lines  []string
	closes int
}

func (s *MemoryStream) WritePair(a, b int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closes > 0 {
		return ErrClosed
	}
	line := AppendPair(nil, a, b)
	s.lines = append(s.lines, string(line[:len(line)-1]))
	return nil
}

func (s *MemoryStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if s.closes > 1 {
		return ErrClosed
	}
	return nil
}

// Lines returns the written lines without newlines.
func (s *MemoryStream) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// Closes returns how many times Close was called.
func (s *MemoryStream) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
