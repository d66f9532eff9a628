package curve

import (
	"fmt"
	"regexp"
)

// PatternError represents a pattern that failed to compile.
type PatternError struct {
	// Index is the definition index (0-indexed).
	Index int

	// Field is "up" or "down".
	Field string

	// Source is the original pattern text.
	Source string

	// Err is the underlying regexp error.
	Err error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("curves[%d].%s: %v (pattern: %s)", e.Index, e.Field, e.Err, e.Source)
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// Rule is a compiled Definition.
type Rule struct {
	Index int
	Kind  Kind
	Name  string

	up   *regexp.Regexp
	down *regexp.Regexp
}

// MatchUp reports whether text matches the up pattern in full.
func (r *Rule) MatchUp(text string) bool {
	return r.up.MatchString(text)
}

// MatchDown reports whether text matches the down pattern in full.
// Always false for non-block rules.
func (r *Rule) MatchDown(text string) bool {
	return r.down != nil && r.down.MatchString(text)
}

// Set is the immutable, compiled list of rules shared by all jobs.
// It is safe for concurrent use.
type Set struct {
	rules []Rule
}

// Compile validates defs and compiles every pattern. Patterns are anchored
// so that they must match the whole event text.
func Compile(defs []Definition) (*Set, error) {
	if err := ValidateAll(defs); err != nil {
		return nil, err
	}

	errs := &ValidationErrors{}
	rules := make([]Rule, 0, len(defs))
	for i, d := range defs {
		rule := Rule{Index: i, Kind: d.GetKind(), Name: d.Name}

		up, err := compileFull(d.Up)
		if err != nil {
			errs.Add(&PatternError{Index: i, Field: "up", Source: d.Up, Err: err})
		}
		rule.up = up

		if rule.Kind == KindBlock {
			down, err := compileFull(d.Down)
			if err != nil {
				errs.Add(&PatternError{Index: i, Field: "down", Source: d.Down, Err: err})
			}
			rule.down = down
		}
		rules = append(rules, rule)
	}
	if errs.HasErrors() {
		return nil, errs
	}
	return &Set{rules: rules}, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and
// package-level fixtures.
func MustCompile(defs []Definition) *Set {
	s, err := Compile(defs)
	if err != nil {
		panic(err)
	}
	return s
}

func compileFull(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(`^(?:` + pattern + `)$`)
}

// Rules returns the compiled rules in definition order.
// The returned slice must not be modified.
func (s *Set) Rules() []Rule {
	if s == nil {
		return nil
	}
	return s.rules
}

// Len returns the number of rules.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}
