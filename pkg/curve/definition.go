package curve

import (
	"errors"
	"fmt"
	"strings"
)

// Kind selects how a definition turns matching events into curve lines.
type Kind string

const (
	// KindIgnore swallows matching events: no output and no default fallback.
	KindIgnore Kind = "ignore"

	// KindBlock pairs a down edge (Down pattern) with the next up edge (Up pattern).
	KindBlock Kind = "block"

	// KindSpike emits one zero-width line per matching event.
	KindSpike Kind = "spike"

	// KindToggle pairs every two consecutive matches of a single pattern.
	KindToggle Kind = "toggle"
)

var (
	// ErrUnknownKind is returned when a definition type is not recognized.
	ErrUnknownKind = errors.New("unknown curve type: must be 'ignore', 'block', 'spike' or 'toggle'")
	// ErrEmptyName is returned when a non-ignore definition has no name.
	ErrEmptyName = errors.New("curve name cannot be empty")
	// ErrEmptyUp is returned when the up (or only) pattern is missing.
	ErrEmptyUp = errors.New("up pattern cannot be empty")
	// ErrEmptyDown is returned when a block definition has no down pattern.
	ErrEmptyDown = errors.New("down pattern cannot be empty for block curves")
	// ErrUnexpectedDown is returned when a down pattern is set on a non-block definition.
	ErrUnexpectedDown = errors.New("down pattern is only valid for block curves")
)

// Definition is one classification rule. Up is the only pattern for
// ignore, spike and toggle definitions.
type Definition struct {
	Kind Kind   `yaml:"type" json:"type"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	Up   string `yaml:"up,omitempty" json:"up,omitempty"`
	Down string `yaml:"down,omitempty" json:"down,omitempty"`
}

// Validate checks the definition is structurally usable.
// Pattern syntax is checked later by Compile.
func (d Definition) Validate() error {
	if !IsValidKind(d.GetKind()) {
		return fmt.Errorf("%w: %q", ErrUnknownKind, d.Kind)
	}
	if d.GetKind() != KindIgnore && d.Name == "" {
		return ErrEmptyName
	}
	if d.Up == "" {
		return ErrEmptyUp
	}
	if d.GetKind() == KindBlock {
		if d.Down == "" {
			return ErrEmptyDown
		}
	} else if d.Down != "" {
		return ErrUnexpectedDown
	}
	return nil
}

// GetKind returns the normalized kind.
func (d Definition) GetKind() Kind {
	return Kind(strings.ToLower(strings.TrimSpace(string(d.Kind))))
}

// IsValidKind reports whether k is one of the four supported kinds.
func IsValidKind(k Kind) bool {
	switch k {
	case KindIgnore, KindBlock, KindSpike, KindToggle:
		return true
	default:
		return false
	}
}

// ValidationErrors collects every problem found in a definition list or
// run configuration.
type ValidationErrors struct {
	Errors []error
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d validation errors: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Add appends an error to the collection.
func (e *ValidationErrors) Add(err error) {
	e.Errors = append(e.Errors, err)
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e *ValidationErrors) Unwrap() []error {
	return e.Errors
}

// ValidateAll validates every definition and reports all failures at once.
func ValidateAll(defs []Definition) error {
	errs := &ValidationErrors{}
	for i, d := range defs {
		if err := d.Validate(); err != nil {
			errs.Add(fmt.Errorf("curves[%d]: %w", i, err))
		}
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}
