package nodejob

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/unijord/tracecurve/pkg/record"
)

// Staging steps reported by StageError.
const (
	StepExtract = "extract"
	StepClear   = "clear"
	StepRestore = "restore"
)

// StageError is returned when preparing a node directory fails.
type StageError struct {
	Step string
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Step, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Stager prepares a node directory so that only the raw log remains.
type Stager interface {
	Stage(dir, node string) error
}

var (
	_ Stager = DirStager{}
	_ Stager = NopStager{}
)

// DirStager parks <dir>/<node>.log in the parent directory, removes every
// other entry of dir and moves the log back.
type DirStager struct{}

func (DirStager) Stage(dir, node string) error {
	name := record.LogFileName(node)
	log := filepath.Join(dir, name)
	parked := filepath.Join(dir, "..", name)

	if err := os.Rename(log, parked); err != nil {
		return &StageError{Step: StepExtract, Err: err}
	}

	var clearErr error
	if err := clearDir(dir); err != nil {
		clearErr = &StageError{Step: StepClear, Err: err}
	}

	// The log goes back even when clearing failed.
	var restoreErr error
	if err := os.Rename(parked, log); err != nil {
		restoreErr = &StageError{Step: StepRestore, Err: err}
	}
	return errors.Join(clearErr, restoreErr)
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NopStager leaves the node directory untouched.
type NopStager struct{}

func (NopStager) Stage(string, string) error { return nil }
