// Package nodejob processes the trace log of a single node: stage the node
// directory, scan the log, classify every event and write the curves.
package nodejob

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/unijord/tracecurve/pkg/classify"
	"github.com/unijord/tracecurve/pkg/curve"
	"github.com/unijord/tracecurve/pkg/record"
	"github.com/unijord/tracecurve/pkg/tracelog"
)

const successSuffix = "  successfully parsed."

// Config configures a Job.
type Config struct {
	// Node is the node id. The log is read from <Dir>/<Node>.log.
	Node string

	// Dir is the node directory, usually <data_dir>/<Node>.
	Dir string

	// Set is the compiled definition set shared by all jobs.
	Set *curve.Set

	// Mode selects how the log is read. Defaults to tracelog.ModeBuffered.
	Mode tracelog.Mode

	// Stager prepares Dir before processing. Defaults to DirStager.
	Stager Stager

	// Sink receives the curves. Defaults to a record.DirSink on Dir.
	Sink record.Sink

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Result is the outcome of one job.
type Result struct {
	Node   string
	Status string
	Err    error

	StopTime  int64
	StartTime int64
	Curves    []string
	Checksums []record.Checksum
	Stats     classify.Stats

	Started  time.Time
	Finished time.Time
}

// OK reports whether the node was processed successfully.
func (r Result) OK() bool {
	return r.Err == nil
}

// Duration is the wall time spent on the job.
func (r Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// SuccessStatus is the status line of a successful node.
func SuccessStatus(node string) string {
	return node + ":" + successSuffix
}

// FailureStatus is the status line of a failed node.
func FailureStatus(node string, err error) string {
	return node + ":\n" + err.Error()
}

// checksummer is implemented by sinks that hash what they write.
type checksummer interface {
	Checksums() []record.Checksum
}

// Job processes one node. Run never panics and never returns an error;
// the outcome is reported through Result.
type Job struct {
	cfg    Config
	logger *slog.Logger
	result Result
}

// New creates a job. Defaults are applied to unset Config fields.
func New(cfg Config) *Job {
	if cfg.Mode == "" {
		cfg.Mode = tracelog.ModeBuffered
	}
	if cfg.Stager == nil {
		cfg.Stager = DirStager{}
	}
	if cfg.Sink == nil {
		cfg.Sink = record.NewDirSink(cfg.Dir, cfg.Node)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Job{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "nodejob", "node", cfg.Node),
		result: Result{Node: cfg.Node},
	}
}

// Node returns the node id.
func (j *Job) Node() string {
	return j.cfg.Node
}

// Result returns the outcome. It is only meaningful after Run returned.
func (j *Job) Result() Result {
	return j.result
}

// Run processes the node.
func (j *Job) Run() {
	j.result.Started = time.Now()
	defer func() {
		if r := recover(); r != nil {
			j.fail(fmt.Errorf("panic: %v", r))
		}
		j.result.Finished = time.Now()
		j.logger.Debug("job finished", "ok", j.result.OK(), "duration", j.result.Duration())
	}()

	if err := j.cfg.Stager.Stage(j.cfg.Dir, j.cfg.Node); err != nil {
		j.fail(err)
		return
	}

	err := j.process()
	if cs, ok := j.cfg.Sink.(checksummer); ok {
		j.result.Checksums = cs.Checksums()
	}
	if err != nil {
		j.fail(err)
		return
	}
	j.result.Status = SuccessStatus(j.cfg.Node)
}

func (j *Job) process() (err error) {
	path := filepath.Join(j.cfg.Dir, record.LogFileName(j.cfg.Node))
	rc, err := tracelog.Open(path, j.cfg.Mode)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close log: %w", cerr)
		}
	}()

	c := classify.New(j.cfg.Set, j.cfg.Sink)
	sum, runErr := classify.Run(c, tracelog.NewScanner(rc))

	j.result.StopTime = sum.StopTime
	j.result.StartTime = sum.StartTime
	j.result.Curves = sum.Curves
	j.result.Stats = c.Stats()
	return runErr
}

func (j *Job) fail(err error) {
	j.result.Err = err
	j.result.Status = FailureStatus(j.cfg.Node, err)
	j.logger.Warn("job failed", "error", err)
}
