// Package tracecurve converts per-node trace logs into curve files.
//
// An Engine reads the node list of the configured data directory, runs one
// nodejob.Job per node under a scheduler.Pool and records every outcome in
// an optional ledger.
package tracecurve

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/unijord/tracecurve/pkg/config"
	"github.com/unijord/tracecurve/pkg/curve"
	"github.com/unijord/tracecurve/pkg/ledger"
	"github.com/unijord/tracecurve/pkg/nodejob"
	"github.com/unijord/tracecurve/pkg/record"
	"github.com/unijord/tracecurve/pkg/scheduler"
)

// ErrLedger wraps failures to record job outcomes.
var ErrLedger = errors.New("ledger write failed")

// SinkFactory creates the output sink of one node.
type SinkFactory func(dir, node string) record.Sink

// EngineOptions configures an Engine in NewEngine.
type EngineOptions func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) EngineOptions {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithOutput sets where the console lines are printed. Defaults to os.Stdout.
func WithOutput(w io.Writer) EngineOptions {
	return func(e *Engine) {
		if w != nil {
			e.out = w
		}
	}
}

// WithLedger records every run and job outcome in store.
// The engine does not close the store.
func WithLedger(store ledger.Store) EngineOptions {
	return func(e *Engine) {
		e.store = store
	}
}

// WithConfigPath records the config file a run was started from.
func WithConfigPath(path string) EngineOptions {
	return func(e *Engine) {
		e.configPath = path
	}
}

// WithStager overrides the stager. By default config.Stage selects
// nodejob.DirStager or nodejob.NopStager.
func WithStager(s nodejob.Stager) EngineOptions {
	return func(e *Engine) {
		e.stager = s
	}
}

// WithSinkFactory overrides where curves are written.
// By default each node writes a record.DirSink into its directory.
func WithSinkFactory(fn SinkFactory) EngineOptions {
	return func(e *Engine) {
		e.newSink = fn
	}
}

// WithOnJobComplete registers fn to be called after each job's status line
// is printed.
func WithOnJobComplete(fn func(nodejob.Result)) EngineOptions {
	return func(e *Engine) {
		e.onComplete = fn
	}
}

// Engine runs one configuration over its data directory.
type Engine struct {
	cfg config.Config
	set *curve.Set

	base       *slog.Logger
	logger     *slog.Logger
	out        io.Writer
	store      ledger.Store
	configPath string
	stager     nodejob.Stager
	newSink    SinkFactory
	onComplete func(nodejob.Result)
}

// Report summarizes a finished run.
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	// Results are in completion order.
	Results []nodejob.Result
	Pool    scheduler.Stats
}

// Failed returns the results of failed nodes.
func (r *Report) Failed() []nodejob.Result {
	var failed []nodejob.Result
	for _, res := range r.Results {
		if !res.OK() {
			failed = append(failed, res)
		}
	}
	return failed
}

// NewEngine validates cfg and compiles its curve definitions. Every
// configuration problem is reported before any job starts.
func NewEngine(cfg config.Config, opts ...EngineOptions) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	set, err := cfg.Compile()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:    cfg,
		set:    set,
		logger: slog.Default(),
		out:    os.Stdout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.stager == nil {
		if cfg.Stage {
			e.stager = nodejob.DirStager{}
		} else {
			e.stager = nodejob.NopStager{}
		}
	}
	e.base = e.logger
	e.logger = e.base.With("component", "engine")
	return e, nil
}

// Run processes every node listed in the data directory. Job failures are
// reported through the Report, not the error. The error is non-nil when the
// node list cannot be read or the ledger cannot be written; in the latter
// case the Report is still returned.
func (e *Engine) Run() (*Report, error) {
	fmt.Fprintf(e.out, "Max # of simultaneous processing threads:  %d\n", e.cfg.MaxJobs)

	nodes, err := config.ReadNodeList(e.cfg.DataDir)
	if err != nil {
		return nil, err
	}

	report := &Report{RunID: ledger.NewRunID(), Started: time.Now()}
	var ledgerErrs []error

	if e.store != nil {
		err := e.store.BeginRun(ledger.Run{
			ID:         report.RunID,
			Started:    report.Started,
			ConfigPath: e.configPath,
			DataDir:    e.cfg.DataDir,
			MaxJobs:    e.cfg.MaxJobs,
			Nodes:      len(nodes),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLedger, err)
		}
	}

	jobs := make([]*nodejob.Job, len(nodes))
	for i, node := range nodes {
		jobs[i] = e.newJob(node)
	}

	pool := scheduler.New(scheduler.Config[*nodejob.Job]{
		Capacity: e.cfg.MaxJobs,
		Logger:   e.base,
		OnComplete: func(j *nodejob.Job) {
			res := j.Result()
			report.Results = append(report.Results, res)
			fmt.Fprintln(e.out, res.Status)

			if e.store != nil {
				if err := e.store.PutJob(report.RunID, ledger.FromResult(res)); err != nil {
					e.logger.Error("record job", "node", res.Node, "error", err)
					ledgerErrs = append(ledgerErrs, err)
				}
			}
			if e.onComplete != nil {
				e.onComplete(res)
			}
		},
	})

	e.logger.Info("run started", "run", report.RunID, "nodes", len(nodes), "max_jobs", e.cfg.MaxJobs)
	pool.Run(jobs)

	report.Finished = time.Now()
	report.Pool = pool.Stats()
	e.logger.Info("run finished",
		"run", report.RunID,
		"failed", len(report.Failed()),
		"peak", report.Pool.Peak,
		"duration", report.Finished.Sub(report.Started))

	if len(ledgerErrs) > 0 {
		return report, fmt.Errorf("%w: %w", ErrLedger, errors.Join(ledgerErrs...))
	}
	return report, nil
}

func (e *Engine) newJob(node string) *nodejob.Job {
	dir := e.cfg.NodeDir(node)
	var sink record.Sink
	if e.newSink != nil {
		sink = e.newSink(dir, node)
	}
	return nodejob.New(nodejob.Config{
		Node:   node,
		Dir:    dir,
		Set:    e.set,
		Mode:   e.cfg.Reader,
		Stager: e.stager,
		Sink:   sink,
		Logger: e.base,
	})
}
