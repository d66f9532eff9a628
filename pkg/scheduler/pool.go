// Package scheduler runs independent jobs with a bound on how many are
// active at once.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is used when Config.Capacity is not positive.
const DefaultCapacity = 3

// Job is a unit of work. Run reports its outcome through the job itself.
type Job interface {
	Run()
}

// Config configures a Pool.
type Config[J Job] struct {
	// Capacity is the maximum number of jobs running at once.
	Capacity int

	// OnComplete is called once per job, from a single goroutine, in
	// completion order. It may be nil.
	OnComplete func(J)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Stats counts pool activity.
type Stats struct {
	Dispatched int64
	Completed  int64
	Panicked   int64
	// Peak is the highest number of jobs observed running at once.
	Peak int64
}

// Pool dispatches jobs under a counting semaphore and reports completions
// over a channel.
type Pool[J Job] struct {
	capacity   int
	onComplete func(J)
	logger     *slog.Logger

	active     atomic.Int64
	dispatched atomic.Int64
	completed  atomic.Int64
	panicked   atomic.Int64
	peak       atomic.Int64
}

// New creates a pool.
func New[J Job](cfg Config[J]) *Pool[J] {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pool[J]{
		capacity:   cfg.Capacity,
		onComplete: cfg.OnComplete,
		logger:     cfg.Logger.With("component", "scheduler"),
	}
}

// Capacity returns the concurrency bound.
func (p *Pool[J]) Capacity() int {
	return p.capacity
}

// Run dispatches every job and blocks until all of them completed and
// OnComplete returned for each. Dispatch blocks only while the pool is at
// capacity.
func (p *Pool[J]) Run(jobs []J) {
	sem := make(chan struct{}, p.capacity)
	done := make(chan J)

	var reported sync.WaitGroup
	reported.Add(1)
	go func() {
		defer reported.Done()
		for j := range done {
			p.completed.Add(1)
			if p.onComplete != nil {
				p.onComplete(j)
			}
		}
	}()

	var running sync.WaitGroup
	for _, j := range jobs {
		sem <- struct{}{}
		p.dispatched.Add(1)
		p.trackPeak(p.active.Add(1))

		running.Add(1)
		go func(j J) {
			defer running.Done()
			p.runOne(j)
			p.active.Add(-1)
			<-sem
			done <- j
		}(j)
	}

	running.Wait()
	close(done)
	reported.Wait()

	p.logger.Debug("pool drained", "jobs", len(jobs), "peak", p.peak.Load())
}

func (p *Pool[J]) runOne(j J) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.logger.Error("job panicked", "error", fmt.Sprint(r))
		}
	}()
	j.Run()
}

func (p *Pool[J]) trackPeak(n int64) {
	for {
		cur := p.peak.Load()
		if n <= cur || p.peak.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Stats returns a snapshot of the counters.
func (p *Pool[J]) Stats() Stats {
	return Stats{
		Dispatched: p.dispatched.Load(),
		Completed:  p.completed.Load(),
		Panicked:   p.panicked.Load(),
		Peak:       p.peak.Load(),
	}
}
