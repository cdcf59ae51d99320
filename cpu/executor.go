// Package cpu implements a data-parallel executor backed by a persistent pool
// of goroutines.
//
// Jobs are cut into contiguous grain-sized batches that the submitting
// goroutine and the pool claim until none are left. Multiply and Add run
// through the SIMD block routines of algo-vecmath; other operations are
// applied element by element.
package cpu

import (
	"context"
	"fmt"
	"io/ioutil"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/openfluke/reactor/device"
	"github.com/openfluke/reactor/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Name identifies the CPU executor in logs, metrics and errors.
const Name = "cpu"

// Config encapsulates the settings for a CPU executor.
type Config struct {
	// The number of goroutines that work on a job, counting the submitting
	// one. If not specified, GOMAXPROCS is used.
	Workers int

	// The number of elements in one batch. Jobs no larger than a single
	// grain run entirely on the submitting goroutine. Defaults to 1024.
	Grain int

	// A clock instance for timing jobs. If not specified, the default
	// wall-clock will be used instead.
	Clock clock.Clock

	// Optional collectors for kernel metrics.
	Metrics *metrics.Collector

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if cfg.Workers < 0 {
		err = multierror.Append(err, xerrors.Errorf("invalid value for workers"))
	} else if cfg.Workers == 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Grain < 0 {
		err = multierror.Append(err, xerrors.Errorf("invalid value for grain"))
	} else if cfg.Grain == 0 {
		cfg.Grain = 1024
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: ioutil.Discard})
	}
	return err
}

// Executor runs kernels on the host CPU.
type Executor struct {
	cfg  Config
	pool *pool

	// mu is held for reading by running jobs and for writing by Close so
	// that the pool is never closed underneath a job.
	mu     sync.RWMutex
	closed bool
}

// NewExecutor starts the worker pool described by cfg.
func NewExecutor(cfg Config) (*Executor, error) {
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Errorf("cpu executor: config validation failed: %w", err)
	}
	return &Executor{
		cfg:  cfg,
		pool: newPool(cfg.Workers - 1),
	}, nil
}

// Name implements device.Executor.
func (e *Executor) Name() string { return Name }

// Workers returns the number of goroutines that work on a job.
func (e *Executor) Workers() int { return e.cfg.Workers }

// Device describes the host the executor runs on.
func (e *Executor) Device() string {
	return fmt.Sprintf("%s/%s CPU (%d workers)", runtime.GOOS, runtime.GOARCH, e.cfg.Workers)
}

// Close stops the workers. Jobs that are already running finish first.
// Calling Close multiple times is safe.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		e.pool.close()
	}
	return nil
}

// Submit implements device.Executor. The job runs to completion on the pool
// before Submit returns, so the returned event is already resolved. The
// context is only consulted before launch; a running job is never
// interrupted.
func (e *Executor) Submit(ctx context.Context, k device.Kernel) device.Event {
	if err := ctx.Err(); err != nil {
		return device.Done{Err: err}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return device.Done{Err: device.ErrExecutorClosed}
	}
	if k.Op == nil {
		return device.Done{Err: xerrors.Errorf("kernel has no operation: %w", device.ErrUnsupportedOp)}
	}

	var (
		opName = k.Op.Name()
		n      = k.Len()
		start  = e.cfg.Clock.Now()
	)

	kernel := kernelFor(k.Op)
	err := e.pool.parallelFor(n, e.cfg.Grain, func(lo, hi int) {
		kernel(k.Data, lo, hi)
	})
	took := e.cfg.Clock.Now().Sub(start)

	e.cfg.Metrics.Observe(Name, opName, n, took, err)
	logger := e.cfg.Logger.WithFields(logrus.Fields{
		"job":     uuid.New().String(),
		"op":      opName,
		"n":       n,
		"workers": e.cfg.Workers,
		"took":    took.String(),
	})
	if err != nil {
		logger.WithField("err", err).Error("kernel failed")
		return device.Done{Err: err}
	}
	logger.Debug("kernel complete")
	return device.Done{}
}
