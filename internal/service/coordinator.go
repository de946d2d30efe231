package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driverpack/driverpack/internal/args"
	"github.com/driverpack/driverpack/internal/log"
	"github.com/driverpack/driverpack/internal/model"
	"github.com/driverpack/driverpack/internal/scripts"
)

// Phase of a Coordinator run.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseResolving
	PhaseMaterializing
	PhaseLaunching
	PhaseStreaming
	PhaseCompleted
	PhaseCancelled
	PhaseFailed
	PhaseCleanedUp
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseResolving:
		return "resolving"
	case PhaseMaterializing:
		return "materializing"
	case PhaseLaunching:
		return "launching"
	case PhaseStreaming:
		return "streaming"
	case PhaseCompleted:
		return "completed"
	case PhaseCancelled:
		return "cancelled"
	case PhaseFailed:
		return "failed"
	case PhaseCleanedUp:
		return "cleaned-up"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

func (p Phase) terminal() bool {
	return p >= PhaseCompleted
}

// ConfigSource provides the live configuration snapshot.
type ConfigSource interface {
	Snapshot() *model.Config
	Path() string
}

// ScriptSource materializes bundled scripts.
type ScriptSource interface {
	Materialize(name string) (*scripts.TempScript, error)
}

// PhaseFunc observes phase transitions.
type PhaseFunc func(runID string, phase Phase)

var errCancelledByUser = errors.New("cancelled by user")

// Coordinator executes run requests one at a time. It owns the temp script
// and the process of the in-flight run and releases both on every exit path.
type Coordinator struct {
	cfg       ConfigSource
	scripts   ScriptSource
	timeout   time.Duration
	waitDelay time.Duration
	bufSize   int
	onPhase   PhaseFunc

	mx      sync.Mutex
	running bool
	phase   Phase
	cancel  context.CancelCauseFunc
}

type CoordinatorOption func(*Coordinator)

// WithTimeout caps a run, reaching it behaves as Cancel.
func WithTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.timeout = d
	}
}

func WithWaitDelay(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.waitDelay = d
	}
}

// WithLineBuffer sets how many output lines may wait for a slow sink before
// the process output is throttled.
func WithLineBuffer(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.bufSize = n
		}
	}
}

func WithPhaseFunc(f PhaseFunc) CoordinatorOption {
	return func(c *Coordinator) {
		c.onPhase = f
	}
}

func NewCoordinator(cfg ConfigSource, src ScriptSource, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		cfg:     cfg,
		scripts: src,
		bufSize: 64,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Phase returns the phase of the current or the last run.
func (c *Coordinator) Phase() Phase {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.phase
}

// Cancel stops the in-flight run. It is a no-op when no run is in flight or
// the run already reached a terminal phase.
func (c *Coordinator) Cancel() {
	c.mx.Lock()
	defer c.mx.Unlock()
	if !c.running || c.cancel == nil || c.phase.terminal() {
		return
	}
	c.cancel(errCancelledByUser)
}

// Execute runs req to completion. Output lines are passed to sink as they
// arrive; sink is called from a single goroutine and never after Execute
// returns. The returned error is nil only for a successful run.
func (c *Coordinator) Execute(ctx context.Context, req model.RunRequest, sink LineFunc) (model.RunResult, error) {
	runID := uuid.NewString()
	result := model.RunResult{
		RunID:    runID,
		Vendor:   req.Vendor,
		ExitCode: -1,
		State:    model.StateRejected,
	}

	c.mx.Lock()
	if c.running {
		c.mx.Unlock()
		result.Err = model.ErrRunInProgress
		return result, result.Err
	}
	ctx, cancel := context.WithCancelCause(ctx)
	c.running = true
	c.phase = PhaseIdle
	c.cancel = cancel
	c.mx.Unlock()

	defer func() {
		cancel(nil)
		c.mx.Lock()
		c.running = false
		c.cancel = nil
		c.mx.Unlock()
	}()

	ctx = log.ContextAttrs(ctx,
		slog.String("run_id", runID),
		slog.String("vendor", req.Vendor.String()),
	)

	var ts *scripts.TempScript
	defer func() {
		if ts != nil {
			if err := ts.Release(); err != nil {
				slog.WarnContext(ctx, "temp script cleanup failed", "error", err)
			}
		}
		c.setPhase(ctx, runID, PhaseCleanedUp)
	}()

	fail := func(err error) (model.RunResult, error) {
		c.setPhase(ctx, runID, PhaseFailed)
		result.Err = err
		result.Stopped = time.Now().UTC()
		slog.ErrorContext(ctx, "run failed before launch", "error", err)
		return result, err
	}

	result.Started = time.Now().UTC()
	c.setPhase(ctx, runID, PhaseResolving)
	if err := req.Validate(); err != nil {
		return fail(err)
	}
	profile, err := c.cfg.Snapshot().Profile(req.Vendor)
	if err != nil {
		return fail(err)
	}
	executable := profile.Executable
	if executable == "" {
		executable = DefaultExecutable
	}
	if err := ctx.Err(); err != nil {
		c.setPhase(ctx, runID, PhaseCancelled)
		result.State = model.StateCancelled
		result.Err = fmt.Errorf("%w: before start: %w", model.ErrCancelled, context.Cause(ctx))
		result.Stopped = time.Now().UTC()
		slog.InfoContext(ctx, "run cancelled before start")
		return result, result.Err
	}

	c.setPhase(ctx, runID, PhaseMaterializing)
	ts, err = c.scripts.Materialize(profile.ScriptName)
	if err != nil {
		return fail(err)
	}
	slog.InfoContext(ctx, "script written", "path", ts.Path())

	argv, err := args.Build(req, profile, ts.Path(), args.Options{ConfigPath: c.cfg.Path()})
	if err != nil {
		return fail(err)
	}

	c.setPhase(ctx, runID, PhaseLaunching)
	slog.InfoContext(ctx, "running script", "executable", executable, "args", args.Quote(argv))

	lines := make(chan model.Line, c.bufSize)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for line := range lines {
			if sink != nil {
				sink(ctx, line)
			}
		}
	}()

	runner := NewRunner().WithStartFunc(func(pid int) {
		slog.DebugContext(ctx, "script started", "pid", pid)
		c.setPhase(ctx, runID, PhaseStreaming)
	})
	res := runner.Run(ctx, Command{
		Path:      executable,
		Args:      argv,
		Timeout:   c.timeout,
		WaitDelay: c.waitDelay,
	}, func(_ context.Context, line model.Line) {
		lines <- line
	})
	close(lines)
	<-forwarded

	res.RunID = runID
	res.Vendor = req.Vendor
	switch res.State {
	case model.StateSuccess, model.StateNonZeroExit:
		c.setPhase(ctx, runID, PhaseCompleted)
	case model.StateCancelled:
		c.setPhase(ctx, runID, PhaseCancelled)
	default:
		c.setPhase(ctx, runID, PhaseFailed)
	}
	slog.InfoContext(ctx, "script finished",
		"state", res.State.String(),
		"exit_code", res.ExitCode,
		"lines", len(res.Lines),
		"duration", res.Stopped.Sub(res.Started).String(),
	)
	return res, res.Err
}

func (c *Coordinator) setPhase(ctx context.Context, runID string, p Phase) {
	c.mx.Lock()
	c.phase = p
	c.mx.Unlock()
	slog.DebugContext(ctx, "run phase", "phase", p.String())
	if c.onPhase != nil {
		c.onPhase(runID, p)
	}
}
