package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driverpack/driverpack/internal/model"
)

const (
	defaultWaitDelay = 5 * time.Second
	maxLineSize      = 1024 * 1024
)

// LineFunc receives output lines of a process. Calls are serialized.
type LineFunc func(ctx context.Context, line model.Line)

type Command struct {
	Path string
	Args []string
	// Env of the process, nil inherits the current environment
	Env []string
	// Timeout of zero means no timeout, otherwise the process is killed
	// exactly as on cancellation.
	Timeout time.Duration
	// WaitDelay bounds the wait for output pipes after the process exited or
	// was killed, they may be kept open by orphaned descendants.
	WaitDelay time.Duration
}

// Runner runs exactly one process over its lifetime.
type Runner struct {
	used      atomic.Bool
	startFunc func(pid int)
}

func NewRunner() *Runner {
	return &Runner{}
}

// WithStartFunc registers f to be called once the process has started.
func (r *Runner) WithStartFunc(f func(pid int)) *Runner {
	r.startFunc = f
	return r
}

// Run starts the process and blocks until it exits or ctx is done. Lines of
// one stream reach lineFunc in the order they were written; lines of stdout
// and stderr interleave in the order they were read. On cancellation the
// process is killed and awaited before Run returns.
//
// Killing relies on the OS: a process which can't be terminated keeps Run
// blocked, only the wait for its output pipes is bounded by WaitDelay.
//
// A Runner which already ran reports StateLaunchFailure with ErrRunnerUsed
// without starting anything. This is a misuse of the Runner, not an OS
// failure; check it with errors.Is before looking at the state.
func (r *Runner) Run(ctx context.Context, proto Command, lineFunc LineFunc) model.RunResult {
	result := model.RunResult{
		Path:     proto.Path,
		Args:     append([]string(nil), proto.Args...),
		ExitCode: -1,
	}
	if !r.used.CompareAndSwap(false, true) {
		result.State = model.StateLaunchFailure
		result.Err = model.ErrRunnerUsed
		return result
	}

	if proto.Timeout == 0 {
		slog.DebugContext(ctx, "command has no timeout", "path", proto.Path)
	} else {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, proto.Timeout)
		defer cancel()
	}

	result.Started = time.Now().UTC()
	if err := ctx.Err(); err != nil {
		result.Stopped = result.Started
		result.State = model.StateCancelled
		result.Err = fmt.Errorf("%w: before start: %w", model.ErrCancelled, err)
		return result
	}

	waitDelay := proto.WaitDelay
	if waitDelay <= 0 {
		waitDelay = defaultWaitDelay
	}

	cmd := exec.CommandContext(ctx, proto.Path, proto.Args...)
	cmd.Env = proto.Env
	cmd.WaitDelay = waitDelay
	configure(cmd)

	launchFailed := func(err error) model.RunResult {
		result.Stopped = time.Now().UTC()
		result.State = model.StateLaunchFailure
		result.Err = fmt.Errorf("%w: %w", model.ErrLaunch, err)
		return result
	}

	// os pipes are handed to the child as they are, the scanners read them
	// without an exec copy goroutine in between
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return launchFailed(err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return launchFailed(err)
	}
	closeReaders := func() {
		_ = stdoutR.Close()
		_ = stderrR.Close()
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	startErr := cmd.Start()
	// the child holds its own copies of the write ends
	_ = stdoutW.Close()
	_ = stderrW.Close()
	if startErr != nil {
		closeReaders()
		return launchFailed(startErr)
	}
	slog.DebugContext(ctx, "process started", "path", proto.Path, "pid", cmd.Process.Pid)
	if r.startFunc != nil {
		r.startFunc(cmd.Process.Pid)
	}

	var mx sync.Mutex
	emit := func(stream model.Stream, text string) {
		mx.Lock()
		defer mx.Unlock()
		line := model.Line{Stream: stream, Text: text}
		result.Lines = append(result.Lines, line)
		if lineFunc != nil {
			lineFunc(ctx, line)
		}
	}

	var g errgroup.Group
	g.Go(func() error { return scanLines(stdoutR, model.Stdout, emit) })
	g.Go(func() error { return scanLines(stderrR, model.Stderr, emit) })
	scanned := make(chan error, 1)
	go func() {
		scanned <- g.Wait()
	}()

	waitErr := cmd.Wait()

	// descendants may keep the output open after the process is gone
	var scanErr error
	timer := time.NewTimer(waitDelay)
	select {
	case scanErr = <-scanned:
		timer.Stop()
	case <-timer.C:
		slog.WarnContext(ctx, "process exited but its output stayed open", "path", proto.Path, "wait_delay", waitDelay)
		closeReaders()
		scanErr = <-scanned
	}
	closeReaders()
	if scanErr != nil && !errors.Is(scanErr, os.ErrClosed) {
		slog.WarnContext(ctx, "reading process output", "error", scanErr)
	}

	result.Stopped = time.Now().UTC()
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr != nil && ctx.Err() != nil:
		result.State = model.StateCancelled
		result.Err = fmt.Errorf("%w: %w", model.ErrCancelled, context.Cause(ctx))
	case waitErr == nil:
		if result.ExitCode == 0 {
			result.State = model.StateSuccess
		} else {
			result.State = model.StateNonZeroExit
			result.Err = fmt.Errorf("%w: exit code %d", model.ErrRuntimeFailure, result.ExitCode)
		}
	case errors.As(waitErr, &exitErr):
		result.State = model.StateNonZeroExit
		result.Err = fmt.Errorf("%w: exit code %d", model.ErrRuntimeFailure, result.ExitCode)
	default:
		result.State = model.StateNonZeroExit
		result.Err = fmt.Errorf("%w: %w", model.ErrRuntimeFailure, waitErr)
	}
	return result
}

func scanLines(r io.Reader, stream model.Stream, emit func(model.Stream, string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		emit(stream, scanner.Text())
	}
	err := scanner.Err()
	if err != nil {
		// keep the writer side unblocked, the process must not stall on us
		_, _ = io.Copy(io.Discard, r)
		return fmt.Errorf("%s: %w", stream, err)
	}
	return nil
}
