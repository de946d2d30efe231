package model

import (
	"fmt"
	"time"
)

// State is the terminal state of a run.
type State int

const (
	StateSuccess State = iota
	StateNonZeroExit
	StateLaunchFailure
	StateCancelled
	// StateRejected marks runs which failed before any process was launched.
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateSuccess:
		return "success"
	case StateNonZeroExit:
		return "non-zero-exit"
	case StateLaunchFailure:
		return "launch-failure"
	case StateCancelled:
		return "cancelled"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Stream tells which output of a process a line was read from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

type Line struct {
	Stream Stream
	Text   string
}

// RunResult is produced once per run and must not be modified afterwards.
type RunResult struct {
	RunID    string
	Vendor   Vendor
	Path     string
	Args     []string
	Started  time.Time
	Stopped  time.Time
	ExitCode int
	Lines    []Line
	State    State
	Err      error
}

// Output returns the captured lines as text.
func (r RunResult) Output() []string {
	out := make([]string, len(r.Lines))
	for i, l := range r.Lines {
		out[i] = l.Text
	}
	return out
}
