package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Network string

const (
	NetworkNone   Network = "none"
	NetworkBridge Network = "bridge"
)

// RunSpec describes one isolated, discard-after-use process execution.
type RunSpec struct {
	JobID       string
	Image       string
	Cmd         []string
	Network     Network
	CPUQuota    int64
	MemoryLimit int64
	Timeout     time.Duration
}

type RunResult struct {
	Stdout    []byte
	Stderr    []byte
	ExitCode  int64
	Duration  time.Duration
	Truncated bool
}

// Runner executes a RunSpec in an isolated sandbox. Kill force-terminates a
// running job's sandbox; it is the only cancellation path for a stuck run.
type Runner interface {
	Run(ctx context.Context, spec RunSpec) (*RunResult, error)
	Kill(ctx context.Context, jobID string) error
}

type ErrKind int

const (
	ErrSpawn ErrKind = iota
	ErrExit
	ErrTimeout
)

// Error distinguishes spawn failures, non-zero exits, and timeouts; the job
// lifecycle manager surfaces each kind differently.
type Error struct {
	Kind     ErrKind
	Tool     string
	ExitCode int64
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrSpawn:
		return fmt.Sprintf("%s: sandbox spawn failed: %v", e.Tool, e.Err)
	case ErrTimeout:
		return fmt.Sprintf("%s: sandbox timed out: %v", e.Tool, e.Err)
	default:
		return fmt.Sprintf("%s: sandbox exited with code %d", e.Tool, e.ExitCode)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func IsTimeout(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == ErrTimeout
}
