package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrAborted is the error of an action stopped by Abort or Close.
	ErrAborted = errors.New("action aborted")
	// ErrNonZeroExit is wrapped by ExecError when a shell command exits
	// with a non-zero code.
	ErrNonZeroExit = errors.New("process exited with non-zero code")
	// ErrClosed is returned once the engine is closed.
	ErrClosed = errors.New("engine closed")
)

// InitStage identifies where sandbox initialization failed.
type InitStage string

// Initialization stages.
const (
	InitStageBoot     InitStage = "boot"
	InitStageSelfTest InitStage = "self_test"
)

// InitError is a sandbox initialization failure. It is fatal to Initialize
// and cached: later calls return the same error without retrying.
type InitError struct {
	Stage InitStage
	Err   error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("sandbox %s failed: %v", e.Stage, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// ExecError is an action-level execution failure. It is recorded on the
// action and never stops the queue.
type ExecError struct {
	ActionID string
	// ExitCode is set for shell actions that ran to exit.
	ExitCode int
	Err      error
}

func (e *ExecError) Error() string {
	if errors.Is(e.Err, ErrNonZeroExit) {
		return fmt.Sprintf("process exited with code %d", e.ExitCode)
	}
	return e.Err.Error()
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// IsInitError returns true if err is a sandbox initialization failure.
func IsInitError(err error) bool {
	var initErr *InitError
	return errors.As(err, &initErr)
}

// IsExecError returns true if err is an action execution failure.
func IsExecError(err error) bool {
	var execErr *ExecError
	return errors.As(err, &execErr)
}
