// Package execer lets you run one external command. It knows nothing about
// templates or sessions; it is at the level of os/exec plus process-tree
// termination, with a simulation implementation for tests.
package execer

import (
	"fmt"
	"io"
	"time"
)

// Command describes one process to run.
type Command struct {
	Argv []string

	// Dir is the working directory for the process.
	Dir string

	// EnvVars are added on top of the parent environment.
	EnvVars map[string]string

	Stdout io.Writer
	Stderr io.Writer

	// KillGracePeriod is how long Abort waits between the polite terminate
	// signal and the hard kill. Zero means kill immediately.
	KillGracePeriod time.Duration
}

type ProcessState int

const (
	// An unambiguous 0-value.
	UNKNOWN ProcessState = iota
	RUNNING
	// Ran to completion yielding an exit code. Only state with an exit code.
	COMPLETE
	// The run mechanism failed or the process was aborted.
	FAILED
)

func (s ProcessState) IsDone() bool {
	return s == COMPLETE || s == FAILED
}

func (s ProcessState) String() string {
	switch s {
	case UNKNOWN:
		return "UNKNOWN"
	case RUNNING:
		return "RUNNING"
	case COMPLETE:
		return "COMPLETE"
	case FAILED:
		return "FAILED"
	default:
		panic(fmt.Sprintf("unexpected ProcessState %v", int(s)))
	}
}

type ProcessStatus struct {
	State    ProcessState
	ExitCode int
	Error    string
}

type Execer interface {
	Exec(command Command) (Process, error)
}

type Process interface {
	// Wait blocks until the process exits and returns its final status.
	Wait() ProcessStatus

	// Abort terminates the process and its entire process tree, honoring
	// the command's kill grace period. The process's Wait unblocks after
	// the tree is gone.
	Abort() ProcessStatus
}
