package session

import (
	"fmt"
	"time"
)

// State is the session lifecycle state machine:
// INITIALIZING -> ENTERING_ENVIRONMENTS -> READY -> RUNNING_TASK (repeats)
// -> EXITING_ENVIRONMENTS -> ENDED_SUCCESS | ENDED_FAILED.
type State int

const (
	INITIALIZING State = iota
	ENTERING_ENVIRONMENTS
	READY
	RUNNING_TASK
	EXITING_ENVIRONMENTS
	ENDED_SUCCESS
	ENDED_FAILED
)

func (s State) IsDone() bool {
	return s == ENDED_SUCCESS || s == ENDED_FAILED
}

func (s State) String() string {
	switch s {
	case INITIALIZING:
		return "INITIALIZING"
	case ENTERING_ENVIRONMENTS:
		return "ENTERING_ENVIRONMENTS"
	case READY:
		return "READY"
	case RUNNING_TASK:
		return "RUNNING_TASK"
	case EXITING_ENVIRONMENTS:
		return "EXITING_ENVIRONMENTS"
	case ENDED_SUCCESS:
		return "ENDED_SUCCESS"
	case ENDED_FAILED:
		return "ENDED_FAILED"
	default:
		panic(fmt.Sprintf("unexpected session State %v", int(s)))
	}
}

// ActionStatus is the terminal status of one action.
type ActionStatus int

const (
	SUCCESS ActionStatus = iota
	FAILED
	CANCELED
	TIMEOUT
)

func (s ActionStatus) String() string {
	switch s {
	case SUCCESS:
		return "SUCCESS"
	case FAILED:
		return "FAILED"
	case CANCELED:
		return "CANCELED"
	case TIMEOUT:
		return "TIMEOUT"
	default:
		panic(fmt.Sprintf("unexpected ActionStatus %v", int(s)))
	}
}

type EventType int

const (
	EnvironmentEntered EventType = iota
	EnvironmentExited
	TaskStarted
	ActionStarted
	ActionOutput
	ActionCompleted
	SessionEnded
)

func (t EventType) String() string {
	switch t {
	case EnvironmentEntered:
		return "EnvironmentEntered"
	case EnvironmentExited:
		return "EnvironmentExited"
	case TaskStarted:
		return "TaskStarted"
	case ActionStarted:
		return "ActionStarted"
	case ActionOutput:
		return "ActionOutput"
	case ActionCompleted:
		return "ActionCompleted"
	case SessionEnded:
		return "SessionEnded"
	default:
		panic(fmt.Sprintf("unexpected EventType %v", int(t)))
	}
}

// Event is one entry in a session's ordered result stream.
type Event struct {
	Type      EventType
	SessionID string
	Time      time.Time

	// EnvironmentEntered/EnvironmentExited
	Environment string

	// TaskStarted and everything below it
	TaskID string
	// Parameter values of the started task, rendered "name=value ...".
	TaskParameters string

	// ActionStarted/ActionOutput/ActionCompleted
	Action string
	Output string
	Status ActionStatus
	// Only meaningful on ActionCompleted with Status SUCCESS or FAILED.
	ExitCode int
	Message  string

	// SessionEnded
	FinalState  State
	TasksRun    int
	TasksFailed int
	Duration    time.Duration
}

// Result aggregates a finished session.
type Result struct {
	SessionID   string
	State       State
	TasksRun    int
	TasksFailed int
	Duration    time.Duration
	// Err is set only for setup failures that aborted the session before
	// any environment was entered.
	Err error
	// Events is the ordered stream, ending with the SessionEnded event.
	Events []Event
}

// Succeeded reports whether every assigned task ran to success.
func (r Result) Succeeded() bool { return r.State == ENDED_SUCCESS }
