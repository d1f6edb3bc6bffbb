package stats

// Metric names emitted by the session orchestrator.
const (
	SessionsStarted   = "sessionsStarted"
	SessionsSucceeded = "sessionsSucceeded"
	SessionsFailed    = "sessionsFailed"

	TasksRun       = "tasksRun"
	TasksFailed    = "tasksFailed"
	TasksRemaining = "tasksRemaining"

	ActionsRun      = "actionsRun"
	ActionsFailed   = "actionsFailed"
	ActionsTimedOut = "actionsTimedOut"
	ActionsCanceled = "actionsCanceled"
	ActionLatency   = "actionLatency"
)
