package errors

type ExitCode int

const (
	Ok ExitCode = 0

	// Pre-execution failures. None of these leave a session behind.
	ValidationFailedExitCode  ExitCode = 10
	ExpansionFailedExitCode   ExitCode = 11
	PathMappingFailedExitCode ExitCode = 12

	// Session failures.
	SessionSetupFailedExitCode ExitCode = 20
	TaskFailedExitCode         ExitCode = 21

	GenericFailureExitCode ExitCode = 1
)
