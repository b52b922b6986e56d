// Package types defines shared application data types.
package types

// ExitCode represents the process exit status returned by an entry point.
type ExitCode int

const (
	// ExitSuccess - the verb completed and, where applicable, connectivity was confirmed.
	ExitSuccess ExitCode = 0

	// ExitFailure - any failure, including a declined confirmation or an
	// unrecovered rollback.
	ExitFailure ExitCode = 1

	// ExitPanic - unhandled panic caught in main.
	ExitPanic ExitCode = 2

	// ExitInterrupted - SIGINT/SIGTERM received while a verb was running.
	ExitInterrupted ExitCode = 130
)

// String returns a human-readable description of the exit code.
func (e ExitCode) String() string {
	switch e {
	case ExitSuccess:
		return "success"
	case ExitFailure:
		return "failure"
	case ExitPanic:
		return "panic"
	case ExitInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Int returns the exit code as an int.
func (e ExitCode) Int() int {
	return int(e)
}
