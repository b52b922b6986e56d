package types

// RunStatus is the lifecycle status of a pipeline run as recorded in the
// journal and shown by --status.
type RunStatus string

const (
	RunRunning    RunStatus = "running"
	RunSucceeded  RunStatus = "succeeded"
	RunFailed     RunStatus = "failed"
	RunRolledBack RunStatus = "rolled_back"
)

// Terminal reports whether no further transition is expected.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunRolledBack
}

// RollbackOutcome classifies a finished rollback by the final probe.
type RollbackOutcome string

const (
	OutcomeNone        RollbackOutcome = ""
	OutcomeRecovered   RollbackOutcome = "recovered"
	OutcomeUnrecovered RollbackOutcome = "unrecovered"
)
