package orchestrator

import (
	"errors"
	"fmt"

	"github.com/tis24dev/routeguard/internal/system"
)

var (
	// ErrProbe marks a connectivity gate that failed after all retries.
	ErrProbe = errors.New("connectivity probe failed")

	// ErrPackageInstall marks an essential package that could not be installed.
	ErrPackageInstall = errors.New("package installation failed")

	// ErrVerification marks a pipeline whose steps all passed but whose final
	// connectivity check did not.
	ErrVerification = errors.New("final connectivity verification failed")

	// ErrDeclined is returned when the operator answers no to a confirmation.
	ErrDeclined = errors.New("operation declined by operator")

	// ErrConfirmationRequired is returned when a confirmation is needed but
	// there is no terminal to ask on.
	ErrConfirmationRequired = errors.New("confirmation required: rerun with --yes or from a terminal")

	// ErrIllegalTransition marks a pipeline phase change that the state
	// machine does not allow. It always indicates a programming error.
	ErrIllegalTransition = errors.New("illegal pipeline phase transition")

	// ErrInterrupted marks a run cancelled mid-step (Ctrl+C, SIGTERM).
	ErrInterrupted = errors.New("run interrupted")
)

// ProbeError describes a failed connectivity gate.
type ProbeError struct {
	Step      string
	Target    string
	Interface string
	Attempts  int
	Reason    string
}

func (e *ProbeError) Error() string {
	where := e.Target
	if e.Interface != "" {
		where += " via " + e.Interface
	}
	msg := fmt.Sprintf("%s unreachable after %d attempt(s)", where, e.Attempts)
	if e.Step != "" {
		msg = fmt.Sprintf("after step %q: %s", e.Step, msg)
	}
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

func (e *ProbeError) Unwrap() error { return ErrProbe }

// PackageError describes a package that failed to install. Only essential
// packages abort the pipeline; the rest are reported as warnings.
type PackageError struct {
	Manager   system.PackageManager
	Package   string
	Essential bool
	Err       error
}

func (e *PackageError) Error() string {
	kind := "optional"
	if e.Essential {
		kind = "essential"
	}
	return fmt.Sprintf("install %s package %s (%s): %v", e.Manager, e.Package, kind, e.Err)
}

func (e *PackageError) Unwrap() []error {
	if e.Essential {
		return []error{ErrPackageInstall, e.Err}
	}
	return []error{e.Err}
}

// TransitionError is an ErrIllegalTransition with the offending phases.
type TransitionError struct {
	From Phase
	To   Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s -> %s", ErrIllegalTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }
