package deploysys

import (
	"fmt"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/interp"
)

// StepError reports the step that terminated a run together with the exit
// status of the first failing command.
type StepError struct {
	err    error
	Step   string
	Status uint8
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed with status %d", e.Step, e.Status)
}

func (e *StepError) Unwrap() error {
	return e.err
}

func newStepError(step *Step, err error) error {
	status := uint8(1)
	if code, ok := interp.IsExitStatus(err); ok {
		status = code
	}

	return &StepError{
		err:    err,
		Step:   step.Name,
		Status: status,
	}
}

// ExitStatus maps the result of a run to the process exit code: 0 for
// success, the failing step's status for a StepError and 1 for anything else.
func ExitStatus(err error) int {
	if err == nil {
		return 0
	}

	var stepErr *StepError
	if eris.As(err, &stepErr) {
		return int(stepErr.Status)
	}

	if code, ok := interp.IsExitStatus(err); ok {
		return int(code)
	}

	return 1
}
