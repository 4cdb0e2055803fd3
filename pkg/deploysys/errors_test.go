package deploysys

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitStatusNil(t *testing.T) {
	assert.Equal(t, 0, ExitStatus(nil))
}

func TestExitStatusStepError(t *testing.T) {
	step := &Step{Name: "migrate"}
	err := newStepError(step, eris.New("boom"))

	var stepErr *StepError
	require.True(t, eris.As(err, &stepErr))
	assert.Equal(t, "migrate", stepErr.Step)
	assert.EqualValues(t, 1, stepErr.Status)
	assert.Equal(t, 1, ExitStatus(err))
}

func TestExitStatusWrappedStepError(t *testing.T) {
	step := &Step{Name: "install"}
	err := eris.Wrap(newStepError(step, eris.New("boom")), "deployment aborted")

	assert.Equal(t, 1, ExitStatus(err))
}

func TestExitStatusGenericError(t *testing.T) {
	assert.Equal(t, 1, ExitStatus(eris.New("no plan file found")))
}

func TestStepErrorMessage(t *testing.T) {
	err := newStepError(&Step{Name: "collectstatic"}, eris.New("boom"))
	assert.Equal(t, "step collectstatic failed with status 1", err.Error())
}
