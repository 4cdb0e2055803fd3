package deploysys

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() context.Context {
	logger := zerolog.Nop()
	return WithLogger(context.Background(), &logger)
}

func scriptStep(name, base string, cmds ...string) *Step {
	stepCmds := make([]StepCmd, len(cmds))
	for idx, cmd := range cmds {
		stepCmds[idx] = StepCmdScript{StepName: name, Index: idx, Content: cmd}
	}

	return &Step{
		Name: name,
		Base: base,
		Cmds: stepCmds,
	}
}

func readLog(t *testing.T, base string) string {
	t.Helper()

	content, err := os.ReadFile(filepath.Join(base, "log.txt"))
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return ""
		}
		t.Fatal(err)
	}

	return string(content)
}

func TestRunSequenceAllSucceed(t *testing.T) {
	base := t.TempDir()
	plan := Plan{
		"install":       scriptStep("install", base, "echo install >> log.txt"),
		"collectstatic": scriptStep("collectstatic", base, "echo collectstatic >> log.txt"),
		"migrate":       scriptStep("migrate", base, "echo migrate >> log.txt"),
	}

	err := RunSequence(testContext(), base, []string{"install", "collectstatic", "migrate"}, plan, false, false)
	require.NoError(t, err)

	assert.Equal(t, "install\ncollectstatic\nmigrate\n", readLog(t, base))
}

func TestRunSequenceStopsAtFirstFailure(t *testing.T) {
	base := t.TempDir()
	plan := Plan{
		"install":       scriptStep("install", base, "echo install >> log.txt"),
		"collectstatic": scriptStep("collectstatic", base, "false"),
		"migrate":       scriptStep("migrate", base, "echo migrate >> log.txt"),
	}

	err := RunSequence(testContext(), base, []string{"install", "collectstatic", "migrate"}, plan, false, false)
	require.Error(t, err)

	var stepErr *StepError
	require.True(t, eris.As(err, &stepErr))
	assert.Equal(t, "collectstatic", stepErr.Step)
	assert.EqualValues(t, 1, stepErr.Status)

	// the failing step aborted the run before migrate
	assert.Equal(t, "install\n", readLog(t, base))
}

func TestRunSequencePropagatesExitStatus(t *testing.T) {
	base := t.TempDir()
	plan := Plan{
		"migrate": scriptStep("migrate", base, "exit 3"),
	}

	err := RunSequence(testContext(), base, []string{"migrate"}, plan, false, false)
	require.Error(t, err)
	assert.Equal(t, 3, ExitStatus(err))
}

func TestRunSequenceFailsOnMultiCommandStep(t *testing.T) {
	base := t.TempDir()
	plan := Plan{
		"install": scriptStep("install", base,
			"echo first >> log.txt",
			"exit 2",
			"echo third >> log.txt"),
	}

	err := RunSequence(testContext(), base, []string{"install"}, plan, false, false)
	require.Error(t, err)
	assert.Equal(t, 2, ExitStatus(err))
	assert.Equal(t, "first\n", readLog(t, base))
}

func TestRunStepUnknownStep(t *testing.T) {
	err := RunStep(testContext(), t.TempDir(), "nope", Plan{}, false, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRunSequenceDryRun(t *testing.T) {
	base := t.TempDir()
	plan := Plan{
		"install": scriptStep("install", base, "echo install >> log.txt"),
	}

	err := RunSequence(testContext(), base, []string{"install"}, plan, true, false)
	require.NoError(t, err)
	assert.Equal(t, "", readLog(t, base))
}

func TestRunStepRunsDependenciesFirst(t *testing.T) {
	base := t.TempDir()
	collect := scriptStep("collectstatic", base, "echo collectstatic >> log.txt")
	collect.Deps = []string{"install"}

	plan := Plan{
		"install":       scriptStep("install", base, "echo install >> log.txt"),
		"collectstatic": collect,
	}

	err := RunStep(testContext(), base, "collectstatic", plan, false, false)
	require.NoError(t, err)
	assert.Equal(t, "install\ncollectstatic\n", readLog(t, base))
}

func TestRunStepFailingDependencyAbortsStep(t *testing.T) {
	base := t.TempDir()
	collect := scriptStep("collectstatic", base, "echo collectstatic >> log.txt")
	collect.Deps = []string{"install"}

	plan := Plan{
		"install":       scriptStep("install", base, "false"),
		"collectstatic": collect,
	}

	err := RunStep(testContext(), base, "collectstatic", plan, false, false)
	require.Error(t, err)
	assert.Equal(t, 1, ExitStatus(err))
	assert.Equal(t, "", readLog(t, base))
}

func TestRunSequenceDoesNotRepeatSharedDependency(t *testing.T) {
	base := t.TempDir()
	collect := scriptStep("collectstatic", base, "echo collectstatic >> log.txt")
	collect.Deps = []string{"install"}
	migrate := scriptStep("migrate", base, "echo migrate >> log.txt")
	migrate.Deps = []string{"install"}

	plan := Plan{
		"install":       scriptStep("install", base, "echo install >> log.txt"),
		"collectstatic": collect,
		"migrate":       migrate,
	}

	err := RunSequence(testContext(), base, []string{"install", "collectstatic", "migrate"}, plan, false, false)
	require.NoError(t, err)
	assert.Equal(t, "install\ncollectstatic\nmigrate\n", readLog(t, base))
}

func TestRunSequenceSkipIfExists(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "marker.txt"), []byte("x"), 0660))

	install := scriptStep("install", base, "echo install >> log.txt")
	install.SkipIfExists = []string{"marker.txt"}

	plan := Plan{"install": install}

	err := RunSequence(testContext(), base, []string{"install"}, plan, false, false)
	require.NoError(t, err)
	assert.Equal(t, "", readLog(t, base))

	// force overrides the skip guard
	err = RunSequence(testContext(), base, []string{"install"}, plan, false, true)
	require.NoError(t, err)
	assert.Equal(t, "install\n", readLog(t, base))
}

func TestRunSequenceRerunIsIdempotent(t *testing.T) {
	base := t.TempDir()
	plan := Plan{
		"install": scriptStep("install", base, "echo install > log.txt"),
	}

	for i := 0; i < 2; i++ {
		err := RunSequence(testContext(), base, []string{"install"}, plan, false, false)
		require.NoError(t, err)
	}

	assert.Equal(t, "install\n", readLog(t, base))
}

func TestRunSequenceStepEnv(t *testing.T) {
	base := t.TempDir()
	install := scriptStep("install", base, "echo $DEPLOY_MODE >> log.txt")
	install.Env = map[string]string{"DEPLOY_MODE": "production"}

	plan := Plan{"install": install}

	err := RunSequence(testContext(), base, []string{"install"}, plan, false, false)
	require.NoError(t, err)
	assert.Equal(t, "production\n", readLog(t, base))
}

func TestRunSequenceCancelledContext(t *testing.T) {
	base := t.TempDir()
	plan := Plan{
		"install": scriptStep("install", base, "echo install >> log.txt"),
	}

	ctx, cancel := context.WithCancel(testContext())
	cancel()

	err := RunSequence(ctx, base, []string{"install"}, plan, false, false)
	require.Error(t, err)
	assert.Equal(t, "", readLog(t, base))
}
