package deploysys

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".deckhand.cache")

	install := &Step{
		Name: "install",
		Desc: "Install Python dependencies",
		Base: dir,
		Env:  map[string]string{"PIP_NO_INPUT": "1"},
		Cmds: []StepCmd{StepCmdScript{StepName: "install", Content: "pip install -r requirements.txt"}},
	}
	migrate := &Step{
		Name: "migrate",
		Base: dir,
		Deps: []string{"install"},
		Cmds: []StepCmd{
			StepCmdStepRef{Step: install},
			StepCmdScript{StepName: "migrate", Index: 1, Content: "python manage.py migrate --noinput"},
		},
	}

	plan := Plan{"install": install, "migrate": migrate}
	options := map[string]string{"requirements": "requirements/prod.txt"}

	require.NoError(t, WriteCache(file, options, plan))

	loadedOptions, loadedPlan, err := ReadCache(file)
	require.NoError(t, err)

	assert.Equal(t, options, loadedOptions)
	require.Len(t, loadedPlan, 2)
	assert.Equal(t, install.Cmds, loadedPlan["install"].Cmds)
	assert.Equal(t, install.Env, loadedPlan["install"].Env)
	assert.Equal(t, migrate.Deps, loadedPlan["migrate"].Deps)

	ref, ok := loadedPlan["migrate"].Cmds[0].(StepCmdStepRef)
	require.True(t, ok)
	assert.Equal(t, "install", ref.Step.Name)
}

func TestReadCacheMissingFile(t *testing.T) {
	_, _, err := ReadCache(filepath.Join(t.TempDir(), "nope.cache"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}
