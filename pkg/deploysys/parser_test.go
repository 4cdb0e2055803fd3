package deploysys

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePlanScript(t *testing.T, dir, content string) string {
	t.Helper()

	path := filepath.Join(dir, "deploy.star")
	require.NoError(t, os.WriteFile(path, []byte(content), 0660))
	return path
}

func TestRunScriptCollectsSteps(t *testing.T) {
	dir := t.TempDir()
	path := writePlanScript(t, dir, `
requirements = option("requirements", default="requirements.txt", help="dependency manifest")

def configure():
    install = step(
        name="install",
        desc="Install dependencies",
        cmds=["pip install -r " + requirements],
    )
    step(
        name="migrate",
        desc="Apply migrations",
        deps=["install"],
        env={"DJANGO_SETTINGS_MODULE": "app.settings"},
        cmds=[install, "python manage.py migrate --noinput"],
    )
`)

	plan, options, err := RunScript(testContext(), path, dir, nil, true)
	require.NoError(t, err)

	require.Len(t, plan, 2)
	require.Contains(t, plan, "install")
	require.Contains(t, plan, "migrate")

	migrate := plan["migrate"]
	assert.Equal(t, "Apply migrations", migrate.Desc)
	assert.Equal(t, []string{"install"}, migrate.Deps)
	assert.Equal(t, "app.settings", migrate.Env["DJANGO_SETTINGS_MODULE"])

	require.Len(t, migrate.Cmds, 2)
	ref, ok := migrate.Cmds[0].(StepCmdStepRef)
	require.True(t, ok)
	assert.Equal(t, "install", ref.Step.Name)

	script, ok := migrate.Cmds[1].(StepCmdScript)
	require.True(t, ok)
	assert.Equal(t, "python manage.py migrate --noinput", script.Content)

	require.Contains(t, options, "requirements")
	assert.Equal(t, "requirements.txt", options["requirements"].Default())
	assert.Equal(t, "dependency manifest", options["requirements"].Help)
}

func TestRunScriptOptionOverride(t *testing.T) {
	dir := t.TempDir()
	path := writePlanScript(t, dir, `
requirements = option("requirements", default="requirements.txt")

def configure():
    step(name="install", cmds=["pip install -r " + requirements])
`)

	plan, _, err := RunScript(testContext(), path, dir, map[string]string{"requirements": "requirements/prod.txt"}, true)
	require.NoError(t, err)

	script, ok := plan["install"].Cmds[0].(StepCmdScript)
	require.True(t, ok)
	assert.Equal(t, "pip install -r requirements/prod.txt", script.Content)
}

func TestRunScriptReservedStepName(t *testing.T) {
	dir := t.TempDir()
	path := writePlanScript(t, dir, `
def configure():
    step(name="configure", cmds=["true"])
`)

	_, _, err := RunScript(testContext(), path, dir, nil, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
}

func TestRunScriptMissingConfigure(t *testing.T) {
	dir := t.TempDir()
	path := writePlanScript(t, dir, `x = 1`)

	_, _, err := RunScript(testContext(), path, dir, nil, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configure")
}

func TestRunScriptAnonymousStepsAreHidden(t *testing.T) {
	dir := t.TempDir()
	path := writePlanScript(t, dir, `
def configure():
    helper = step(cmds=["true"])
    step(name="install", cmds=[helper, "pip install -r requirements.txt"])
`)

	plan, _, err := RunScript(testContext(), path, dir, nil, true)
	require.NoError(t, err)

	require.Len(t, plan, 1)
	require.Contains(t, plan, "install")

	ref, ok := plan["install"].Cmds[0].(StepCmdStepRef)
	require.True(t, ok)
	assert.True(t, ref.Step.Hidden)
	assert.Contains(t, ref.Step.Name, "auto#")
}

func TestRunScriptEnvOverridesApplyToSteps(t *testing.T) {
	dir := t.TempDir()
	path := writePlanScript(t, dir, `
def configure():
    setenv("PYTHONUNBUFFERED", "1")
    step(name="install", cmds=["pip install -r requirements.txt"])
    step(name="migrate", env={"PYTHONUNBUFFERED": "0"}, cmds=["python manage.py migrate"])
`)

	plan, _, err := RunScript(testContext(), path, dir, nil, true)
	require.NoError(t, err)

	assert.Equal(t, "1", plan["install"].Env["PYTHONUNBUFFERED"])
	// explicit step env wins over setenv
	assert.Equal(t, "0", plan["migrate"].Env["PYTHONUNBUFFERED"])
}

func TestRunScriptReadYaml(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.yml"), []byte("app:\n  settings: prod.settings\n"), 0660))
	path := writePlanScript(t, dir, `
settings = read_yaml("app.yml", "app.settings", "app.settings")

def configure():
    step(name="migrate", env={"DJANGO_SETTINGS_MODULE": settings}, cmds=["python manage.py migrate"])
`)

	plan, _, err := RunScript(testContext(), path, dir, nil, true)
	require.NoError(t, err)
	assert.Equal(t, "prod.settings", plan["migrate"].Env["DJANGO_SETTINGS_MODULE"])
}

func TestRunScriptRejectsNonStringCommand(t *testing.T) {
	dir := t.TempDir()
	path := writePlanScript(t, dir, `
def configure():
    step(name="collectstatic", cmds=[42])
`)

	_, _, err := RunScript(testContext(), path, dir, nil, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want string or step")
}

func TestRunScriptOptionInsideConfigureFails(t *testing.T) {
	dir := t.TempDir()
	path := writePlanScript(t, dir, `
def configure():
    option("late", default="nope")
`)

	_, _, err := RunScript(testContext(), path, dir, nil, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "top level")
}
