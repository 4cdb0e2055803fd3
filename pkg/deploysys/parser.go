package deploysys

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
)

const builderKey = "planBuilder"

// planBuilder accumulates the state of a deploy.star evaluation: the declared
// options and steps, the setenv overrides and the cached YAML documents.
type planBuilder struct {
	ctx      context.Context
	root     string
	planDir  string
	planFile string
	options  map[string]ScriptOption
	values   map[string]string
	env      map[string]string
	yamlDocs map[string]interface{}
	steps    []*Step
	sealed   bool
}

func builder(thread *starlark.Thread) *planBuilder {
	return thread.Local(builderKey).(*planBuilder)
}

// path resolves a plan-relative path. A "//" prefix anchors the path at the
// project root instead of the plan file's directory.
func (b *planBuilder) path(parts ...string) string {
	result := b.planDir
	for _, part := range parts {
		switch {
		case strings.HasPrefix(part, "//"):
			result = filepath.Join(b.root, part[2:])
		case filepath.IsAbs(part):
			result = part
		default:
			result = filepath.Join(result, part)
		}
	}

	return filepath.Clean(result)
}

// rel shortens paths below the project root for log output.
func (b *planBuilder) rel(path string) string {
	rel, err := filepath.Rel(b.root, path)
	if err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}

	return path
}

// environ merges the process environment with the script's setenv overrides.
// Overrides come last so they win during expansion.
func (b *planBuilder) environ() []string {
	merged := os.Environ()
	for key, value := range b.env {
		merged = append(merged, key+"="+value)
	}

	return merged
}

func stringList(list *starlark.List, field string) ([]string, error) {
	result := []string{}
	if list == nil {
		return result, nil
	}

	iter := list.Iterate()
	defer iter.Done()

	var item starlark.Value
	for iter.Next(&item) {
		text, ok := starlark.AsString(item)
		if !ok {
			return nil, eris.Errorf("%s entries must be strings, found %s", field, item.Type())
		}

		result = append(result, text)
	}

	return result, nil
}

func stringDict(dict *starlark.Dict, field string) (map[string]string, error) {
	result := map[string]string{}
	if dict == nil {
		return result, nil
	}

	for _, pair := range dict.Items() {
		key, ok := starlark.AsString(pair[0])
		if !ok {
			return nil, eris.Errorf("%s keys must be strings, found %s", field, pair[0].Type())
		}

		value, ok := starlark.AsString(pair[1])
		if !ok {
			return nil, eris.Errorf("%s values must be strings, found %s", field, pair[1].Type())
		}

		result[key] = value
	}

	return result, nil
}

// starOption declares a plan option. Options can only be declared at the top
// level so that every option is known before configure() runs.
func starOption(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, fallback, help string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &fallback, "help?", &help)
	if err != nil {
		return nil, err
	}

	b := builder(thread)
	if b.sealed {
		return nil, eris.New("options must be declared at the top level, before configure runs")
	}

	b.options[name] = ScriptOption{DefaultValue: fallback, Help: help}

	if value, ok := b.values[name]; ok {
		return starlark.String(value), nil
	}

	return starlark.String(fallback), nil
}

// starStep declares a deployment step. Commands are shell strings or
// references to previously declared steps.
func starStep(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var deps, skipIfExists *starlark.List
	var env *starlark.Dict
	var cmds *starlark.List

	step := new(Step)
	err := starlark.UnpackArgs(fn.Name(), args, kwargs,
		"name??", &step.Name, "desc?", &step.Desc, "base?", &step.Base,
		"deps?", &deps, "skip_if_exists?", &skipIfExists, "env?", &env,
		"cmds?", &cmds, "hidden?", &step.Hidden)
	if err != nil {
		return nil, err
	}

	if step.Name == "" {
		step.Hidden = true
		step.Name = "auto#" + nanoid.New()
	}

	if step.Name == "configure" {
		return nil, eris.New(`the step name "configure" is reserved, please use a different name`)
	}

	b := builder(thread)
	if step.Base == "" {
		step.Base = "."
	}
	step.Base = b.path(step.Base)

	if step.Deps, err = stringList(deps, "deps"); err != nil {
		return nil, err
	}

	if step.SkipIfExists, err = stringList(skipIfExists, "skip_if_exists"); err != nil {
		return nil, err
	}

	if step.Env, err = stringDict(env, "env"); err != nil {
		return nil, err
	}

	step.Cmds = make([]StepCmd, 0)
	if cmds != nil {
		iter := cmds.Iterate()
		defer iter.Done()

		var item starlark.Value
		for idx := 0; iter.Next(&item); idx++ {
			switch value := item.(type) {
			case starlark.String:
				step.Cmds = append(step.Cmds, StepCmdScript{
					StepName: step.Name,
					Index:    idx,
					Content:  value.GoString(),
				})
			case *Step:
				step.Cmds = append(step.Cmds, StepCmdStepRef{Step: value})
			default:
				return nil, eris.Errorf("command #%d of step %s has type %s, want string or step", idx, step.Name, item.Type())
			}
		}
	}

	if !step.Hidden {
		b.steps = append(b.steps, step)
	}

	return step, nil
}

func planBuiltins() starlark.StringDict {
	return starlark.StringDict{
		"OS":           starlark.String(runtime.GOOS),
		"ARCH":         starlark.String(runtime.GOARCH),
		"step":         starlark.NewBuiltin("step", starStep),
		"option":       starlark.NewBuiltin("option", starOption),
		"getenv":       starlark.NewBuiltin("getenv", starGetenv),
		"setenv":       starlark.NewBuiltin("setenv", starSetenv),
		"prepend_path": starlark.NewBuiltin("prepend_path", starPrependPath),
		"read_yaml":    starlark.NewBuiltin("read_yaml", starReadYaml),
		"isdir":        starlark.NewBuiltin("isdir", starIsdir),
		"isfile":       starlark.NewBuiltin("isfile", starIsfile),
		"execute":      starlark.NewBuiltin("execute", starExecute),
		"info":         starlark.NewBuiltin("info", starInfo),
		"warn":         starlark.NewBuiltin("warn", starWarn),
		"error":        starlark.NewBuiltin("error", starError),
	}
}

func scriptError(err error) error {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		return eris.New(evalErr.Backtrace())
	}

	return eris.Wrap(err, "plan script failed")
}

// RunScript evaluates a deploy.star file and returns its options. When
// doConfigure is set, the script's configure function runs as well and the
// steps it declares are collected into the returned plan.
func RunScript(ctx context.Context, filename, projectRoot string, options map[string]string, doConfigure bool) (Plan, map[string]ScriptOption, error) {
	absRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, nil, err
	}

	absFile, err := filepath.Abs(filename)
	if err != nil {
		return nil, nil, err
	}

	b := &planBuilder{
		ctx:      ctx,
		root:     absRoot,
		planDir:  filepath.Dir(absFile),
		planFile: absFile,
		options:  map[string]ScriptOption{},
		values:   options,
		env:      map[string]string{},
		yamlDocs: map[string]interface{}{},
	}

	thread := &starlark.Thread{
		Name: "plan",
		Print: func(thread *starlark.Thread, msg string) {
			log(ctx).Info().Str("script", thread.Name).Msg(msg)
		},
	}
	thread.SetLocal(builderKey, b)

	source, err := os.ReadFile(absFile)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "failed to read %s", filename)
	}

	globals, err := starlark.ExecFile(thread, b.rel(absFile), source, planBuiltins())
	if err != nil {
		return nil, nil, scriptError(err)
	}

	plan := Plan{}
	if doConfigure {
		b.sealed = true

		configure, ok := globals["configure"].(starlark.Callable)
		if !ok {
			return nil, nil, eris.Errorf("%s does not define a configure function", b.rel(absFile))
		}

		if _, err := starlark.Call(thread, configure, nil, nil); err != nil {
			return nil, nil, scriptError(err)
		}

		for _, step := range b.steps {
			plan[step.Name] = step

			// setenv overrides apply to every step unless the step sets the
			// variable itself
			for key, value := range b.env {
				if _, set := step.Env[key]; !set {
					step.Env[key] = value
				}
			}
		}
	}

	return plan, b.options, nil
}
