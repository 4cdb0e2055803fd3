package deploysys

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"gopkg.in/yaml.v3"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// scriptLog reports a message from the plan script together with the script
// position it came from.
func scriptLog(thread *starlark.Thread, level zerolog.Level, message string) {
	b := builder(thread)
	pos := thread.CallFrame(1).Pos

	log(b.ctx).WithLevel(level).Msgf("%s:%d: %s", b.rel(b.planFile), pos.Line, message)
}

func starInfo(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	scriptLog(thread, zerolog.InfoLevel, message)
	return starlark.None, nil
}

func starWarn(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	scriptLog(thread, zerolog.WarnLevel, message)
	return starlark.None, nil
}

// starError aborts the script with the given message.
func starError(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	return nil, eris.New(message)
}

func starGetenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &key)
	if err != nil {
		return nil, err
	}

	if value, ok := builder(thread).env[key]; ok {
		return starlark.String(value), nil
	}

	return starlark.String(os.Getenv(key)), nil
}

func starSetenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key, value string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &key, &value)
	if err != nil {
		return nil, err
	}

	builder(thread).env[key] = value
	return starlark.None, nil
}

// starPrependPath puts a plan-relative directory in front of PATH, which is
// how plans pick up a virtualenv or the binaries from fetch-tools.
func starPrependPath(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var dir string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &dir)
	if err != nil {
		return nil, err
	}

	b := builder(thread)
	current, ok := b.env["PATH"]
	if !ok {
		current = os.Getenv("PATH")
	}

	b.env["PATH"] = b.path(dir) + string(os.PathListSeparator) + current
	return starlark.None, nil
}

// starReadYaml looks up a dotted key in a YAML file, for example
// read_yaml("app.yml", "app.settings", "prod.settings"). List elements are
// addressed by index. The third argument is returned when the key is missing.
func starReadYaml(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var file, key string
	var fallback starlark.Value

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &file, &key, &fallback)
	if err != nil {
		return nil, err
	}

	b := builder(thread)
	full := b.path(file)

	doc, cached := b.yamlDocs[full]
	if !cached {
		content, err := os.ReadFile(full)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to read %s", full)
		}

		if err := yaml.Unmarshal(content, &doc); err != nil {
			return nil, eris.Wrapf(err, "failed to parse %s", full)
		}

		b.yamlDocs[full] = doc
	}

	node := doc
	for _, part := range strings.Split(key, ".") {
		switch current := node.(type) {
		case map[string]interface{}:
			node = current[part]
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(current) {
				node = nil
			} else {
				node = current[idx]
			}
		default:
			node = nil
		}

		if node == nil {
			break
		}
	}

	switch value := node.(type) {
	case nil:
		if fallback == nil {
			return starlark.None, nil
		}
		return fallback, nil
	case string:
		return starlark.String(value), nil
	case int:
		return starlark.MakeInt(value), nil
	case bool:
		return starlark.Bool(value), nil
	case float64:
		return starlark.Float(value), nil
	default:
		return nil, eris.Errorf("%s: value at %s has unsupported type %T", fn.Name(), key, value)
	}
}

func starIsdir(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return statMatches(thread, fn, args, kwargs, os.FileInfo.IsDir)
}

func starIsfile(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return statMatches(thread, fn, args, kwargs, func(info os.FileInfo) bool {
		return info.Mode().IsRegular()
	})
}

func statMatches(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple, match func(os.FileInfo) bool) (starlark.Value, error) {
	var path string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(builder(thread).path(path))
	return starlark.Bool(err == nil && match(info)), nil
}

// starExecute runs a shell command during plan evaluation and returns its
// output, or False when the command failed. Plans use it to inspect the
// environment, for example "execute('python3 --version')".
func starExecute(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var command string
	var showError bool

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "command", &command, "show_error?", &showError)
	if err != nil {
		return nil, err
	}

	b := builder(thread)
	stmts, err := StepCmdScript{StepName: fn.Name(), Content: command}.ToShellStmts(syntax.NewParser())
	if err != nil {
		return nil, err
	}

	var errOut io.Writer
	if showError {
		errOut = os.Stderr
	}

	output := strings.Builder{}
	runner, err := interp.New(
		interp.Dir(b.planDir),
		interp.Env(expand.ListEnviron(b.environ()...)),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, &output, errOut),
		interp.Params("-e"),
	)
	if err != nil {
		return nil, eris.Wrap(err, "failed to initialize the shell runner")
	}

	for _, stmt := range stmts {
		if err := runner.Run(b.ctx, stmt); err != nil {
			if showError {
				log(b.ctx).Error().Err(err).Msg("command failed")
			}
			return starlark.False, nil
		}
	}

	return starlark.String(output.String()), nil
}
