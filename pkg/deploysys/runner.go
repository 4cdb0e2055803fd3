package deploysys

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

type runStateKey struct{}

// runState tracks which steps already ran during a single sequence so shared
// dependencies execute only once. A false entry marks a step that is still
// running, which lets us detect dependency cycles.
type runState struct {
	finished map[string]bool
}

func currentRun(ctx context.Context) *runState {
	return ctx.Value(runStateKey{}).(*runState)
}

// stepEnviron merges the process environment with the step's overrides. The
// overrides come last so they win during expansion.
func stepEnviron(step *Step) expand.Environ {
	merged := os.Environ()
	for key, value := range step.Env {
		merged = append(merged, key+"="+value)
	}

	return expand.ListEnviron(merged...)
}

var hostExec = interp.DefaultExecHandler(2)

// execHandler reroutes mv, rm and mkdir through the deckhand binary so plan
// commands behave identically on Windows and Unix.
func execHandler(ctx context.Context, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "mv", "rm", "mkdir":
			args = append([]string{"deckhand"}, args...)
		}
	}

	return hostExec(ctx, args)
}

var hostOpen = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	// plan scripts use the POSIX name even on Windows
	if path == "/dev/null" {
		path = os.DevNull
	}

	return hostOpen(ctx, path, flag, perm)
}

// RunStep executes a single step after its dependencies.
func RunStep(ctx context.Context, projectRoot, name string, plan Plan, dryRun, force bool) error {
	return RunSequence(ctx, projectRoot, []string{name}, plan, dryRun, force)
}

// RunSequence executes the named steps strictly in the given order. Steps
// that already ran during this sequence, for example as a dependency of an
// earlier step, are not repeated. The sequence stops at the first failing
// step and reports its exit status through a StepError.
func RunSequence(ctx context.Context, projectRoot string, names []string, plan Plan, dryRun, force bool) error {
	ctx = context.WithValue(ctx, runStateKey{}, &runState{finished: map[string]bool{}})
	log(ctx).Debug().
		Str("run", nanoid.New()).
		Str("root", projectRoot).
		Msgf("Starting run with %d steps", len(names))

	for _, name := range names {
		step, ok := plan[name]
		if !ok {
			return eris.Errorf("Step %s not found", name)
		}

		if err := runStep(ctx, step, plan, dryRun, force, true); err != nil {
			return err
		}
	}

	return nil
}

func runStep(ctx context.Context, step *Step, plan Plan, dryRun, force, allowSkip bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	state := currentRun(ctx)
	if finished, seen := state.finished[step.Name]; seen {
		if !finished {
			return eris.Errorf("Step %s depends on itself", step.Name)
		}

		log(ctx).Debug().Msgf("Step %s already ran", step.Name)
		return nil
	}
	state.finished[step.Name] = false

	for _, name := range step.Deps {
		dep, ok := plan[name]
		if !ok {
			return eris.Errorf("Step %s not found", name)
		}

		if err := runStep(ctx, dep, plan, dryRun, false, true); err != nil {
			return eris.Wrapf(err, "Step %s failed due to its dependency %s", step.Name, name)
		}
	}

	if allowSkip && !force {
		satisfied, err := skipTargetsExist(step)
		if err != nil {
			return err
		}

		if satisfied {
			log(ctx).Info().Str("step", step.Name).Msg("skipped because all skip files exist")
			state.finished[step.Name] = true
			return nil
		}
	}

	if err := execCommands(ctx, step, plan, dryRun, force); err != nil {
		return err
	}

	state.finished[step.Name] = true
	return nil
}

// skipTargetsExist reports whether every file in the step's skip_if_exists
// list is present. Relative entries are resolved against the step's base.
func skipTargetsExist(step *Step) (bool, error) {
	if len(step.SkipIfExists) == 0 {
		return false, nil
	}

	for _, item := range step.SkipIfExists {
		if !filepath.IsAbs(item) {
			item = filepath.Join(step.Base, item)
		}

		_, err := os.Stat(item)
		if eris.Is(err, os.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, eris.Wrapf(err, "Failed to check %s", item)
		}
	}

	return true, nil
}

func execCommands(ctx context.Context, step *Step, plan Plan, dryRun, force bool) error {
	runner, err := interp.New(
		interp.Dir(step.Base),
		interp.Env(stepEnviron(step)),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, os.Stdout, os.Stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrap(err, "Failed to initialize the shell runner")
	}

	parser := syntax.NewParser()
	printer := syntax.NewPrinter(syntax.Minify(true))
	rendered := strings.Builder{}

	for _, item := range step.Cmds {
		ref, err := item.ToStep()
		if err != nil {
			return err
		}

		if ref != nil {
			if err := runStep(ctx, ref, plan, dryRun, force, true); err != nil {
				return err
			}
			continue
		}

		stmts, err := item.ToShellStmts(parser)
		if err != nil {
			return eris.Wrap(err, "failed to parse shell command")
		}

		for _, stmt := range stmts {
			rendered.Reset()
			printer.Print(&rendered, stmt)
			log(ctx).Info().
				Str("step", step.Name).
				Bool("command", true).
				Msg(rendered.String())

			if dryRun {
				continue
			}

			if err := runner.Run(ctx, stmt); err != nil {
				return newStepError(step, err)
			}

			if runner.Exited() {
				return nil
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}
