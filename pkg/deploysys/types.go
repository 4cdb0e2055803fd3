package deploysys

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"mvdan.cc/sh/v3/syntax"
)

// Step is one named unit of a deployment plan: a group of shell commands with
// a working directory, environment overrides and dependencies on other steps.
type Step struct {
	Env          map[string]string
	Name         string
	Desc         string
	Base         string
	Deps         []string
	SkipIfExists []string
	Cmds         []StepCmd
	Hidden       bool
}

// Plan maps step names to their definitions.
type Plan map[string]*Step

// StepCmd is a single entry in a step's command list: either a shell command
// or a reference to another step.
type StepCmd interface {
	ToStep() (*Step, error)
	ToShellStmts(*syntax.Parser) ([]*syntax.Stmt, error)
}

// StepCmdScript is a shell command belonging to a step.
type StepCmdScript struct {
	StepName string
	Content  string
	Index    int
}

func (s StepCmdScript) ToStep() (*Step, error) { return nil, nil }

func (s StepCmdScript) ToShellStmts(parser *syntax.Parser) ([]*syntax.Stmt, error) {
	parsed, err := parser.Parse(strings.NewReader(s.Content), fmt.Sprintf("%s:%d", s.StepName, s.Index))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse command %s", s.Content)
	}

	return parsed.Stmts, nil
}

// StepCmdStepRef runs another step in place of a command.
type StepCmdStepRef struct {
	Step *Step
}

func (r StepCmdStepRef) ToStep() (*Step, error) { return r.Step, nil }

func (r StepCmdStepRef) ToShellStmts(*syntax.Parser) ([]*syntax.Stmt, error) { return nil, nil }

// ScriptOption is an option declared by a plan script through option().
type ScriptOption struct {
	DefaultValue string
	Help         string
}

// Default returns the value used when the option isn't set on the command line.
func (o ScriptOption) Default() string { return o.DefaultValue }

// *Step implements starlark.Value so step() can hand steps back to the script
// and other steps can embed them in their command lists.

func (s *Step) String() string { return fmt.Sprintf("<step %s>", s.Name) }

func (s *Step) Type() string { return "step" }

func (s *Step) Freeze() {}

func (s *Step) Truth() starlark.Bool { return starlark.True }

func (s *Step) Hash() (uint32, error) { return 0, eris.New("steps are not hashable") }
