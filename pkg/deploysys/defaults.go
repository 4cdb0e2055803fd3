package deploysys

import "fmt"

// DeployOptions controls how the built-in deployment plan is assembled.
// The zero value produces the standard three step sequence for a Django
// project living in the current directory.
type DeployOptions struct {
	// Python is the interpreter used for manage.py commands.
	Python string
	// Pip is the command used to install Python packages.
	Pip string
	// ManagePy is the path to the project's manage.py, relative to the root.
	ManagePy string
	// Requirements is the dependency manifest passed to pip.
	Requirements string
	// UpgradePip prepends a "pip install --upgrade pip" command to the
	// install step. Off by default; some deployment targets pin their pip.
	UpgradePip bool
	// SkipMigrate drops the migrate step from the sequence. Matches setups
	// where migrations are applied out of band.
	SkipMigrate bool
}

func (o DeployOptions) withDefaults() DeployOptions {
	if o.Python == "" {
		o.Python = "python3"
	}
	if o.Pip == "" {
		o.Pip = "pip"
	}
	if o.ManagePy == "" {
		o.ManagePy = "manage.py"
	}
	if o.Requirements == "" {
		o.Requirements = "requirements.txt"
	}
	return o
}

// DefaultPlan builds the fixed deployment sequence: dependency install,
// static asset collection and schema migration. It returns the plan and the
// step names in execution order. All three external operations are
// non-interactive and idempotent, so re-running the full sequence against an
// already deployed target is safe.
func DefaultPlan(root string, opts DeployOptions) (Plan, []string) {
	opts = opts.withDefaults()

	installCmds := make([]StepCmd, 0, 2)
	if opts.UpgradePip {
		installCmds = append(installCmds, StepCmdScript{
			StepName: "install",
			Content:  fmt.Sprintf("%s install --upgrade pip", opts.Pip),
		})
	}
	installCmds = append(installCmds, StepCmdScript{
		StepName: "install",
		Index:    len(installCmds),
		Content:  fmt.Sprintf("%s install -r %s", opts.Pip, opts.Requirements),
	})

	install := &Step{
		Name: "install",
		Desc: "Install Python dependencies",
		Base: root,
		Cmds: installCmds,
	}

	collect := &Step{
		Name: "collectstatic",
		Desc: "Collect static assets",
		Base: root,
		Deps: []string{"install"},
		Cmds: []StepCmd{StepCmdScript{
			StepName: "collectstatic",
			Content:  fmt.Sprintf("%s %s collectstatic --noinput", opts.Python, opts.ManagePy),
		}},
	}

	migrate := &Step{
		Name: "migrate",
		Desc: "Apply database migrations",
		Base: root,
		Deps: []string{"install"},
		Cmds: []StepCmd{StepCmdScript{
			StepName: "migrate",
			Content:  fmt.Sprintf("%s %s migrate --noinput", opts.Python, opts.ManagePy),
		}},
	}

	plan := Plan{
		install.Name: install,
		collect.Name: collect,
	}
	order := []string{install.Name, collect.Name}

	if !opts.SkipMigrate {
		plan[migrate.Name] = migrate
		order = append(order, migrate.Name)
	}

	return plan, order
}
