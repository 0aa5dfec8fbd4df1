// Package shell provides an interactive console over the renewal engine and
// the associated commands.
package shell

import (
	"context"

	"github.com/abiosoft/ishell"
	"github.com/abiosoft/readline"

	"github.com/cpu/acmerenew/renewal"
	"github.com/cpu/acmerenew/shell/commands"

	// Commands register themselves.
	_ "github.com/cpu/acmerenew/shell/commands/check"
	_ "github.com/cpu/acmerenew/shell/commands/echo"
	_ "github.com/cpu/acmerenew/shell/commands/list"
	_ "github.com/cpu/acmerenew/shell/commands/reload"
	_ "github.com/cpu/acmerenew/shell/commands/renew"
	_ "github.com/cpu/acmerenew/shell/commands/renewAll"
)

// Options for creating a Shell.
type Options struct {
	Engine *renewal.Engine
	Runner *renewal.Runner
	// Jobs are the configurations available when the shell starts.
	Jobs []renewal.Job
	// Loader reads the configurations for the reload command.
	Loader commands.Loader
}

// Shell is an ishell.Shell with the renewal engine and the loaded
// configurations stored for access by commands.
type Shell struct {
	*ishell.Shell
}

// New creates a Shell. Commands run with ctx, cancelling it aborts running
// renewals. The shell is not started until Run is called.
func New(ctx context.Context, opts Options) *Shell {
	// Create an interactive shell
	shell := ishell.NewWithConfig(&readline.Config{
		// The base prompt used for the ishell instance.
		Prompt: commands.BasePrompt,
	})

	list := &commands.JobList{Jobs: opts.Jobs}
	shell.Set(commands.ContextKey, ctx)
	shell.Set(commands.EngineKey, opts.Engine)
	shell.Set(commands.RunnerKey, opts.Runner)
	shell.Set(commands.JobsKey, list)
	shell.Set(commands.LoaderKey, opts.Loader)

	commands.AddCommands(shell, list)

	return &Shell{
		Shell: shell,
	}
}

// Run drops into an interactive session that blocks on user input until it
// is time to exit.
func (shell *Shell) Run() {
	shell.Println("Welcome to acmerenew")
	shell.Shell.Run()
	shell.Println("Goodbye!")
}
