// Package commands holds types and functions common across all console
// commands.
package commands

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/cpu/acmerenew/renewal"
)

const (
	// The base prompt used for shell commands
	BasePrompt = "[ acmerenew ] > "
	// The ishell context key that we store the renewal engine under.
	EngineKey = "engine"
	// The ishell context key that we store the renewal runner under.
	RunnerKey = "runner"
	// The ishell context key that we store the *JobList under.
	JobsKey = "jobs"
	// The ishell context key that we store the job loader under.
	LoaderKey = "loader"
	// The ishell context key that we store the base context under.
	ContextKey = "ctx"
)

// Loader reads the renewal jobs again.
type Loader func(ctx context.Context) ([]renewal.Job, error)

// shellContext is a common interface that can be used to retrieve objects from
// a ishell.Shell or an ishell.Context.
type shellContext interface {
	Get(string) interface{}
}

// get reads key from the shellContext as a T or panics.
func get[T any](c shellContext, key string) T {
	raw := c.Get(key)
	if raw == nil {
		panic(fmt.Sprintf("nil %q value in shellContext", key))
	}
	v, ok := raw.(T)
	if !ok {
		panic(fmt.Sprintf("%q value in shellContext was a %T", key, raw))
	}
	return v
}

// GetEngine reads the *renewal.Engine from the shellContext or panics.
func GetEngine(c shellContext) *renewal.Engine {
	return get[*renewal.Engine](c, EngineKey)
}

// GetRunner reads the *renewal.Runner from the shellContext or panics.
func GetRunner(c shellContext) *renewal.Runner {
	return get[*renewal.Runner](c, RunnerKey)
}

// JobList holds the loaded jobs. Commands get a copy of the shell values,
// so reloads replace the list in place.
type JobList struct {
	Jobs []renewal.Job
}

// GetJobs reads the loaded jobs from the shellContext. It is empty before
// anything was loaded.
func GetJobs(c shellContext) []renewal.Job {
	list, _ := c.Get(JobsKey).(*JobList)
	if list == nil {
		return nil
	}
	return list.Jobs
}

// SetJobs replaces the loaded jobs of the shellContext.
func SetJobs(c shellContext, jobs []renewal.Job) {
	get[*JobList](c, JobsKey).Jobs = jobs
}

// GetLoader reads the job Loader from the shellContext or panics.
func GetLoader(c shellContext) Loader {
	return get[Loader](c, LoaderKey)
}

// GetContext reads the base context from the shellContext. It falls back to
// context.Background.
func GetContext(c shellContext) context.Context {
	if ctx, ok := c.Get(ContextKey).(context.Context); ok {
		return ctx
	}
	return context.Background()
}

func PrintJSON(ob interface{}) (string, error) {
	bytes, err := json.MarshalIndent(ob, "", "  ")
	if err != nil {
		return "", err
	}
	return string(bytes), err
}

var commands []commandRegistry

type commandRegistry struct {
	Cmd           *ishell.Cmd
	Autocompleter NewCommandAutocompleter
}

// NewCommandAutocompleter builds a completer over the loaded jobs.
type NewCommandAutocompleter func(list *JobList) func(args []string) []string

// AddCommands adds every registered command to shell.
func AddCommands(shell *ishell.Shell, list *JobList) {
	for _, cmdReg := range commands {
		if cmdReg.Autocompleter != nil {
			cmdReg.Cmd.Completer = cmdReg.Autocompleter(list)
		}
		shell.AddCmd(cmdReg.Cmd)
	}
}

// NewCommandHandler handles a command. Handlers parse their own flags from
// args with ParseFlags.
type NewCommandHandler func(c *ishell.Context, args []string)

// RegisterCommand registers a command for AddCommands. It is called from the
// init functions of the command packages.
func RegisterCommand(
	cmd *ishell.Cmd,
	completerFunc NewCommandAutocompleter,
	handler NewCommandHandler) {
	cmd.Func = func(c *ishell.Context) {
		handler(c, c.Args)
	}
	commands = append(commands, commandRegistry{
		Cmd:           cmd,
		Autocompleter: completerFunc,
	})
}

// ParseFlags parses args with flags. It returns false when the handler
// should stop: on -h the help was already printed, other errors are printed.
func ParseFlags(c *ishell.Context, flags *flag.FlagSet, args []string) bool {
	err := flags.Parse(args)
	// If it was an error and not the -h error, print a message and return early.
	if err != nil && err != flag.ErrHelp {
		c.Printf("%s: error parsing input flags: %v\n", flags.Name(), err)
		return false
	}
	return err == nil
}

// HostNameAutocompleter completes the hostnames of the jobs in list.
func HostNameAutocompleter(list *JobList) func(args []string) []string {
	return func(args []string) []string {
		var names []string
		for _, job := range list.Jobs {
			names = append(names, job.HostNames()...)
		}
		return names
	}
}

// DescribeJob is a one line summary of a job.
func DescribeJob(i int, job renewal.Job) string {
	if job.Err != nil {
		return fmt.Sprintf("%3d)\t<invalid: %v>\t%s", i, job.Err, job.Source)
	}
	return fmt.Sprintf("%3d)\t%s\t%s\t%s",
		i,
		strings.Join(job.Renewal.HostNames, ","),
		job.Renewal.TargetResource,
		job.Source)
}
