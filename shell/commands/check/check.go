// Package check shows what a renewal would do without changing anything.
package check

import (
	"flag"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/cpu/acmerenew/shell/commands"
)

func init() {
	commands.RegisterCommand(
		&ishell.Cmd{
			Name: "check",
			Help: "Check whether a certificate needs to be renewed or deployed",
			LongHelp: `check [-index <n>] [hostname]

Reads the stored certificate of a configuration and reports whether it would
be reissued and whether its target serves it. Nothing is changed. Without an
index or hostname the configuration is picked interactively.`,
		},
		commands.HostNameAutocompleter,
		checkHandler)
}

func checkHandler(c *ishell.Context, args []string) {
	var index int
	checkFlags := flag.NewFlagSet("check", flag.ContinueOnError)
	checkFlags.IntVar(&index, "index", -1, "Index of the configuration to check")
	if !commands.ParseFlags(c, checkFlags, args) {
		return
	}

	job, err := commands.PickJob(c, checkFlags.Args(), index)
	if err != nil {
		c.Printf("check: %v\n", err)
		return
	}

	engine := commands.GetEngine(c)
	decision, err := engine.Inspect(commands.GetContext(c), job.Acme, job.Renewal)
	if err != nil {
		c.Printf("check: error checking %v: %v\n", job.Renewal.HostNames, err)
		return
	}

	if cert := decision.Certificate; cert != nil {
		c.Printf("certificate:\t%s\n", cert)
		if cert.Expires != nil {
			c.Printf("expires:\t%s\n", cert.Expires.Format(time.RFC3339))
		}
	} else {
		c.Printf("certificate:\t<none>\n")
	}
	c.Printf("issue:\t\t%t (%s)\n", decision.Issue, decision.Reason)
	if decision.Issue {
		return
	}
	switch {
	case decision.Deployed && decision.Verified:
		c.Printf("deployed:\tyes\n")
	case decision.Deployed:
		c.Printf("deployed:\tassumed, %s can not report its certificate\n", job.Renewal.TargetResource)
	default:
		c.Printf("deployed:\tno\n")
	}
}
