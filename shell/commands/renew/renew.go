package renew

import (
	"flag"

	"github.com/abiosoft/ishell"

	"github.com/cpu/acmerenew/config"
	"github.com/cpu/acmerenew/shell/commands"
)

func init() {
	commands.RegisterCommand(
		&ishell.Cmd{
			Name: "renew",
			Help: "Renew and deploy one certificate",
			LongHelp: `renew [-index <n>] [-force] [hostname]

Runs the renewal of one configuration. With -force a new certificate is
issued even when the stored one is still valid.`,
		},
		commands.HostNameAutocompleter,
		renewHandler)
}

type renewOptions struct {
	index int
	force bool
}

func renewHandler(c *ishell.Context, args []string) {
	opts := renewOptions{}
	renewFlags := flag.NewFlagSet("renew", flag.ContinueOnError)
	renewFlags.IntVar(&opts.index, "index", -1, "Index of the configuration to renew")
	renewFlags.BoolVar(&opts.force, "force", false, "Issue a new certificate even when the stored one is valid")
	if !commands.ParseFlags(c, renewFlags, args) {
		return
	}

	job, err := commands.PickJob(c, renewFlags.Args(), opts.index)
	if err != nil {
		c.Printf("renew: %v\n", err)
		return
	}

	renewal := job.Renewal
	if opts.force {
		forced := *job.Renewal
		forced.Overrides = config.Overrides{ForceNewCertificate: true}
		renewal = &forced
	}

	engine := commands.GetEngine(c)
	res, err := engine.RenewCertificate(commands.GetContext(c), job.Acme, renewal)
	if err != nil {
		c.Printf("renew: error: %v\n", err)
		return
	}
	c.Printf("renew: %v: %s\n", renewal.HostNames, res)
}
