package main

import (
	"github.com/urfave/cli/v2"

	"github.com/cpu/acmerenew/config"
)

var cmdRun = &cli.Command{
	Name:  "run",
	Usage: "Process every certificate configuration once",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "force",
			Usage: "Issue new certificates even when the stored ones are valid",
		},
		&cli.StringSliceFlag{
			Name:  "domains",
			Usage: "Limit --force to certificates covering one of these hostnames",
		},
	},
	Action: runRenewals,
}

// forceOverrides returns the overrides given on the command line, nil when
// the documents' own overrides apply.
func forceOverrides(c *cli.Context) *config.Overrides {
	if !c.Bool("force") {
		return nil
	}
	return &config.Overrides{
		ForceNewCertificate: true,
		DomainsToForce:      c.StringSlice("domains"),
	}
}

func runRenewals(c *cli.Context) error {
	services, err := setup(c)
	if err != nil {
		return err
	}
	defer services.Close()
	services.Start()

	ctx := withSignals(c.Context, services.Log)
	jobs, err := services.LoadJobs(ctx, forceOverrides(c))
	if err != nil {
		return err
	}
	_, err = services.Runner().Run(ctx, jobs)
	return err
}
