// acmerenew renews ACME certificates for Azure and object store backed
// deployments and installs them on their targets.
package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	acmecmd "github.com/cpu/acmerenew/cmd"
	"github.com/cpu/acmerenew/config"
)

func main() {
	app := cli.NewApp()
	app.Name = "acmerenew"
	app.Usage = "Renew ACME certificates and deploy them to their targets"
	app.Description = `acmerenew reads certificate configurations from its application storage,
renews certificates that are missing, expiring or no longer match their
hostnames, and installs them on the configured targets.`

	app.Flags = []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "env-file",
			Usage: "Load environment settings from these files (default: .env)",
		},
	}
	app.Commands = []*cli.Command{
		cmdRun,
		cmdDaemon,
		cmdValidate,
		cmdShell,
	}

	err := app.Run(os.Args)
	acmecmd.FailOnError(logrus.StandardLogger(), err, "acmerenew failed")
}

// setup loads the settings and builds the services. The caller must Close
// the returned services.
func setup(c *cli.Context) (*acmecmd.Services, error) {
	settings, err := config.LoadSettings(c.StringSlice("env-file")...)
	if err != nil {
		return nil, err
	}
	log := logrus.NewEntry(settings.NewLogger())
	return acmecmd.NewServices(c.Context, settings, log)
}

// withSignals returns a context that is cancelled on the first SIGTERM,
// SIGINT or SIGHUP.
func withSignals(parent context.Context, log logrus.FieldLogger) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go acmecmd.CatchSignals(log, cancel)
	return ctx
}
