package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/cpu/acmerenew/renewal"
	"github.com/cpu/acmerenew/shell"
)

var cmdShell = &cli.Command{
	Name:  "shell",
	Usage: "Open an interactive console over the certificate configurations",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "script",
			Usage: "Read console commands from this file instead of the terminal",
		},
	},
	Action: runShell,
}

func runShell(c *cli.Context) error {
	if script := c.String("script"); script != "" {
		f, err := os.Open(script)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := redirectStdin(int(f.Fd())); err != nil {
			return fmt.Errorf("read commands from %s: %w", script, err)
		}
	}

	services, err := setup(c)
	if err != nil {
		return err
	}
	defer services.Close()
	services.Start()

	loader := func(ctx context.Context) ([]renewal.Job, error) {
		return services.LoadJobs(ctx, nil)
	}
	jobs, err := loader(c.Context)
	if err != nil {
		services.Log.WithError(err).Warn("Failed to load certificate configurations, use reload")
	}

	shell.New(c.Context, shell.Options{
		Engine: services.Engine,
		Runner: services.Runner(),
		Jobs:   jobs,
		Loader: loader,
	}).Run()
	return nil
}
