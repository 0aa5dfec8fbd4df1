package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"
)

var cmdValidate = &cli.Command{
	Name:  "validate",
	Usage: "Load and validate every configuration document without renewing",
	Action: func(c *cli.Context) error {
		services, err := setup(c)
		if err != nil {
			return err
		}
		defer services.Close()

		jobs, err := services.LoadJobs(c.Context, nil)
		if err != nil {
			return err
		}
		var (
			sources []string
			errs    []error
			valid   int
		)
		counts := map[string]int{}
		for _, job := range jobs {
			if job.Err != nil {
				fmt.Fprintf(c.App.Writer, "%s: invalid: %v\n", job.Source, job.Err)
				errs = append(errs, job.Err)
				continue
			}
			if counts[job.Source] == 0 {
				sources = append(sources, job.Source)
			}
			counts[job.Source]++
			valid++
		}
		for _, source := range sources {
			fmt.Fprintf(c.App.Writer, "%s: %d certificate(s)\n", source, counts[source])
		}
		fmt.Fprintf(c.App.Writer, "%d document(s), %d certificate(s) are valid\n", len(sources), valid)
		if len(errs) > 0 {
			return fmt.Errorf("%d invalid document(s): %w", len(errs), errors.Join(errs...))
		}
		return nil
	},
}
