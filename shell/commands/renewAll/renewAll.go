package renewAll

import (
	"flag"

	"github.com/abiosoft/ishell"

	"github.com/cpu/acmerenew/config"
	"github.com/cpu/acmerenew/renewal"
	"github.com/cpu/acmerenew/shell/commands"
)

func init() {
	commands.RegisterCommand(
		&ishell.Cmd{
			Name: "renewAll",
			Help: "Renew and deploy every loaded certificate",
			LongHelp: `renewAll [-force]

Runs the renewal of every loaded configuration like the "run" command does.
Failures are reported at the end and do not stop the other configurations.`,
		},
		nil,
		renewAllHandler)
}

func renewAllHandler(c *ishell.Context, args []string) {
	var force bool
	renewAllFlags := flag.NewFlagSet("renewAll", flag.ContinueOnError)
	renewAllFlags.BoolVar(&force, "force", false, "Issue new certificates even when the stored ones are valid")
	if !commands.ParseFlags(c, renewAllFlags, args) {
		return
	}

	jobs := commands.GetJobs(c)
	if len(jobs) == 0 {
		c.Printf("renewAll: no certificate configurations loaded\n")
		return
	}
	if force {
		forced := make([]renewal.Job, len(jobs))
		for i, job := range jobs {
			if job.Renewal == nil {
				forced[i] = job
				continue
			}
			opts := *job.Renewal
			opts.Overrides = config.Overrides{ForceNewCertificate: true}
			job.Renewal = &opts
			forced[i] = job
		}
		jobs = forced
	}

	summary, err := commands.GetRunner(c).Run(commands.GetContext(c), jobs)
	c.Printf("renewAll: run %s: %d renewed, %d unchanged, %d failed\n",
		summary.RunID, summary.Success, summary.NoChange, summary.Failed)
	if err != nil {
		c.Printf("renewAll: error: %v\n", err)
	}
}
