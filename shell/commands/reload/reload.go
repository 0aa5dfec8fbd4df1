package reload

import (
	"github.com/abiosoft/ishell"

	"github.com/cpu/acmerenew/shell/commands"
)

func init() {
	commands.RegisterCommand(
		&ishell.Cmd{
			Name: "reload",
			Help: "Read the certificate configurations again",
		},
		nil,
		reloadHandler)
}

func reloadHandler(c *ishell.Context, _ []string) {
	jobs, err := commands.GetLoader(c)(commands.GetContext(c))
	if err != nil {
		c.Printf("reload: error loading configurations: %v\n", err)
		return
	}
	commands.SetJobs(c, jobs)
	c.Printf("reload: %d certificate configuration(s) loaded\n", len(jobs))
}
