package list

import (
	"flag"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/cpu/acmerenew/shell/commands"
)

func init() {
	commands.RegisterCommand(
		&ishell.Cmd{
			Name: "list",
			Help: "List the loaded certificate configurations",
			LongHelp: `list [-source <substring>] [-json]

Prints one line per certificate configuration: its index, hostnames, target
resource and the document it was read from. The index can be passed to
"check" and "renew" with -index.`,
		},
		nil,
		listHandler)
}

type listOptions struct {
	source string
	json   bool
}

func listHandler(c *ishell.Context, args []string) {
	opts := listOptions{}
	listFlags := flag.NewFlagSet("list", flag.ContinueOnError)
	listFlags.StringVar(&opts.source, "source", "", "Only list configurations read from documents containing this substring")
	listFlags.BoolVar(&opts.json, "json", false, "Print the configurations as JSON")
	if !commands.ParseFlags(c, listFlags, args) {
		return
	}

	jobs := commands.GetJobs(c)
	if len(jobs) == 0 {
		c.Printf("list: no certificate configurations loaded\n")
		return
	}

	for i, job := range jobs {
		if opts.source != "" && !strings.Contains(job.Source, opts.source) {
			continue
		}
		if opts.json && job.Err == nil {
			out, err := commands.PrintJSON(job.Renewal)
			if err != nil {
				c.Printf("list: error serializing configuration %d: %v\n", i, err)
				return
			}
			c.Printf("%3d) %s\n%s\n", i, job.Source, out)
			continue
		}
		c.Printf("%s\n", commands.DescribeJob(i, job))
	}
}
