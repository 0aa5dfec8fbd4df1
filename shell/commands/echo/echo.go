package echo

import (
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/cpu/acmerenew/shell/commands"
)

func init() {
	commands.RegisterCommand(
		&ishell.Cmd{
			Name:     "echo",
			Help:     "Output a message",
			LongHelp: "Useful for non-interactive scripts (must escape all special characters)",
		},
		nil,
		echoHandler)
}

func echoHandler(c *ishell.Context, args []string) {
	c.Printf("# %s\n", strings.Join(args, " "))
}
