package command

import "github.com/hashicorp/cli"

// VersionCommand prints the build version, the minimal second command every
// nomad-style cli.CLI carries alongside its primary verb.
type VersionCommand struct {
	Ui      cli.Ui
	Version string
}

func (c *VersionCommand) Help() string     { return "Print the pbsched version." }
func (c *VersionCommand) Synopsis() string { return "Print the pbsched version" }

func (c *VersionCommand) Run(args []string) int {
	c.Ui.Output("pbsched " + c.Version)
	return 0
}
