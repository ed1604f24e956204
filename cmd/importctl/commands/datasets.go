package commands

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/alecthomas/kingpin/v2"
)

type DatasetsCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
}

// NewDatasetsCommand returns the datasets command.
func NewDatasetsCommand(rootCmd *RootCommand, app *kingpin.Application) *DatasetsCommand {
	c := &DatasetsCommand{rootCmd: rootCmd}
	c.Cmd = app.Command("datasets", "List importable datasets.")
	return c
}

func (c DatasetsCommand) Name() string { return c.Cmd.FullCommand() }

func (c DatasetsCommand) Run(ctx context.Context) error {
	client, _, err := c.rootCmd.Client()
	if err != nil {
		return err
	}

	datasets, err := client.Datasets(ctx)
	if err != nil {
		return fmt.Errorf("could not list datasets: %w", err)
	}

	tw := tabwriter.NewWriter(c.rootCmd.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tLABEL\tREFERENCE\tCOLUMNS")
	for _, ds := range datasets {
		ref := "-"
		if ds.ReferenceRequired {
			ref = strings.Join(ds.References, ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ds.Key, ds.Label, ref, strings.Join(ds.Columns, ","))
	}
	return tw.Flush()
}
