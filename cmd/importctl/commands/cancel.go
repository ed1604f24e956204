package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
)

type CancelCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	jobID string
}

// NewCancelCommand returns the cancel command.
func NewCancelCommand(rootCmd *RootCommand, app *kingpin.Application) *CancelCommand {
	c := &CancelCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("cancel", "Request cancellation of a running import.")
	c.Cmd.Arg("job-id", "Import job ID.").Required().StringVar(&c.jobID)

	return c
}

func (c CancelCommand) Name() string { return c.Cmd.FullCommand() }

func (c CancelCommand) Run(ctx context.Context) error {
	client, _, err := c.rootCmd.Client()
	if err != nil {
		return err
	}
	if err := client.CancelImport(ctx, c.jobID); err != nil {
		return fmt.Errorf("could not cancel job: %w", err)
	}
	c.rootCmd.Logger.Info("cancellation requested", "job_id", c.jobID)
	return nil
}
