package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
	"github.com/bytedance/sonic"

	"github.com/JonMunkholm/bulkimport/internal/importer"
)

type StatusCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	jobID  string
	format string
}

// NewStatusCommand returns the status command.
func NewStatusCommand(rootCmd *RootCommand, app *kingpin.Application) *StatusCommand {
	c := &StatusCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("status", "Show the status of an import job.")
	c.Cmd.Arg("job-id", "Import job ID.").Required().StringVar(&c.jobID)
	c.Cmd.Flag("format", "Output format (text, json).").Default("text").EnumVar(&c.format, "text", "json")

	return c
}

func (c StatusCommand) Name() string { return c.Cmd.FullCommand() }

func (c StatusCommand) Run(ctx context.Context) error {
	client, _, err := c.rootCmd.Client()
	if err != nil {
		return err
	}

	snap, err := client.FetchStatus(ctx, c.jobID)
	if err != nil {
		return fmt.Errorf("could not get job status: %w", err)
	}

	if c.format == "json" {
		data, err := sonic.ConfigStd.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("could not encode status: %w", err)
		}
		_, err = fmt.Fprintln(c.rootCmd.Stdout, string(data))
		return err
	}

	_, err = fmt.Fprintln(c.rootCmd.Stdout, describeSnapshot(snap))
	return err
}

// describeSnapshot renders a one-line summary of a raw status payload.
func describeSnapshot(s importer.Snapshot) string {
	status := "unknown"
	if s.Status != nil {
		status = *s.Status
	}
	line := status
	if s.Processed != nil {
		if s.Total != nil {
			line += fmt.Sprintf(" %d/%d rows", *s.Processed, *s.Total)
		} else {
			line += fmt.Sprintf(" %d rows", *s.Processed)
		}
	}
	if s.Errors != nil {
		line += fmt.Sprintf(", %d errors", *s.Errors)
	}
	if msg := s.ErrorMessage(); msg != "" {
		line += ": " + msg
	}
	if link := s.ReportLink(); link != "" {
		line += " (report: " + link + ")"
	}
	return line
}
