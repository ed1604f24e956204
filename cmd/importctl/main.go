package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"

	"github.com/JonMunkholm/bulkimport/cmd/importctl/commands"
	"github.com/JonMunkholm/bulkimport/internal/config"
	"github.com/JonMunkholm/bulkimport/internal/logging"
)

const (
	// Version is the application version (set via ldflags).
	Version = "dev"
)

// Run runs the main application.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) (err error) {
	app := kingpin.New("importctl", "Chunked CSV import client.")
	app.Version(Version)
	app.DefaultEnvars()
	rootCmd := commands.NewRootCommand(app)

	uploadCmd := commands.NewUploadCommand(rootCmd, app)
	importCmd := commands.NewImportCommand(rootCmd, app)
	statusCmd := commands.NewStatusCommand(rootCmd, app)
	cancelCmd := commands.NewCancelCommand(rootCmd, app)
	datasetsCmd := commands.NewDatasetsCommand(rootCmd, app)

	cmds := map[string]commands.Command{
		uploadCmd.Name():   uploadCmd,
		importCmd.Name():   importCmd,
		statusCmd.Name():   statusCmd,
		cancelCmd.Name():   cancelCmd,
		datasetsCmd.Name(): datasetsCmd,
	}

	cmdName, err := app.Parse(args[1:])
	if err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}

	rootCmd.Stdin = stdin
	rootCmd.Stdout = stdout
	rootCmd.Stderr = stderr
	rootCmd.Logger = logging.New(stderr, rootCmd.LogLevel, rootCmd.LogFormat).With("version", Version)

	profile, err := config.LoadProfile(rootCmd.ProfilePath)
	if err != nil {
		return err
	}
	rootCmd.ApplyProfile(profile)

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				rootCmd.Logger.Debug("termination signal received")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// Execute command.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				err := cmds[cmdName].Run(ctx)
				if err != nil {
					return fmt.Errorf("%q command failed: %w", cmdName, err)
				}
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

func main() {
	ctx := context.Background()
	err := Run(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
