package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/JonMunkholm/bulkimport/internal/importer"
)

type ImportCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	path       string
	uploadID   string
	dataset    string
	strategy   string
	reference  string
	dryRun     bool
	noWait     bool
	reportPath string
}

// NewImportCommand returns the import command.
func NewImportCommand(rootCmd *RootCommand, app *kingpin.Application) *ImportCommand {
	c := &ImportCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("import", "Upload a CSV file, import it and follow progress.")
	c.Cmd.Arg("file", "CSV file to import.").ExistingFileVar(&c.path)
	c.Cmd.Flag("upload-id", "Import an upload sent earlier instead of a file.").StringVar(&c.uploadID)
	c.Cmd.Flag("dataset", "Target dataset.").Short('d').StringVar(&c.dataset)
	c.Cmd.Flag("strategy", "Write strategy (insert, upsert, replace).").StringVar(&c.strategy)
	c.Cmd.Flag("reference", "Reference dataset for key lookups.").StringVar(&c.reference)
	c.Cmd.Flag("dry-run", "Validate only.").BoolVar(&c.dryRun)
	c.Cmd.Flag("no-wait", "Print the job ID and exit.").BoolVar(&c.noWait)
	c.Cmd.Flag("report", "Save the error report to this path.").StringVar(&c.reportPath)

	return c
}

func (c ImportCommand) Name() string { return c.Cmd.FullCommand() }

func (c ImportCommand) Run(ctx context.Context) error {
	if c.path == "" && c.uploadID == "" {
		return errors.New("a file or --upload-id is required")
	}

	defaults := c.rootCmd.Profile.Defaults
	cfg := importer.ImportConfig{
		Dataset:   firstNonEmpty(c.dataset, defaults.Dataset),
		Strategy:  firstNonEmpty(c.strategy, defaults.Strategy),
		Reference: firstNonEmpty(c.reference, defaults.Reference),
		DryRun:    c.dryRun,
	}

	client, httpClient, err := c.rootCmd.Client()
	if err != nil {
		return err
	}

	datasets, err := client.Datasets(ctx)
	if err != nil {
		return fmt.Errorf("could not list datasets: %w", err)
	}

	logger := c.rootCmd.Logger
	progress := newProgressLine(c.rootCmd.Stderr)
	session := importer.NewSession(client, importer.SessionConfig{
		BaseURL:      c.rootCmd.Server,
		Upload:       importer.UploadConfig{ChunkSize: c.rootCmd.ChunkSize},
		PollInterval: c.rootCmd.PollInterval,
		Catalog:      importer.CatalogFrom(datasets),
		OnUpdate:     progress.update,
		Logger:       logger,
	})
	defer session.Close()

	if c.uploadID != "" {
		if err := session.UseUpload(c.uploadID); err != nil {
			return err
		}
	} else {
		file, fh, err := importer.OpenFile(c.path)
		if err != nil {
			return fmt.Errorf("could not open file: %w", err)
		}
		defer fh.Close()
		if _, err := session.Upload(ctx, file); err != nil {
			return fmt.Errorf("could not upload file: %w", err)
		}
	}

	session.Configure(cfg)
	jobID, err := session.Start(ctx)
	if err != nil {
		return fmt.Errorf("could not start import: %w", err)
	}
	logger.Info("import started", "job_id", jobID, "dataset", cfg.Dataset)

	if c.noWait {
		_, err := fmt.Fprintln(c.rootCmd.Stdout, jobID)
		return err
	}

	job, err := session.Wait(ctx)
	if errors.Is(err, context.Canceled) {
		// Interrupted: ask the server to stop and wait for it to confirm.
		cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if cerr := session.Cancel(cctx); cerr != nil {
			return fmt.Errorf("could not cancel import: %w", cerr)
		}
		job, err = session.Wait(cctx)
	}
	progress.done()
	if err != nil {
		return err
	}

	fmt.Fprintf(c.rootCmd.Stdout, "%s: %d rows processed, %d errors\n", job.Status, job.Processed, job.Errors)

	if c.reportPath != "" {
		link, err := session.ReportURL()
		if errors.Is(err, importer.ErrNoReport) {
			logger.Info("no error report, every row was imported")
			return nil
		}
		if err != nil {
			return err
		}
		if err := download(ctx, httpClient, link, c.reportPath); err != nil {
			return fmt.Errorf("could not save report: %w", err)
		}
		logger.Info("error report saved", "path", c.reportPath)
	}
	return nil
}

// download saves url to path.
func download(ctx context.Context, client *http.Client, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
