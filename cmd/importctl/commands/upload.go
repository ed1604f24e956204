package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/JonMunkholm/bulkimport/internal/importer"
)

type UploadCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	path string
}

// NewUploadCommand returns the upload command.
func NewUploadCommand(rootCmd *RootCommand, app *kingpin.Application) *UploadCommand {
	c := &UploadCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("upload", "Upload a CSV file and print its upload ID.")
	c.Cmd.Arg("file", "CSV file to upload.").Required().ExistingFileVar(&c.path)

	return c
}

func (c UploadCommand) Name() string { return c.Cmd.FullCommand() }

func (c UploadCommand) Run(ctx context.Context) error {
	client, _, err := c.rootCmd.Client()
	if err != nil {
		return err
	}

	file, fh, err := importer.OpenFile(c.path)
	if err != nil {
		return fmt.Errorf("could not open file: %w", err)
	}
	defer fh.Close()

	logger := c.rootCmd.Logger
	uploader := importer.NewUploader(client, importer.WithChunkObserver(func(s importer.UploadSession) {
		logger.Debug("chunk sent", "chunk", s.ChunksSent, "of", s.TotalChunks)
	}))

	id, err := uploader.Upload(ctx, file, importer.UploadConfig{
		UploadURL: client.Endpoints().Upload,
		ChunkSize: c.rootCmd.ChunkSize,
	})
	if err != nil {
		return fmt.Errorf("could not upload file: %w", err)
	}

	_, err = fmt.Fprintln(c.rootCmd.Stdout, id)
	return err
}
