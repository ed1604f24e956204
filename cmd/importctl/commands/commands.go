package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/JonMunkholm/bulkimport/internal/config"
	"github.com/JonMunkholm/bulkimport/internal/importer"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand holds the global flags and instances shared by every command.
type RootCommand struct {
	// Global flags.
	Server       string
	APIKey       string
	ProfilePath  string
	LogLevel     string
	LogFormat    string
	ChunkSize    int64
	PollInterval time.Duration

	// Loaded from ProfilePath.
	Profile config.Profile

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("server", "Import server base URL.").StringVar(&c.Server)
	app.Flag("api-key", "API key sent as X-API-Key.").StringVar(&c.APIKey)
	app.Flag("profile", "YAML profile with defaults.").Default(defaultProfilePath()).StringVar(&c.ProfilePath)
	app.Flag("log-level", "Log level.").Default("info").EnumVar(&c.LogLevel, "debug", "info", "warn", "error")
	app.Flag("log-format", "Log format.").Default("pretty").EnumVar(&c.LogFormat, "pretty", "text", "json")
	app.Flag("chunk-size", "Upload chunk size in bytes.").Int64Var(&c.ChunkSize)
	app.Flag("poll-interval", "Status poll interval.").DurationVar(&c.PollInterval)

	return c
}

func defaultProfilePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "importctl", "profile.yaml")
}

// ApplyProfile fills flags left unset from the profile. Flags and their
// environment variables win.
func (c *RootCommand) ApplyProfile(p config.Profile) {
	c.Profile = p
	if c.Server == "" {
		c.Server = p.Server
	}
	if c.Server == "" {
		c.Server = "http://localhost:8080"
	}
	if c.APIKey == "" {
		c.APIKey = p.APIKey
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = p.ChunkSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = p.PollInterval
	}
}

// Client builds the import client. Without an API key the client fetches
// the anti-forgery token from the server's landing page and keeps the
// matching cookie in a jar.
func (c *RootCommand) Client() (*importer.Client, *http.Client, error) {
	base := strings.TrimRight(c.Server, "/")

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create cookie jar: %w", err)
	}
	httpClient := &http.Client{Jar: jar, Timeout: 2 * time.Minute}

	var tokens importer.TokenProvider
	opts := []importer.ClientOption{}
	if c.APIKey != "" {
		opts = append(opts, importer.WithAPIKey(c.APIKey))
	} else {
		tokens = importer.NewMetaTagToken(httpClient, base+"/")
	}

	return importer.NewClient(httpClient, tokens, importer.DefaultEndpoints(base), opts...), httpClient, nil
}
