// Package cli implements the quickide command-line client on top of
// urfave/cli. Every command is a thin wrapper around internal/client.
package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/dmitrijs2005/quickide/internal/client"
	"github.com/dmitrijs2005/quickide/internal/logging"
)

// Build information, set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const loggerKey = "logger"

// errNotLoggedIn is returned by commands that need a session when none is
// stored or given.
var errNotLoggedIn = errors.New("not logged in: run 'quickide login' first")

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:     "quickide",
		Usage:    "Command-line client for the QuickIDE gateway",
		Version:  fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildTime),
		Flags:    globalFlags(),
		Metadata: map[string]any{},
		Commands: []*cli.Command{
			RegisterCommand(),
			LoginCommand(),
			LogoutCommand(),
			ParseCommand(),
			CompileCommand(),
			VisualizeCommand(),
			SimulateCommand(),
			ProjectsCommand(),
			StatusCommand(),
		},
		Before: func(c *cli.Context) error {
			level := "warn"
			if c.Bool("verbose") {
				level = "debug"
			}
			c.App.Metadata[loggerKey] = logging.New(c.App.ErrWriter, level, "text")
			return nil
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "Gateway base URL",
			EnvVars: []string{"QIDE_SERVER"},
			Value:   "http://localhost:5000",
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "Session token (overrides the stored one)",
			EnvVars: []string{"QIDE_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "token-file",
			Usage:   "Where the session token is stored",
			EnvVars: []string{"QIDE_TOKEN_FILE"},
			Value:   defaultTokenFile(),
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Per-request timeout",
			Value: client.DefaultTimeout,
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json",
			Value:   "table",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"V"},
			Usage:   "Enable verbose output",
		},
	}
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".quickide-token"
	}
	return filepath.Join(dir, "quickide", "token")
}

// loggerFrom returns the logger installed by App.Before.
func loggerFrom(c *cli.Context) logging.Logger {
	if l, ok := c.App.Metadata[loggerKey].(logging.Logger); ok {
		return l
	}
	return logging.New(c.App.ErrWriter, "warn", "text")
}

// newClient builds a gateway client from the global flags. When
// authenticated is set, a session token must be available.
func newClient(c *cli.Context, authenticated bool) (*client.Client, error) {
	token := c.String("token")
	if token == "" && authenticated {
		var err error
		if token, err = loadToken(c.String("token-file")); err != nil {
			return nil, err
		}
	}
	hc := &http.Client{Timeout: c.Duration("timeout")}
	return client.New(c.String("server"), token, client.WithHTTPClient(hc)), nil
}

func commandContext(c *cli.Context) context.Context {
	if c.Context != nil {
		return c.Context
	}
	return context.Background()
}

// explain turns gateway errors into messages a user can act on.
func explain(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case client.IsUnauthorized(err):
		return fmt.Errorf("session rejected, run 'quickide login' again: %w", err)
	case client.IsStatus(err, http.StatusServiceUnavailable):
		return fmt.Errorf("compute engine is not reachable right now: %w", err)
	case client.IsStatus(err, http.StatusTooManyRequests):
		return fmt.Errorf("too many attempts, wait a minute: %w", err)
	}
	return err
}

func jsonOutput(c *cli.Context) bool {
	return strings.EqualFold(c.String("output"), "json")
}
