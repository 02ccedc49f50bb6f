// Package cmd provides the CLI commands for pinnotes.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/fclairamb/pinnotes/internal/apperrors"
	"github.com/fclairamb/pinnotes/internal/note"
	"github.com/fclairamb/pinnotes/internal/remote"
	"github.com/fclairamb/pinnotes/internal/server"
	"github.com/fclairamb/pinnotes/internal/snapshot"
	"github.com/fclairamb/pinnotes/internal/sync"
	"github.com/fclairamb/pinnotes/internal/version"
)

var (
	// konfig is the global koanf instance.
	konfig = koanf.New(".")
)

// verboseFlag is the shared verbose flag for all commands.
var verboseFlag = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "Enable verbose logging",
}

// pageFlag is the shared page key flag.
var pageFlag = &cli.StringFlag{
	Name:    "page",
	Aliases: []string{"p"},
	Usage:   "Page identifier the notes belong to",
	Sources: cli.EnvVars("PIN_PAGE"),
}

// LogFormat represents the log output format.
type LogFormat string

const (
	// LogFormatText is the human-readable text format (default).
	LogFormatText LogFormat = "text"
	// LogFormatJSON is the JSON-formatted structured logs.
	LogFormatJSON LogFormat = "json"
)

// getLogFormat returns the configured log format from PIN_LOG_FORMAT environment variable.
func getLogFormat() LogFormat {
	val := strings.ToLower(os.Getenv("PIN_LOG_FORMAT"))
	switch val {
	case "json":
		return LogFormatJSON
	case "text", "":
		return LogFormatText
	default:
		// Invalid format - will warn after logger is set up
		return LogFormatText
	}
}

// setupLogging configures the global logger based on the verbose flag and PIN_LOG_FORMAT.
func setupLogging(cmd *cli.Command) {
	level := slog.LevelInfo
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}

	format := getLogFormat()
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format {
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))

	// Warn about invalid format after logger is set up
	envVal := strings.ToLower(os.Getenv("PIN_LOG_FORMAT"))
	if envVal != "" && envVal != "text" && envVal != "json" {
		slog.Warn("Invalid PIN_LOG_FORMAT value, using text format", "value", envVal)
	}

	if level == slog.LevelDebug {
		slog.Debug("Verbose logging enabled")
	}
}

// NewApp creates the CLI application.
func NewApp() *cli.Command {
	return &cli.Command{
		Name:    "pinnotes",
		Usage:   "Pin notes on shared image pages, with a local fallback when the shared store is unreachable",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "endpoint",
				Usage:   "Base URL of the shared note service",
				Sources: cli.EnvVars("PIN_ENDPOINT"),
			},
			&cli.StringFlag{
				Name:    "store-path",
				Usage:   "Directory for the local snapshot store",
				Aliases: []string{"s"},
				Value:   ".pinnotes",
				Sources: cli.EnvVars("PIN_STORE_PATH"),
			},
			&cli.BoolFlag{
				Name:    "history",
				Usage:   "Keep a git history of local snapshot writes",
				Sources: cli.EnvVars("PIN_SNAPSHOT_HISTORY"),
			},
			verboseFlag,
		},
		Before: func(ctx context.Context, _ *cli.Command) (context.Context, error) {
			// Load environment variables with PIN_ prefix
			if err := konfig.Load(env.Provider(".", env.Opt{
				Prefix: "PIN_",
			}), nil); err != nil {
				return ctx, fmt.Errorf("load env: %w", err)
			}

			return ctx, nil
		},
		Commands: []*cli.Command{
			listCommand(),
			addCommand(),
			updateCommand(),
			deleteCommand(),
			clearCommand(),
			syncCommand(),
			watchCommand(),
			statusCommand(),
			serveCommand(),
		},
	}
}

// newSnapshotStore builds the local snapshot store from global flags.
func newSnapshotStore(cmd *cli.Command) (*snapshot.Store, error) {
	var opts []snapshot.Option
	if cmd.Bool("history") {
		opts = append(opts, snapshot.WithGitHistory("pinnotes", "pinnotes@localhost"))
	}
	return snapshot.NewStore(cmd.String("store-path"), opts...)
}

// newCoordinator wires a coordinator for the page named on the command line.
func newCoordinator(cmd *cli.Command) (*sync.Coordinator, *snapshot.Store, error) {
	pageKey := note.NormalizePageKey(cmd.String("page"))
	if pageKey == "" {
		return nil, nil, apperrors.ErrPageKeyRequired
	}

	endpoint := strings.TrimRight(cmd.String("endpoint"), "/")
	if endpoint == "" {
		return nil, nil, apperrors.ErrEndpointRequired
	}

	local, err := newSnapshotStore(cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("open snapshot store: %w", err)
	}

	client := remote.NewClient(endpoint)
	return sync.New(pageKey, client, local), local, nil
}

// resolveAuthor falls back to the cached last-used author name.
func resolveAuthor(ctx context.Context, cmd *cli.Command, local *snapshot.Store) string {
	author := strings.TrimSpace(cmd.String("author"))
	if author != "" {
		return author
	}
	return local.Author(ctx)
}

// listCommand creates the list subcommand.
func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "Show the notes pinned on a page",
		Flags: []cli.Flag{pageFlag, verboseFlag},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd)
			return ctx, nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			coord, _, err := newCoordinator(cmd)
			if err != nil {
				return err
			}

			coord.Initialize(ctx)
			printView(sync.BuildView(sync.ViewInput{State: coord.State()}))
			return nil
		},
	}
}

// addCommand creates the add subcommand.
func addCommand() *cli.Command {
	return &cli.Command{
		Name:  "add",
		Usage: "Pin a new note on a page",
		Flags: []cli.Flag{
			pageFlag,
			&cli.StringFlag{
				Name:     "text",
				Aliases:  []string{"t"},
				Usage:    "Note text",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "author",
				Aliases: []string{"a"},
				Usage:   "Author name (defaults to the last one used)",
			},
			&cli.FloatFlag{
				Name:  "x",
				Usage: "Horizontal pin position, 0 to 1",
			},
			&cli.FloatFlag{
				Name:  "y",
				Usage: "Vertical pin position, 0 to 1",
			},
			verboseFlag,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd)
			return ctx, nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			coord, local, err := newCoordinator(cmd)
			if err != nil {
				return err
			}

			coord.Initialize(ctx)
			added, err := coord.Add(ctx,
				cmd.String("text"),
				resolveAuthor(ctx, cmd, local),
				cmd.Float("x"), cmd.Float("y"))
			if err != nil {
				return err
			}

			printNoteSaved(added, coord.State())
			return nil
		},
	}
}

// updateCommand creates the update subcommand.
func updateCommand() *cli.Command {
	return &cli.Command{
		Name:  "update",
		Usage: "Rewrite an existing note's text",
		Flags: []cli.Flag{
			pageFlag,
			&cli.StringFlag{
				Name:     "id",
				Usage:    "Note identifier",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "text",
				Aliases:  []string{"t"},
				Usage:    "New note text",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "author",
				Aliases: []string{"a"},
				Usage:   "New author name (keeps the current one when empty)",
			},
			verboseFlag,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd)
			return ctx, nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			coord, _, err := newCoordinator(cmd)
			if err != nil {
				return err
			}

			coord.Initialize(ctx)
			if err := coord.Update(ctx, cmd.String("id"), cmd.String("text"), cmd.String("author")); err != nil {
				return err
			}

			printState(coord.State())
			return nil
		},
	}
}

// deleteCommand creates the delete subcommand.
func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "Remove one note from a page",
		Flags: []cli.Flag{
			pageFlag,
			&cli.StringFlag{
				Name:     "id",
				Usage:    "Note identifier",
				Required: true,
			},
			verboseFlag,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd)
			return ctx, nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			coord, _, err := newCoordinator(cmd)
			if err != nil {
				return err
			}

			coord.Initialize(ctx)
			if err := coord.Delete(ctx, cmd.String("id")); err != nil {
				return err
			}

			printState(coord.State())
			return nil
		},
	}
}

// clearCommand creates the clear subcommand.
func clearCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Remove every note from a page",
		Flags: []cli.Flag{pageFlag, verboseFlag},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd)
			return ctx, nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			coord, _, err := newCoordinator(cmd)
			if err != nil {
				return err
			}

			coord.Initialize(ctx)
			if err := coord.Clear(ctx); err != nil {
				return err
			}

			printState(coord.State())
			return nil
		},
	}
}

// syncCommand creates the sync subcommand.
func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run one refresh cycle against the shared store and report the result",
		Flags: []cli.Flag{pageFlag, verboseFlag},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd)
			return ctx, nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			coord, _, err := newCoordinator(cmd)
			if err != nil {
				return err
			}

			coord.Initialize(ctx)
			coord.Refresh(ctx, false)
			printState(coord.State())
			return nil
		},
	}
}

// watchCommand creates the watch subcommand.
func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Keep a page synchronized until interrupted",
		Flags: []cli.Flag{pageFlag, verboseFlag},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd)
			return ctx, nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			coord, _, err := newCoordinator(cmd)
			if err != nil {
				return err
			}

			coord.Initialize(ctx)
			printState(coord.State())

			// The snapshot watcher matters while degraded; the refresh
			// loop matters while shared. Both stop with the context.
			watchErr := make(chan error, 1)
			go func() {
				watchErr <- coord.WatchSnapshot(ctx)
			}()

			if err := coord.Run(ctx); err != nil {
				return err
			}
			if err := <-watchErr; err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

// statusCommand creates the status subcommand.
func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the effective configuration",
		Flags: []cli.Flag{verboseFlag},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd)
			return ctx, nil
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			printStatus(cmd.String("endpoint"), cmd.String("store-path"), cmd.Bool("history"),
				konfig.String("PIN_DATABASE_URL") != "")
			return nil
		},
	}
}

// serveCommand creates the serve subcommand.
func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the shared note service (set PIN_DATABASE_URL to use Postgres storage)",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Usage:   "HTTP port to listen on",
				Value:   server.DefaultPort,
				Sources: cli.EnvVars("PIN_SERVE_PORT"),
			},
			&cli.StringFlag{
				Name:    "data-path",
				Usage:   "Directory for the file KV backend (ignored when a database is configured)",
				Value:   ".pinnotes-server",
				Sources: cli.EnvVars("PIN_SERVE_DATA"),
			},
			verboseFlag,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd)
			return ctx, nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			logger := slog.Default()

			var kv server.KV
			if dsn := konfig.String("PIN_DATABASE_URL"); dsn != "" {
				pg, err := server.NewPostgresKV(dsn)
				if err != nil {
					return err
				}
				defer func() {
					if closeErr := pg.Close(); closeErr != nil {
						logger.Warn("failed to close database", "error", closeErr)
					}
				}()
				kv = pg
				logger.InfoContext(ctx, "storage backend", "backend", "postgres")
			} else {
				fileKV, err := server.NewFileKV(cmd.String("data-path"))
				if err != nil {
					return err
				}
				kv = fileKV
				logger.InfoContext(ctx, "storage backend", "backend", "file", "dir", cmd.String("data-path"))
			}

			srv, err := server.NewServer(&server.Config{Port: int(cmd.Int("port"))}, kv, logger)
			if err != nil {
				return err
			}
			return srv.Start(ctx)
		},
	}
}
