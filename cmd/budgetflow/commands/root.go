package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/budgetflow/budgetflow/internal/app"
	"github.com/budgetflow/budgetflow/internal/observability"
)

// version is set at build time with -ldflags "-X ...commands.version=...".
var version = "dev"

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return newRootCommand().Run(ctx, args)
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:    "budgetflow",
		Usage:   "BudgetFlow command-line client",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file (defaults to budgetflow/config.toml in the user config directory)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "telemetry--exporter",
				Usage: "log exporter (none|stdout|otlp-http|otlp-grpc)",
				Value: string(app.DefaultConfigTelemetryExporter),
			},
			&cli.StringFlag{
				Name:  "api--base-url",
				Usage: "BudgetFlow API base URL",
				Value: app.DefaultConfigAPIBaseURL,
			},
			&cli.DurationFlag{
				Name:  "api--timeout",
				Usage: "per-request timeout",
				Value: app.DefaultConfigAPITimeout,
			},
			&cli.StringFlag{
				Name:  "auth--storage",
				Usage: "credential storage (file|keyring|env)",
				Value: string(app.DefaultConfigAuthStorage),
			},
			&cli.StringFlag{
				Name:  "auth--file",
				Usage: "credential file for file storage",
			},
			&cli.StringFlag{
				Name:  "auth--passphrase-env",
				Usage: "environment variable holding the credential file passphrase",
			},
			&cli.StringFlag{
				Name:  "auth--method",
				Usage: "authentication method (refresh|static)",
				Value: string(app.DefaultConfigAuthMethod),
			},
		},
		Commands: []*cli.Command{
			signInCommand(),
			signOutCommand(),
			statusCommand(),
			whoAmICommand(),
			budgetsCommand(),
			expensesCommand(),
			gatewayCommand(),
		},
	}
}

// appAction is a command action that needs a configured App.
type appAction func(ctx context.Context, cmd *cli.Command, application *app.App) error

// withApp loads the configuration, sets up logging and builds the App before
// running action. The telemetry pipeline is flushed afterwards.
func withApp(action appAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		path, err := configPath(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(path, cmd, os.Environ)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Set up observability before creating app
		shutdown, err := observability.Instrument(ctx, observability.Options{
			Level:    cfg.LogLevel,
			Format:   string(cfg.LogFormat),
			Exporter: cfg.Telemetry.Exporter,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("failed to set up observability layer: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Shutdown.Timeout)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				fmt.Fprintln(cmd.Root().ErrWriter, "failed to flush telemetry:", err)
			}
		}()

		application, err := app.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to create app: %w", err)
		}

		return action(ctx, cmd, application)
	}
}

func gatewayCommand() *cli.Command {
	return &cli.Command{
		Name:  "gateway",
		Usage: "local HTTP gateway that forwards /v1 requests with the stored session",
		Commands: []*cli.Command{
			{
				Name:  "start",
				Usage: "run the gateway until interrupted",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "gateway--host",
						Usage: "gateway host",
						Value: app.DefaultConfigGatewayHost,
					},
					&cli.IntFlag{
						Name:  "gateway--port",
						Usage: "gateway port",
						Value: app.DefaultConfigGatewayPort,
					},
					&cli.DurationFlag{
						Name:  "shutdown--timeout",
						Usage: "graceful shutdown timeout",
						Value: app.DefaultConfigShutdownTimeout,
					},
				},
				Action: withApp(gatewayStartAction),
			},
		},
	}
}

func gatewayStartAction(ctx context.Context, cmd *cli.Command, application *app.App) error {
	slog.InfoContext(ctx, "starting")

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("gateway failed: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}

// timeNow is replaced in tests.
var timeNow = time.Now
