package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/eshaffer321/vat-reconcile/internal/cli"
	"github.com/eshaffer321/vat-reconcile/internal/infrastructure/config"
	"github.com/eshaffer321/vat-reconcile/internal/infrastructure/logging"
)

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file path")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Usage = func() { cli.PrintUsage(os.Stderr) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		cli.PrintUsage(os.Stderr)
		os.Exit(2)
	}
	command := args[0]

	cfg := loadConfig(*configFile)

	system := "cli"
	if command == "serve" {
		system = "api"
	}
	app, err := cli.NewApp(cfg, *verbose, system)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconcile: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = app.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := &cli.Runner{App: app, In: os.Stdin, Out: os.Stdout}
	if err := runner.Run(ctx, command, args[1:]); err != nil {
		switch {
		case errors.Is(err, flag.ErrHelp):
			return
		case errors.Is(err, cli.ErrUnknownCommand):
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
			cli.PrintUsage(os.Stderr)
		default:
			app.Logger.Error("command failed", "command", command, slog.Any("error", err))
		}
		_ = app.Close()
		os.Exit(1)
	}
}

func loadConfig(configFile string) *config.Config {
	if configFile == "" {
		// Try to find config file
		for _, candidate := range []string{"config.yaml", "config.yml"} {
			if _, err := os.Stat(candidate); err == nil {
				configFile = candidate
				break
			}
		}
	}

	if configFile == "" {
		return config.LoadFromEnv()
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		logger := logging.NewLogger(config.Default().Observability.Logging)
		logger.Error("Failed to load config", "path", configFile, "error", err)
		os.Exit(1)
	}
	return cfg
}
