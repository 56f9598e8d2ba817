package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jwtly10/fxbot/internal/config"
	"github.com/jwtly10/fxbot/internal/logging"
)

const usage = `usage: fxbot <command> [-config file.yaml] [flags]

commands:
  wfo     walk-forward optimise and backtest every configured symbol
  train   train on all cached data and save the models to the registry
  serve   run the HTTP API
  live    evaluate the latest bars on every timeframe boundary and publish signals
`

type command func(ctx context.Context, args []string) error

var commands = map[string]command{
	"wfo":   runWFO,
	"train": runTrain,
	"serve": runServe,
	"live":  runLive,
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd(ctx, os.Args[2:])
	stop()
	if err != nil {
		slog.Error("Command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

// flags is the flag set shared by every command.
type flags struct {
	*flag.FlagSet
	config string
}

func newFlags(name string) *flags {
	f := &flags{FlagSet: flag.NewFlagSet(name, flag.ExitOnError)}
	f.StringVar(&f.config, "config", os.Getenv("FXBOT_CONFIG"), "path to a YAML config file")
	return f
}

// load parses args, loads the config and installs the configured log handler. The
// returned func closes the log file.
func (f *flags) load(args []string) (*config.Settings, func(), error) {
	if err := f.Parse(args); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(f.config)
	if err != nil {
		return nil, nil, err
	}

	logging.EnableTopics(cfg.Logging.Topics...)
	if cfg.Logging.File == "" {
		logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
		return cfg, func() {}, nil
	}
	file, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, io.MultiWriter(os.Stderr, file))
	return cfg, func() { file.Close() }, nil
}
