// Package main provides the entry point for ptyhost.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/abdullathedruid/ptyhost/internal/app"
	"github.com/abdullathedruid/ptyhost/internal/config"
	"github.com/abdullathedruid/ptyhost/internal/logging"
	"github.com/abdullathedruid/ptyhost/internal/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath  string
		listen      string
		token       string
		mode        string
		logLevel    string
		development bool
		showVersion bool
	)

	flags := pflag.NewFlagSet("ptyhost", pflag.ContinueOnError)
	flags.StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: $XDG_CONFIG_HOME/ptyhost/config.yaml)")
	flags.StringVar(&listen, "listen", "", "address for the websocket and metrics listener")
	flags.StringVar(&token, "token", "", "connection token (generated when empty)")
	flags.StringVar(&mode, "mode", "", `trust mode, "packaged" or "development"`)
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&development, "dev", false, "human-readable development logging")
	flags.BoolVar(&showVersion, "version", false, "print version and exit")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Println("ptyhost", version.Short())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Flags win over the file and the environment.
	if flags.Changed("listen") {
		cfg.Listen = listen
	}
	if flags.Changed("token") {
		cfg.Token = token
	}
	if flags.Changed("mode") {
		cfg.Trust.Mode = mode
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("dev") {
		cfg.Log.Development = development
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.Development = cfg.Log.Development
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting ptyhost",
		zap.String("version", version.Short()),
		zap.String("mode", cfg.Trust.Mode),
		zap.String("config", cfg.ConfigFile()))

	host, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return host.Run(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
