package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"phishing-detector/internal/config"
)

const defaultConfigPath = "configs/config.yml"

// app carries what every subcommand needs
type app struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	err := a.rootCommand().ExecuteContext(ctx)
	if a.logger != nil {
		if err != nil {
			a.logger.Error("Command failed", zap.Error(err))
		}
		_ = a.logger.Sync()
	} else if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	if err != nil {
		stop()
		os.Exit(1)
	}
}

func (a *app) rootCommand() *cobra.Command {
	train := a.trainCommand()

	root := &cobra.Command{
		Use:           "trainer",
		Short:         "Fine-tune and run a phishing email classifier",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		// bare invocation runs the training pipeline
		RunE: train.RunE,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultConfigPath, "Path to the YAML config file")
	root.Flags().AddFlagSet(train.Flags())

	root.AddCommand(train, a.predictCommand(), a.runsCommand())
	return root
}

// setup loads configuration and builds the logger
func (a *app) setup() error {
	cfg, err := config.LoadConfig(a.configPath)
	missing := false
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && a.configPath == defaultConfigPath:
		cfg = config.Default()
		missing = true
	default:
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	if missing {
		logger.Warn("Config file not found, using defaults", zap.String("path", a.configPath))
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func newLogger(level, format string) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if format == "json" {
		zcfg = zap.NewProductionConfig()
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = lvl
	return zcfg.Build()
}
