package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/nidhogg/alice/internal/config"
	"github.com/nidhogg/alice/internal/scenario"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	configPath   string
	scenarioPath string
}

func main() {
	_ = godotenv.Load()

	opts := &options{}
	root := &cobra.Command{
		Use:           "alice",
		Short:         "Turn-taking village simulation driven by language models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", envOr("CONFIG_PATH", "configs/alice.json"), "config file")
	root.PersistentFlags().StringVar(&opts.scenarioPath, "scenario", envOr("SCENARIO_PATH", "configs/scenario.yaml"), "scenario file")

	root.AddCommand(
		newServeCmd(opts),
		newRunCmd(opts),
		newCheckCmd(opts),
		newTailCmd(opts),
		newWatchCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "alice:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// load reads the config and the scenario and builds the logger.
func (o *options) load() (*config.Config, *scenario.Scenario, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	sc, err := scenario.Load(o.scenarioPath)
	if err != nil {
		return nil, nil, nil, err
	}
	sc.Tune(&cfg.Simulation)
	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, sc, logger, nil
}

func newLogger(level string) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zc.Build()
}
