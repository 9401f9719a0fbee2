package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"forks-project/config"
	"forks-project/logger"
)

var flagConfig string

var rootCmd = &cobra.Command{
	Use:           "forks",
	Short:         "Fork manager with root advancement and snapshot packaging",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", config.DefaultPath, "path to the config file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(snapshotsCmd)
}

// setup loads the config and initializes the process logger.
func setup() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if err := logger.InitLogger(cfg.Log.AppLogFile, cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	logger.Logger.Debug("Loaded config", zap.String("path", flagConfig))
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
