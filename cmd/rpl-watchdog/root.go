package main

import (
	"fmt"

	"github.com/hervehildenbrand/rpl-watchdog/pkg/config"
	"github.com/hervehildenbrand/rpl-watchdog/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "rpl-watchdog",
	Short: "rpl-watchdog - RPL attack and anomaly watchdog",
	Long: `rpl-watchdog inspects RPL control messages (DIS, DIO, DAO, DAO-ACK, DRO)
captured on a 6LoWPAN network, identifies suspicious events and reports
the ones no protector handled.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"override log level (debug/info/warn/error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replayCmd)
}

// loadConfig loads the configuration and initialises logging.
func loadConfig() (*config.Config, func(), error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	closer, err := log.Init(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("init logging: %w", err)
	}
	return cfg, func() { closer.Close() }, nil
}
