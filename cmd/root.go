// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"io"
	"os"

	"github.com/Thermoquad/jablobridge/pkg/config"
	"github.com/Thermoquad/jablobridge/pkg/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Configuration flags
	configPath string
	logLevel   string

	logCloser io.Closer
	logFile   string
	logLvl    string
)

var rootCmd = &cobra.Command{
	Use:   "jablobridge",
	Short: "Jablotron JA-100 RS-485 bridge",
	Long: `Jablobridge - talks to a Jablotron JA-100 alarm panel through the JA-121T
RS-485 interface.

It tracks the overall alarm state, section flags and wired sensors, and can
arm or disarm the panel by configured state name. The run command bridges the
panel to MQTT, DogStatsD and a local SQLite event journal.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 9600]
  WebSocket: --url ws://host/path [--username user]

The panel PIN is read from the config file, the JABLOTRON_PIN environment
variable, or prompted interactively. For WebSocket authentication, the
password is read from the JABLOTRON_PASSWORD environment variable, or
prompted interactively if not set. Neither is accepted as a flag to avoid
leaking credentials in shell history.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device (default from config)")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 0, "Baud rate (serial only, default from config or 9600)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Configuration flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "Config file (TOML, or YAML by extension)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")
}

// setupLogging configures zerolog from the config file when it exists and
// from --log-level.
func setupLogging(cmd *cobra.Command, args []string) error {
	level, file := config.DefaultLogLevel, ""
	if cfg, err := loadConfig(); err == nil {
		level, file = cfg.Log.Level, cfg.Log.File
	}
	if logLevel != "" {
		level = logLevel
	}
	closer, err := logging.Init(level, file)
	if err != nil {
		return err
	}
	logCloser = closer
	logLvl, logFile = level, file
	return nil
}

// muteConsoleLogging keeps only the log file, for full-screen commands
func muteConsoleLogging() {
	logger, closer, err := logging.New(logging.ParseLevel(logLvl), io.Discard, logFile)
	if err != nil {
		log.Logger = zerolog.Nop()
		return
	}
	if logCloser != nil {
		logCloser.Close()
	}
	logCloser = closer
	log.Logger = logger
}

var (
	loadedConfig *config.Config
	loadErr      error
	loaded       bool
)

// loadConfig reads --config once.
func loadConfig() (*config.Config, error) {
	if !loaded {
		loaded = true
		loadedConfig, loadErr = config.Load(configPath)
	}
	return loadedConfig, loadErr
}

// optionalConfig returns the config, or nil if the file does not exist.
// Parse and validation errors are still reported.
func optionalConfig() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil && errors.Is(err, os.ErrNotExist) {
		log.Debug().Str("config", configPath).Msg("No config file, using defaults")
		return nil, nil
	}
	return cfg, err
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
