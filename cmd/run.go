// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/jablobridge/pkg/journal"
	"github.com/Thermoquad/jablobridge/pkg/metrics"
	"github.com/Thermoquad/jablobridge/pkg/mqttbridge"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	runInitTimeout   time.Duration
	runStatsInterval time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the panel bridge",
	Long: `Connect to the panel and keep the alarm state, section flags and sensors
in sync.

Depending on the config file, state and sensor changes are:
  - published to MQTT ([mqtt] broker), where <prefix>/state/set accepts a
    state name or a HomeKit target value (0-3)
  - reported as DogStatsD gauges ([metrics] statsd_addr)
  - appended to the SQLite event journal ([journal] path)

The command exits when the connection to the panel is lost; restart it from
a service manager.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().DurationVar(&runInitTimeout, "init-timeout", 30*time.Second, "Time allowed for the initial VER, PRFSTATE and STATE exchange")
	runCmd.Flags().DurationVar(&runStatsInterval, "stats-interval", time.Minute, "Protocol statistics interval")
}

func runRun(cmd *cobra.Command, args []string) error {
	sess, err := openSession(true)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, engine := sess.cfg, sess.engine
	log.Info().Str("connection", sess.connInfo).Strs("states", engine.Catalog().Names()).Int("sensors", engine.Sensors().Len()).Msg("Starting bridge")

	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer j.Close()
		rec := journal.NewRecorder(j, 0, log.Logger)
		defer engine.Attach(rec)()
		defer engine.Sensors().AttachAll(rec)()
		recCtx, cancel := context.WithCancel(context.Background())
		recDone := make(chan struct{})
		go func() {
			rec.Run(recCtx)
			close(recDone)
		}()
		// drain the journal after the engine has stopped
		defer func() {
			cancel()
			<-recDone
		}()
	}

	var reporter *metrics.Reporter
	if cfg.Metrics.StatsdAddr != "" {
		client, err := metrics.Dial(cfg.Metrics.StatsdAddr, cfg.Metrics.Namespace, cfg.Metrics.Tags)
		if err != nil {
			log.Warn().Err(err).Msg("Metrics disabled")
		} else {
			defer client.Close()
			reporter = metrics.NewReporter(client, engine.Catalog(), log.Logger)
			defer engine.Attach(reporter)()
			defer engine.Sensors().AttachAll(reporter)()
			log.Info().Str("addr", cfg.Metrics.StatsdAddr).Str("namespace", cfg.Metrics.Namespace).Msg("Metrics initialized")
		}
	}

	done, err := sess.start(ctx, runInitTimeout)
	if err != nil {
		return err
	}

	if reporter != nil {
		reporter.AlarmStateChanged(engine.State())
		go reporter.Run(ctx, engine, runStatsInterval)
	}

	if cfg.MQTT.Broker != "" {
		password := ""
		if cfg.MQTT.Username != "" {
			password = os.Getenv("JABLOTRON_MQTT_PASSWORD")
		}
		bridge, client, err := mqttbridge.Connect(engine, mqttbridge.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: password,
			Prefix:   cfg.MQTT.TopicPrefix,
			Buttons:  cfg.MQTT.Buttons,
			Logger:   log.Logger,
		})
		if err != nil {
			return err
		}
		defer func() {
			bridge.Offline()
			client.Disconnect(250)
		}()
		defer engine.Attach(bridge)()
		defer engine.Sensors().AttachAll(bridge)()
		go bridge.Run(ctx)
	}

	statsTicker := time.NewTicker(runStatsInterval)
	defer statsTicker.Stop()

	for {
		select {
		case err := <-done:
			if errors.Is(err, context.Canceled) {
				log.Info().Msg("Shutting down")
				return nil
			}
			return fmt.Errorf("bridge stopped: %w", err)
		case <-statsTicker.C:
			st := engine.Stats()
			log.Info().
				Uint64("telegrams", st.TotalTelegrams).
				Uint64("unrecognized", st.Unrecognized).
				Uint64("command_timeouts", st.CommandTimeouts).
				Str("state", engine.State()).
				Msg("Protocol statistics")
		}
	}
}
