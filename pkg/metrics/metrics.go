// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics reports alarm state, sensor activity and protocol
// counters to a DogStatsD agent.
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/Thermoquad/jablobridge/pkg/jablotron"
	"github.com/rs/zerolog"
)

// Gauger is the part of *statsd.Client the reporter uses.
type Gauger interface {
	Gauge(name string, value float64, tags []string, rate float64) error
	Close() error
}

// StatsSource provides protocol statistics.
type StatsSource interface {
	Stats() jablotron.Statistics
}

// Reporter is a state and sensor observer that emits gauges.
type Reporter struct {
	client Gauger
	states []string
	log    zerolog.Logger
}

// Dial creates a DogStatsD client for addr.
func Dial(addr, namespace string, tags []string) (*statsd.Client, error) {
	client, err := statsd.New(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create DogStatsD client: %w", err)
	}
	client.Namespace = namespace
	client.Tags = tags
	return client, nil
}

// NewReporter creates a reporter for the states of catalog.
func NewReporter(client Gauger, catalog *jablotron.Catalog, log zerolog.Logger) *Reporter {
	return &Reporter{
		client: client,
		states: append(catalog.Names(), jablotron.StateTriggered),
		log:    log,
	}
}

func (r *Reporter) gauge(name string, value float64, tags ...string) {
	if err := r.client.Gauge(name, value, tags, 1); err != nil {
		r.log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
	}
}

// AlarmStateChanged sets alarm.state to 1 for the current state and 0 for
// every other one.
func (r *Reporter) AlarmStateChanged(state string) {
	for _, s := range r.states {
		v := 0.0
		if s == state {
			v = 1
		}
		r.gauge("alarm.state", v, "state:"+s)
	}
}

// SensorChanged reports one sensor's activation.
func (r *Reporter) SensorChanged(s *jablotron.Sensor, active bool) {
	v := 0.0
	if active {
		v = 1
	}
	r.gauge("sensor.active", v, "sensor:"+strconv.Itoa(s.ID()), "kind:"+string(s.Kind()))
}

// ReportStats emits the protocol counters.
func (r *Reporter) ReportStats(st jablotron.Statistics) {
	st.CalculateRates()
	r.gauge("protocol.telegrams", float64(st.TotalTelegrams))
	r.gauge("protocol.unrecognized", float64(st.Unrecognized))
	r.gauge("protocol.overflows", float64(st.Overflows))
	r.gauge("protocol.invalid_bitmasks", float64(st.InvalidBitmasks))
	r.gauge("protocol.unmatched_states", float64(st.UnmatchedStates))
	r.gauge("protocol.commands_sent", float64(st.CommandsSent))
	r.gauge("protocol.command_timeouts", float64(st.CommandTimeouts))
	r.gauge("protocol.telegram_rate", st.TelegramRate)
	r.gauge("protocol.error_rate", st.ErrorRate)
}

// Run reports src every interval until ctx is done.
func (r *Reporter) Run(ctx context.Context, src StatsSource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReportStats(src.Stats())
		}
	}
}
