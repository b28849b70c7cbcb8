// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the panel configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Thermoquad/jablobridge/pkg/jablotron"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigFilename is used when no --config flag is given.
	DefaultConfigFilename = "jablotron.toml"

	DefaultPort        = "/dev/ttyUSB0"
	DefaultBaud        = 9600
	DefaultTopicPrefix = "jablotron"
	DefaultClientID    = "jablobridge"
	DefaultNamespace   = "jablotron."
	DefaultLogLevel    = "info"

	// PINEnv overrides the pin key of the config file.
	PINEnv = "JABLOTRON_PIN"
)

var errNoStates = errors.New("at least one alarm state must be configured")

// Serial selects the RS-485 adapter.
type Serial struct {
	Port string `toml:"port" yaml:"port"`
	Baud int    `toml:"baud" yaml:"baud"`
}

// Engine holds protocol tuning knobs. Durations use time.ParseDuration syntax.
type Engine struct {
	SettleDelay    string `toml:"settle_delay" yaml:"settle_delay"`
	CommandTimeout string `toml:"command_timeout" yaml:"command_timeout"`
	MaxLineLength  int    `toml:"max_line_length" yaml:"max_line_length"`
	OffState       string `toml:"off_state" yaml:"off_state"`
}

// State is one [[states]] entry.
type State struct {
	Name    string `toml:"name" yaml:"name"`
	Armed   []int  `toml:"armed" yaml:"armed"`
	Partial []int  `toml:"partial" yaml:"partial"`
}

// Sensor is one [[sensors]] entry.
type Sensor struct {
	ID    int    `toml:"id" yaml:"id"`
	Name  string `toml:"name" yaml:"name"`
	Model string `toml:"model" yaml:"model"`
	Kind  string `toml:"kind" yaml:"kind"`
}

// MQTT configures the accessory bridge. An empty broker disables it.
type MQTT struct {
	Broker      string   `toml:"broker" yaml:"broker"`
	TopicPrefix string   `toml:"topic_prefix" yaml:"topic_prefix"`
	ClientID    string   `toml:"client_id" yaml:"client_id"`
	Username    string   `toml:"username" yaml:"username"`
	Buttons     []string `toml:"buttons" yaml:"buttons"`
}

// Metrics configures DogStatsD. An empty address disables it.
type Metrics struct {
	StatsdAddr string   `toml:"statsd_addr" yaml:"statsd_addr"`
	Namespace  string   `toml:"namespace" yaml:"namespace"`
	Tags       []string `toml:"tags" yaml:"tags"`
}

// Journal configures the event history database. An empty path disables it.
type Journal struct {
	Path string `toml:"path" yaml:"path"`
}

// Log configures logging.
type Log struct {
	Level string `toml:"level" yaml:"level"`
	File  string `toml:"file" yaml:"file"`
}

// Config is the whole configuration file.
type Config struct {
	PIN     string   `toml:"pin" yaml:"pin"`
	Serial  Serial   `toml:"serial" yaml:"serial"`
	Engine  Engine   `toml:"engine" yaml:"engine"`
	States  []State  `toml:"states" yaml:"states"`
	Sensors []Sensor `toml:"sensors" yaml:"sensors"`
	MQTT    MQTT     `toml:"mqtt" yaml:"mqtt"`
	Metrics Metrics  `toml:"metrics" yaml:"metrics"`
	Journal Journal  `toml:"journal" yaml:"journal"`
	Log     Log      `toml:"log" yaml:"log"`
}

// Load reads the file at path. Files ending in .yaml or .yml are parsed as
// YAML, everything else as TOML. Defaults are applied before validation.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data, isYAML(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a configuration document, applies defaults and validates it.
func Parse(data []byte, asYAML bool) (*Config, error) {
	var cfg Config
	if asYAML {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml: %w", err)
		}
	} else {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal toml: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func (c *Config) applyDefaults() {
	if c.Serial.Port == "" {
		c.Serial.Port = DefaultPort
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = DefaultBaud
	}
	if c.Engine.OffState == "" {
		c.Engine.OffState = string(jablotron.OffIgnore)
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = DefaultTopicPrefix
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = DefaultClientID
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultNamespace
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// Validate checks the configuration without touching the panel.
func (c *Config) Validate() error {
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud)
	}
	if _, err := parseDuration("engine.settle_delay", c.Engine.SettleDelay); err != nil {
		return err
	}
	if _, err := parseDuration("engine.command_timeout", c.Engine.CommandTimeout); err != nil {
		return err
	}
	if c.Engine.MaxLineLength < 0 {
		return fmt.Errorf("engine.max_line_length must not be negative")
	}
	switch jablotron.OffPolicy(c.Engine.OffState) {
	case jablotron.OffIgnore, jablotron.OffDisarmed:
	default:
		return fmt.Errorf("engine.off_state must be %q or %q, got %q",
			jablotron.OffIgnore, jablotron.OffDisarmed, c.Engine.OffState)
	}
	if len(c.States) == 0 {
		return errNoStates
	}
	catalog, err := c.Catalog()
	if err != nil {
		return err
	}
	for _, b := range c.MQTT.Buttons {
		if _, err := catalog.Lookup(b); err != nil {
			return fmt.Errorf("mqtt.buttons: %w", err)
		}
	}
	if _, err := c.Registry(); err != nil {
		return err
	}
	return nil
}

func parseDuration(key, s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}

// Catalog builds the alarm state catalog from the [[states]] entries.
func (c *Config) Catalog() (*jablotron.Catalog, error) {
	states := make([]*jablotron.AlarmState, 0, len(c.States))
	for _, s := range c.States {
		st, err := jablotron.NewAlarmState(strings.TrimSpace(s.Name), s.Armed, s.Partial)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return jablotron.NewCatalog(states...)
}

// Registry builds the sensor registry from the [[sensors]] entries.
func (c *Config) Registry() (*jablotron.Registry, error) {
	sensors := make([]*jablotron.Sensor, 0, len(c.Sensors))
	for _, s := range c.Sensors {
		sensors = append(sensors, jablotron.NewSensor(s.ID, s.Name, s.Model, s.Kind))
	}
	return jablotron.NewRegistry(sensors...)
}

// EngineOptions converts the [engine] table. The logger is left to the caller.
func (c *Config) EngineOptions(pin string) jablotron.Options {
	settle, _ := parseDuration("engine.settle_delay", c.Engine.SettleDelay)
	timeout, _ := parseDuration("engine.command_timeout", c.Engine.CommandTimeout)
	return jablotron.Options{
		PIN:            pin,
		SettleDelay:    settle,
		CommandTimeout: timeout,
		MaxLineLength:  c.Engine.MaxLineLength,
		OffPolicy:      jablotron.OffPolicy(c.Engine.OffState),
	}
}

// ResolvePIN returns the PIN from the environment, then the config file, then
// prompt. prompt may be nil, in which case a missing PIN is an error.
func (c *Config) ResolvePIN(prompt func() (string, error)) (string, error) {
	if pin := strings.TrimSpace(os.Getenv(PINEnv)); pin != "" {
		return pin, nil
	}
	if pin := strings.TrimSpace(c.PIN); pin != "" {
		return pin, nil
	}
	if prompt == nil {
		return "", fmt.Errorf("no PIN configured: set pin in the config file or %s", PINEnv)
	}
	pin, err := prompt()
	if err != nil {
		return "", fmt.Errorf("read PIN: %w", err)
	}
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return "", errors.New("empty PIN")
	}
	return pin, nil
}
