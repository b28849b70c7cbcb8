// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mqttbridge exposes the alarm engine over MQTT: retained state,
// sensor and identity topics, and a set topic for requesting a new state.
package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/jablobridge/pkg/jablotron"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	availabilityOnline  = "online"
	availabilityOffline = "offline"

	requestTimeout = 30 * time.Second
)

// Client is the part of mqtt.Client the bridge uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Controller is the engine surface driven by the bridge.
type Controller interface {
	SetAlarmState(ctx context.Context, name string) error
	State() string
	Identity() jablotron.Identity
	Catalog() *jablotron.Catalog
	Sensors() *jablotron.Registry
}

// Options configures a Bridge.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Prefix   string
	// Buttons lists states exposed as individual ON/OFF switches.
	Buttons []string
	Logger  zerolog.Logger
}

// Bridge publishes engine events and forwards set requests to the engine.
// Observer callbacks only enqueue publishes; they never wait on the broker.
type Bridge struct {
	client   Client
	ctrl     Controller
	prefix   string
	buttons  []string
	log      zerolog.Logger
	requests chan string
}

// New creates a bridge using client. Call Connect instead to dial a broker.
func New(client Client, ctrl Controller, opts Options) *Bridge {
	prefix := strings.TrimSuffix(opts.Prefix, "/")
	if prefix == "" {
		prefix = "jablotron"
	}
	return &Bridge{
		client:   client,
		ctrl:     ctrl,
		prefix:   prefix,
		buttons:  opts.Buttons,
		log:      opts.Logger,
		requests: make(chan string, 4),
	}
}

// Connect dials the broker. The bridge resubscribes and republishes its
// state on every (re)connect; the broker publishes "offline" if the link drops.
func Connect(ctrl Controller, opts Options) (*Bridge, mqtt.Client, error) {
	b := New(nil, ctrl, opts)

	mo := mqtt.NewClientOptions()
	mo.AddBroker(opts.Broker)
	mo.SetClientID(opts.ClientID)
	if opts.Username != "" {
		mo.SetUsername(opts.Username)
		mo.SetPassword(opts.Password)
	}
	mo.SetAutoReconnect(true)
	mo.SetWill(b.topic("availability"), availabilityOffline, 1, true)
	mo.SetOnConnectHandler(func(c mqtt.Client) {
		b.log.Info().Str("broker", opts.Broker).Msg("Connected to MQTT broker")
		b.Subscribe()
		b.PublishAll()
	})
	mo.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.log.Warn().Err(err).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(mo)
	b.client = client
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, nil, fmt.Errorf("connect to MQTT broker %s: %w", opts.Broker, token.Error())
	}
	return b, client, nil
}

func (b *Bridge) topic(parts ...string) string {
	return b.prefix + "/" + strings.Join(parts, "/")
}

func (b *Bridge) publish(topic string, payload string) {
	token := b.client.Publish(topic, 1, true, payload)
	go func() {
		if token.WaitTimeout(10*time.Second) && token.Error() != nil {
			b.log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// Subscribe registers the set topics.
func (b *Bridge) Subscribe() {
	b.client.Subscribe(b.topic("state", "set"), 1, b.handleStateSet)
	for _, name := range b.buttons {
		b.client.Subscribe(b.topic("button", name, "set"), 1, func(_ mqtt.Client, msg mqtt.Message) {
			b.handleButton(name, msg)
		})
	}
}

// PublishAll publishes availability, identity, state and every sensor.
func (b *Bridge) PublishAll() {
	b.publish(b.topic("availability"), availabilityOnline)
	if id := b.ctrl.Identity(); id.Model != "" {
		data, err := json.Marshal(id)
		if err == nil {
			b.publish(b.topic("identity"), string(data))
		}
	}
	b.AlarmStateChanged(b.ctrl.State())
	for _, s := range b.ctrl.Sensors().All() {
		b.SensorChanged(s, s.Value())
	}
}

// Offline publishes the offline availability, for orderly shutdown.
func (b *Bridge) Offline() {
	token := b.client.Publish(b.topic("availability"), 1, true, availabilityOffline)
	token.WaitTimeout(2 * time.Second)
}

// AlarmStateChanged publishes the state, its HomeKit values and the buttons.
func (b *Bridge) AlarmStateChanged(state string) {
	b.publish(b.topic("state"), state)
	b.publish(b.topic("state", "homekit"), strconv.Itoa(HomeKitState(state)))
	if target, ok := HomeKitTarget(state); ok {
		b.publish(b.topic("state", "homekit", "target"), strconv.Itoa(target))
	}
	for _, name := range b.buttons {
		b.publish(b.topic("button", name), onOff(name == state))
	}
}

// SensorChanged publishes one sensor.
func (b *Bridge) SensorChanged(s *jablotron.Sensor, active bool) {
	b.publish(b.topic("sensor", strconv.Itoa(s.ID())), onOff(active))
}

// ResolveTarget interprets a set payload: a catalog state name, or a HomeKit
// target value 0..3.
func (b *Bridge) ResolveTarget(payload string) (string, error) {
	payload = strings.TrimSpace(payload)
	if n, err := strconv.Atoi(payload); err == nil {
		name, ok := StateFromHomeKit(n)
		if !ok {
			return "", fmt.Errorf("HomeKit target %d out of range", n)
		}
		payload = name
	}
	if _, err := b.ctrl.Catalog().Lookup(payload); err != nil {
		return "", err
	}
	return payload, nil
}

func (b *Bridge) handleStateSet(_ mqtt.Client, msg mqtt.Message) {
	target, err := b.ResolveTarget(string(msg.Payload()))
	if err != nil {
		b.log.Warn().Err(err).Str("topic", msg.Topic()).Msg("Ignoring state request")
		return
	}
	b.enqueue(target)
}

func (b *Bridge) handleButton(name string, msg mqtt.Message) {
	if !strings.EqualFold(strings.TrimSpace(string(msg.Payload())), "ON") {
		return
	}
	b.enqueue(name)
}

func (b *Bridge) enqueue(target string) {
	select {
	case b.requests <- target:
		b.log.Info().Str("target", target).Msg("State requested over MQTT")
	default:
		b.log.Warn().Str("target", target).Msg("State request queue full, dropping")
	}
}

// Run executes queued state requests until ctx is done. Requests run here
// so the MQTT callback goroutine is never blocked on the panel.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case target := <-b.requests:
			reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
			err := b.ctrl.SetAlarmState(reqCtx, target)
			cancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				b.log.Error().Err(err).Str("target", target).Msg("Failed to set alarm state")
				// republish so the retained state matches the panel again
				b.AlarmStateChanged(b.ctrl.State())
			}
		}
	}
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
