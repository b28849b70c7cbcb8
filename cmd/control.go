// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/jablobridge/pkg/config"
	"github.com/Thermoquad/jablobridge/pkg/jablotron"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var controlInitTimeout time.Duration

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for arming and monitoring the panel",
	Long: `Monitor and control the alarm panel via an interactive terminal UI.

This command provides a TUI over the JA-121T connected via serial or a
WebSocket bridge.

Features:
  - Configured alarm states, selectable to arm or disarm
  - Live section states, flags and active sensors
  - Read-only command input (VER, STATE, PRFSTATE)
  - Statistics tracking
  - Event logging
  - Automatic reconnection on connection loss

Tab switches between the state list and the command input. Arrow keys
navigate the state list and Enter applies the selected state.

The PIN is resolved once at startup from JABLOTRON_PIN, the config file, or
a prompt.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
	controlCmd.Flags().DurationVar(&controlInitTimeout, "init-timeout", 15*time.Second, "Time allowed for the initial VER, PRFSTATE and STATE exchange")
}

// controlEvent is an engine notification queued for the TUI
type controlEvent struct {
	timestamp time.Time
	message   string
	isError   bool
}

// connectionManager handles the session lifecycle and reconnection
type connectionManager struct {
	cfg  *config.Config
	pin  string
	p    *tea.Program
	done chan struct{}

	mu     sync.RWMutex
	sess   *session
	cancel context.CancelFunc

	events chan controlEvent
}

func (cm *connectionManager) getSession() *session {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.sess
}

func (cm *connectionManager) setSession(sess *session, cancel context.CancelFunc) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.sess = sess
	cm.cancel = cancel
}

func runControl(cmd *cobra.Command, args []string) error {
	// Resolve the PIN before the alt screen takes over the terminal
	cfg, pin, err := sessionConfig(true)
	if err != nil {
		return err
	}
	muteConsoleLogging()

	cm := &connectionManager{
		cfg:    cfg,
		pin:    pin,
		done:   make(chan struct{}),
		events: make(chan controlEvent, 100),
	}

	catalog, err := cfg.Catalog()
	if err != nil {
		return err
	}
	m := initialControlModel(cm, catalog)

	// Create TUI program with alt screen and mouse support
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	cm.p = p

	go cm.sessionLoop()
	go cm.batchLoop()

	_, runErr := p.Run()

	close(cm.done) // Signal goroutines to stop
	cm.mu.Lock()
	if cm.cancel != nil {
		cm.cancel()
	}
	if cm.sess != nil {
		cm.sess.Close()
	}
	cm.mu.Unlock()

	if runErr != nil {
		return fmt.Errorf("TUI error: %v", runErr)
	}
	return nil
}

// sessionLoop keeps an engine running, reconnecting with exponential
// backoff whenever the connection is lost
func (cm *connectionManager) sessionLoop() {
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-cm.done:
			return
		default:
		}

		err := cm.runSession()
		select {
		case <-cm.done:
			return
		default:
		}

		if err == nil {
			backoff = 1 * time.Second
		}
		cm.p.Send(connectionLostMsg{err: err})
		log.Warn().Err(err).Dur("retry_in", backoff).Msg("Panel session ended")

		select {
		case <-cm.done:
			return
		case <-time.After(backoff):
		}

		// Exponential backoff
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// runSession opens one session and blocks until it ends. A nil error means
// the session initialized and later lost its connection.
func (cm *connectionManager) runSession() error {
	sess, err := newSession(cm.cfg, cm.pin)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cm.setSession(sess, cancel)
	defer cm.setSession(nil, nil)

	obs := &controlObserver{events: cm.events, sensors: sess.engine.Sensors()}
	defer sess.engine.Attach(obs)()
	defer sess.engine.Sensors().AttachAll(obs)()

	done, err := sess.start(ctx, controlInitTimeout)
	if err != nil {
		return err
	}
	cm.p.Send(sessionReadyMsg{engine: sess.engine, connInfo: sess.connInfo})

	err = <-done
	log.Warn().Err(err).Msg("Engine stopped")
	return nil
}

// batchLoop sends queued events to the TUI at a fixed rate
func (cm *connectionManager) batchLoop() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-cm.done:
			return
		case <-ticker.C:
			var batch controlBatchMsg

			// Drain all available events
		drainLoop:
			for {
				select {
				case ev := <-cm.events:
					batch.events = append(batch.events, ev)
				default:
					break drainLoop
				}
			}

			if len(batch.events) > 0 {
				cm.p.Send(batch)
			}
		}
	}
}

// controlObserver forwards engine notifications without blocking the engine
type controlObserver struct {
	events  chan<- controlEvent
	sensors *jablotron.Registry
}

func (o *controlObserver) push(message string, isError bool) {
	select {
	case o.events <- controlEvent{timestamp: time.Now(), message: message, isError: isError}:
	default:
	}
}

func (o *controlObserver) AlarmStateChanged(state string) {
	o.push(fmt.Sprintf("Alarm state: %s", state), state == jablotron.StateTriggered)
}

func (o *controlObserver) SectionFlagChanged(flag string, section int, on bool) {
	o.push(fmt.Sprintf("Section %d: %s %s", section, flag, onOffText(on)), on)
}

func (o *controlObserver) SensorChanged(s *jablotron.Sensor, active bool) {
	if active {
		o.push(fmt.Sprintf("Sensor %d %s (%s) active", s.ID(), s.Name(), s.Kind()), false)
	}
}

func (o *controlObserver) TelegramReceived(line, route string, result jablotron.DispatchResult) {
	if result == jablotron.DispatchUnrecognized {
		o.push(fmt.Sprintf("Unrecognized telegram %q", line), true)
	}
}

func onOffText(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
