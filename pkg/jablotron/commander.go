// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jablotron

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrCommandTimeout is returned when no response arrives for a command.
var ErrCommandTimeout = errors.New("command timed out waiting for response")

// responseSignal is a resettable "a response arrived" flag.
type responseSignal struct {
	ch chan struct{}
}

func newResponseSignal() *responseSignal {
	return &responseSignal{ch: make(chan struct{}, 1)}
}

// Set marks a response as arrived. Extra sets before the next Clear are no-ops.
func (s *responseSignal) Set() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Clear drops a pending signal.
func (s *responseSignal) Clear() {
	select {
	case <-s.ch:
	default:
	}
}

// Done returns the channel that receives when a response arrives.
func (s *responseSignal) Done() <-chan struct{} {
	return s.ch
}

// Commander writes commands and waits for the panel to answer. Only one
// command is in flight at a time; the panel's answers carry no correlation id
// so any telegram received after the write completes the wait.
type Commander struct {
	mu      sync.Mutex
	w       io.Writer
	pin     string
	timeout time.Duration
	signal  *responseSignal
	log     zerolog.Logger

	sent     atomic.Uint64
	timeouts atomic.Uint64
}

// NewCommander creates a commander writing to w.
func NewCommander(w io.Writer, pin string, timeout time.Duration, log zerolog.Logger) *Commander {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &Commander{
		w:       w,
		pin:     pin,
		timeout: timeout,
		signal:  newResponseSignal(),
		log:     log,
	}
}

// ResponseArrived is called by the dispatcher for every telegram.
func (c *Commander) ResponseArrived() {
	c.signal.Set()
}

// Send writes text followed by a newline and blocks until a response is
// dispatched, the timeout expires or ctx is done.
func (c *Commander) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	shown := c.redact(text)
	c.log.Debug().Str("command", shown).Msg("→")

	c.signal.Clear()
	if _, err := c.w.Write([]byte(text + "\n")); err != nil {
		return fmt.Errorf("write %q: %w", shown, err)
	}
	c.sent.Add(1)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-c.signal.Done():
		return nil
	case <-timer.C:
		c.timeouts.Add(1)
		c.log.Error().Str("command", shown).Dur("timeout", c.timeout).Msg("No response from panel")
		return fmt.Errorf("%q: %w", shown, ErrCommandTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendAuthenticated prefixes text with the PIN. Use it for state-changing
// commands only.
func (c *Commander) SendAuthenticated(ctx context.Context, text string) error {
	return c.Send(ctx, c.pin+" "+text)
}

// Counters returns the number of commands written and timed out.
func (c *Commander) Counters() (sent, timeouts uint64) {
	return c.sent.Load(), c.timeouts.Load()
}

func (c *Commander) redact(text string) string {
	if c.pin == "" {
		return text
	}
	if rest, ok := strings.CutPrefix(text, c.pin+" "); ok {
		return "**** " + rest
	}
	return text
}
