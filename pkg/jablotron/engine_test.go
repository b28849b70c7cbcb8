// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jablotron

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePanel is the far end of the RS-485 link. Bytes written with emit are
// read by the engine; every command the engine writes lands in commands.
type fakePanel struct {
	r        *io.PipeReader
	w        *io.PipeWriter
	commands chan string
}

func newFakePanel() *fakePanel {
	r, w := io.Pipe()
	return &fakePanel{r: r, w: w, commands: make(chan string, 16)}
}

func (p *fakePanel) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *fakePanel) Write(b []byte) (int, error) {
	p.commands <- strings.TrimSuffix(string(b), "\n")
	return len(b), nil
}

func (p *fakePanel) emit(t *testing.T, s string) {
	t.Helper()
	_, err := p.w.Write([]byte(s))
	require.NoError(t, err)
}

func (p *fakePanel) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-p.commands:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func (p *fakePanel) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case got := <-p.commands:
		t.Fatalf("unexpected command %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

type stateRecorder struct {
	mu     sync.Mutex
	states []string
	flags  []string
}

func (r *stateRecorder) AlarmStateChanged(state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *stateRecorder) SectionFlagChanged(flag string, section int, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags = append(r.flags, flag)
}

func (r *stateRecorder) States() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

// manualTimer replaces time.After so tests decide when the settle delay ends.
type manualTimer struct {
	calls int
}

func (m *manualTimer) after(time.Duration) <-chan time.Time {
	m.calls++
	return make(chan time.Time)
}

func engineCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog(
		mustState(t, StateHome, []int{1}, nil),
		mustState(t, StateNight, []int{1}, []int{2}),
		mustState(t, StateAway, []int{1, 2}, nil),
	)
	require.NoError(t, err)
	return c
}

func newTestEngine(t *testing.T, rw io.ReadWriter, opts Options) *Engine {
	t.Helper()
	opts.Logger = zerolog.Nop()
	if opts.PIN == "" {
		opts.PIN = "1234"
	}
	return NewEngine(rw, testRegistry(t, 0, 1, 15), engineCatalog(t), opts)
}

func TestEngine_ReconcileIsDebounced(t *testing.T) {
	e := newTestEngine(t, newFakePanel(), Options{})
	timer := &manualTimer{}
	e.after = timer.after
	rec := &stateRecorder{}
	e.Attach(rec)

	e.feed([]byte("STATE 1 ARMED\r\n"))
	e.feed([]byte("STATE 2 ARMED\r\n"))

	assert.Equal(t, 1, timer.calls)
	assert.Equal(t, StateDisarmed, e.State(), "state changed before the settle delay")
	assert.Empty(t, rec.States())

	e.reconcile()

	assert.Equal(t, StateAway, e.State())
	assert.Equal(t, []string{StateAway}, rec.States())
	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.Reconciliations)
	assert.Equal(t, uint64(1), stats.StateChanges)

	// a later report opens a new window
	e.feed([]byte("STATE 2 ARMED_PART\r\n"))
	assert.Equal(t, 2, timer.calls)
	e.reconcile()
	assert.Equal(t, StateNight, e.State())
}

func TestEngine_AlarmOverridesPendingReconcile(t *testing.T) {
	e := newTestEngine(t, newFakePanel(), Options{})
	timer := &manualTimer{}
	e.after = timer.after
	rec := &stateRecorder{}
	e.Attach(rec)

	e.feed([]byte("STATE 1 ARMED\r\n"))
	e.feed([]byte("INTRUDER_ALARM 1 ON\r\n"))
	assert.Equal(t, StateTriggered, e.State())

	// the settle timer fires while the alarm is still on
	e.reconcile()
	assert.Equal(t, StateTriggered, e.State())

	e.feed([]byte("INTRUDER_ALARM 1 OFF\r\n"))
	assert.Equal(t, StateHome, e.State())
	assert.Equal(t, []string{StateTriggered, StateHome}, rec.States())
	assert.Equal(t, []string{FlagIntruderAlarm, FlagIntruderAlarm}, rec.flags)
}

func TestEngine_NonAlarmFlagsDoNotTrigger(t *testing.T) {
	e := newTestEngine(t, newFakePanel(), Options{})
	e.after = (&manualTimer{}).after

	e.feed([]byte("EXIT 1 ON\r\nINTERNAL_WARNING 2 ON\r\n"))
	assert.Equal(t, StateDisarmed, e.State())
	assert.Equal(t, []ActiveFlag{
		{Section: 1, Flag: FlagExit},
		{Section: 2, Flag: FlagInternalWarning},
	}, e.Snapshot().Flags)

	e.feed([]byte("EXIT 1 OFF\r\n"))
	assert.Len(t, e.Snapshot().Flags, 1)
}

func TestEngine_UnavailableSectionsCountAsDisarmed(t *testing.T) {
	e := newTestEngine(t, newFakePanel(), Options{})
	timer := &manualTimer{}
	e.after = timer.after

	e.feed([]byte("STATE 1 ARMED\r\nSTATE 2 SERVICE\r\n"))
	e.reconcile()
	assert.Equal(t, StateHome, e.State())
	assert.Equal(t, SectionService, e.Snapshot().Sections[2])
}

func TestEngine_OffPolicy(t *testing.T) {
	e := newTestEngine(t, newFakePanel(), Options{})
	e.after = (&manualTimer{}).after
	e.feed([]byte("STATE 1 ARMED\r\n"))
	e.reconcile()
	e.feed([]byte("STATE 1 OFF\r\n"))
	e.reconcile()
	assert.Equal(t, StateHome, e.State())

	e = newTestEngine(t, newFakePanel(), Options{OffPolicy: OffDisarmed})
	e.after = (&manualTimer{}).after
	e.feed([]byte("STATE 1 ARMED\r\n"))
	e.reconcile()
	e.feed([]byte("STATE 1 OFF\r\n"))
	e.reconcile()
	assert.Equal(t, StateDisarmed, e.State())
}

func TestEngine_UnmatchedStateKeepsCurrent(t *testing.T) {
	e := newTestEngine(t, newFakePanel(), Options{})
	e.after = (&manualTimer{}).after

	e.feed([]byte("STATE 2 ARMED\r\n"))
	e.reconcile()
	assert.Equal(t, StateDisarmed, e.State())
	assert.Equal(t, uint64(1), e.Stats().UnmatchedStates)
}

func TestEngine_SensorBitmask(t *testing.T) {
	e := newTestEngine(t, newFakePanel(), Options{})
	var events []sensorEvent
	e.Sensors().AttachAll(SensorObserverFunc(func(s *Sensor, active bool) {
		events = append(events, sensorEvent{s.ID(), active})
	}))

	e.feed([]byte("PRFSTATE 0380\r\n"))
	assert.Equal(t, []int{0, 1, 15}, e.ActiveSensors())

	e.feed([]byte("PRFSTATE 0100\r\n"))
	assert.Equal(t, []int{0}, e.ActiveSensors())

	e.feed([]byte("PRFSTATE XYZ\r\n"))
	assert.Equal(t, []int{0}, e.ActiveSensors())
	assert.Equal(t, uint64(1), e.Stats().InvalidBitmasks)

	assert.Equal(t, []sensorEvent{
		{0, true}, {1, true}, {15, true},
		{1, false}, {15, false},
	}, events)
}

func TestEngine_VersionIdentity(t *testing.T) {
	e := newTestEngine(t, newFakePanel(), Options{})
	e.feed([]byte("JA-121T, SN:1210037d, SWV:NN60202, HWV:1\r\n"))
	assert.Equal(t, Identity{Model: "JA-121T", Serial: "1210037d", Firmware: "NN60202", Hardware: "1"}, e.Identity())
}

func TestEngine_TelegramObserver(t *testing.T) {
	e := newTestEngine(t, newFakePanel(), Options{})
	var seen []string
	detach := e.Attach(telegramFunc(func(line, route string, result DispatchResult) {
		seen = append(seen, route+":"+result.String())
	}))

	e.feed([]byte("\r\nOK\r\nnoise\r\n"))
	detach()
	e.feed([]byte("OK\r\n"))

	assert.Equal(t, []string{"ack:HANDLED", ":UNRECOGNIZED"}, seen)
	stats := e.Stats()
	assert.Equal(t, uint64(3), stats.TotalTelegrams)
	assert.Equal(t, uint64(1), stats.EmptyLines)
}

type telegramFunc func(line, route string, result DispatchResult)

func (f telegramFunc) TelegramReceived(line, route string, result DispatchResult) {
	f(line, route, result)
}

func TestEngine_SetAlarmStateUnknown(t *testing.T) {
	panel := newFakePanel()
	e := newTestEngine(t, panel, Options{})

	err := e.SetAlarmState(context.Background(), "vacation")
	var unknown *UnknownStateError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "vacation", unknown.Name)
	panel.expectNothing(t)

	assert.ErrorIs(t, e.SetAlarmState(context.Background(), StateAway), ErrNotReady)
	assert.ErrorIs(t, e.Query(context.Background(), CmdState), ErrNotReady)
}

func TestStatePlan_Commands(t *testing.T) {
	p := StatePlan{Target: StateNight, Disarm: []int{3, 4}, Arm: []int{1}, ArmPartial: []int{2}}
	assert.Equal(t, []string{"UNSET 3 4", "SET 1", "SETP 2"}, p.Commands())

	p = StatePlan{Target: StateDisarmed, Disarm: []int{1, 2}}
	assert.Equal(t, []string{"UNSET 1 2"}, p.Commands())
}

// startEngine runs the engine against panel and answers the
// initialisation sequence.
func startEngine(t *testing.T, panel *fakePanel, opts Options) (*Engine, <-chan error) {
	t.Helper()
	opts.SettleDelay = 10 * time.Millisecond
	e := newTestEngine(t, panel, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		panel.w.Close()
		<-done
	})

	panel.expect(t, CmdVersion)
	panel.emit(t, "JA-121T, SN:1210037d, SWV:NN60202, HWV:1\r\n")
	panel.expect(t, CmdSensorState)
	panel.emit(t, "PRFSTATE 00\r\n")
	panel.expect(t, CmdState)
	panel.emit(t, "STATE 1 READY\r\nSTATE 2 READY\r\nSTATE 3 ARMED\r\n")

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, e.WaitReady(waitCtx))
	return e, done
}

func TestEngine_SetAlarmStateSendsPlan(t *testing.T) {
	panel := newFakePanel()
	e, _ := startEngine(t, panel, Options{})

	result := make(chan error, 1)
	go func() { result <- e.SetAlarmState(context.Background(), StateNight) }()

	panel.expect(t, "1234 UNSET 3")
	panel.emit(t, "OK\r\n")
	panel.expect(t, "1234 SET 1")
	panel.emit(t, "OK\r\n")
	panel.expect(t, "1234 SETP 2")
	panel.emit(t, "OK\r\n")

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("SetAlarmState did not return")
	}

	panel.emit(t, "STATE 3 READY\r\nSTATE 1 ARMED\r\nSTATE 2 ARMED_PART\r\n")
	assert.Eventually(t, func() bool { return e.State() == StateNight }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "JA-121T", e.Identity().Model)
	assert.True(t, e.Snapshot().Ready)
}

func TestEngine_CommandTimeoutIsNotFatal(t *testing.T) {
	panel := newFakePanel()
	e, done := startEngine(t, panel, Options{CommandTimeout: 30 * time.Millisecond})

	err := e.Query(context.Background(), CmdState)
	panel.expect(t, CmdState)
	assert.ErrorIs(t, err, ErrCommandTimeout)

	select {
	case err := <-done:
		t.Fatalf("engine stopped: %v", err)
	default:
	}

	result := make(chan error, 1)
	go func() { result <- e.Query(context.Background(), CmdVersion) }()
	panel.expect(t, CmdVersion)
	panel.emit(t, "JA-121T, SN:1210037d, SWV:NN60202, HWV:1\r\n")
	assert.NoError(t, <-result)
}

func TestEngine_ConnectionLost(t *testing.T) {
	panel := newFakePanel()
	e := newTestEngine(t, panel, Options{})

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	panel.expect(t, CmdVersion)
	panel.w.CloseWithError(errors.New("device unplugged"))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrConnectionLost)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	assert.ErrorIs(t, e.Run(context.Background()), ErrStopped)
	assert.ErrorIs(t, e.WaitReady(context.Background()), ErrStopped)
}

func TestEngine_OverlongLineIsNotDispatched(t *testing.T) {
	e := newTestEngine(t, newFakePanel(), Options{MaxLineLength: 16})
	e.after = (&manualTimer{}).after

	e.feed([]byte("#garbage-garbage" + "STATE 1 ARMED\r\n"))
	e.reconcile()

	st, _ := e.tracker.Get(1)
	assert.Equal(t, SectionDisarmed, st)
	assert.Equal(t, StateDisarmed, e.State())
	assert.Equal(t, uint64(1), e.Stats().Overflows)
}

func TestEngine_RepeatedSensorStateNotifiesOnce(t *testing.T) {
	e := newTestEngine(t, newFakePanel(), Options{})
	var events []sensorEvent
	e.Sensors().AttachAll(SensorObserverFunc(func(s *Sensor, active bool) {
		events = append(events, sensorEvent{s.ID(), active})
	}))

	e.feed([]byte("PRFSTATE 01\r\n"))
	e.feed([]byte("PRFSTATE 01\r\n"))

	assert.Equal(t, []sensorEvent{{0, true}}, events)
	assert.Equal(t, []int{0}, e.ActiveSensors())
}

func TestEngine_SettleWindowReconcilesOnce(t *testing.T) {
	panel := newFakePanel()
	e, _ := startEngine(t, panel, Options{})
	rec := &stateRecorder{}
	e.Attach(rec)

	// initial STATE response settles first
	require.Eventually(t, func() bool { return e.Stats().Reconciliations >= 1 }, 2*time.Second, 5*time.Millisecond)
	base := e.Stats().Reconciliations

	panel.emit(t, "STATE 1 ARMED\r\nSTATE 2 ARMED\r\nSTATE 3 READY\r\n")

	require.Eventually(t, func() bool { return e.State() == StateAway }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, base+1, e.Stats().Reconciliations)
	assert.Equal(t, []string{StateAway}, rec.States())
}
