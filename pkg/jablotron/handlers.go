// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jablotron

import (
	"strconv"
	"strings"
)

// onAck handles OK and the empty STATE: keepalive.
func (e *Engine) onAck(args ...string) {}

// JA-121T, SN:1210037d, SWV:NN60202, HWV:1
func (e *Engine) onVersion(args ...string) {
	e.identity = Identity{
		Model:    args[0],
		Serial:   args[1],
		Firmware: args[2],
		Hardware: args[3],
	}
	e.log.Info().
		Str("model", e.identity.Model).
		Str("serial", e.identity.Serial).
		Str("firmware", e.identity.Firmware).
		Str("hardware", e.identity.Hardware).
		Msg("Panel interface identified")
}

func (e *Engine) onState(args ...string) {
	section, err := strconv.Atoi(args[0])
	if err != nil {
		e.log.Warn().Str("section", args[0]).Msg("Section number out of range")
		return
	}
	report := args[1]
	e.log.Info().Int("section", section).Str("state", report).Msg("Section reported state")

	var state SectionState
	switch report {
	case wireReady:
		state = SectionDisarmed
	case wireArmed:
		state = SectionArmed
	case wireArmedPart:
		state = SectionPartiallyArmed
	case wireService:
		state = SectionService
	case wireBlocked:
		state = SectionBlocked
	case wireOff:
		if e.opts.OffPolicy != OffDisarmed {
			// section not used in this installation
			return
		}
		state = SectionDisarmed
	default:
		return
	}

	if !state.matchable() {
		e.log.Warn().Int("section", section).Str("state", state.String()).Msg("Section unavailable")
	}
	e.tracker.Set(section, state)
	e.scheduleReconcile()
}

func (e *Engine) onSectionFlag(args ...string) {
	flag := args[0]
	section, err := strconv.Atoi(args[1])
	if err != nil {
		e.log.Warn().Str("section", args[1]).Msg("Section number out of range")
		return
	}
	on := args[2] == wireOn

	key := ActiveFlag{Section: section, Flag: flag}
	if on {
		e.flags[key] = true
	} else {
		delete(e.flags, key)
	}
	e.log.Info().Str("flag", flag).Int("section", section).Bool("on", on).Msg("Section flag")

	for _, obs := range e.snapshotObservers() {
		if o, ok := obs.(FlagObserver); ok {
			o.SectionFlagChanged(flag, section, on)
		}
	}

	if !isAlarmFlag(flag) {
		return
	}
	if on {
		e.log.Warn().Str("flag", flag).Int("section", section).Msg("Alarm triggered")
		e.setCurrent(StateTriggered, true)
		return
	}
	e.reconcile()
}

func (e *Engine) onSensorState(args ...string) {
	next, err := DecodeSensorBitmask(args[0], e.sensors)
	if err != nil {
		e.log.Warn().Err(err).Msg("Ignoring sensor state")
		e.count(func(s *Statistics) { s.InvalidBitmasks++ })
		return
	}

	prev := e.active.Swap(next)

	deactivated, activated := diffSensors(prev, next)
	for _, s := range deactivated {
		e.log.Info().Int("sensor", s.ID()).Str("name", s.Name()).Msg("Sensor deactivated")
		s.SetValue(false)
	}
	for _, s := range activated {
		e.log.Info().Int("sensor", s.ID()).Str("name", s.Name()).Msg("Sensor activated")
		s.SetValue(true)
	}
	if n := len(deactivated) + len(activated); n > 0 {
		e.count(func(s *Statistics) { s.SensorChanges += uint64(n) })
	}
}

func isAlarmFlag(flag string) bool {
	return strings.HasSuffix(flag, "_ALARM")
}

func (e *Engine) alarmActive() bool {
	for f := range e.flags {
		if isAlarmFlag(f.Flag) {
			return true
		}
	}
	return false
}

// scheduleReconcile arms the settle timer unless one is already pending.
func (e *Engine) scheduleReconcile() {
	if e.pending {
		return
	}
	e.pending = true
	e.settle = e.after(e.opts.SettleDelay)
}

// reconcile picks the first catalog entry matching the tracked sections.
// While an alarm flag is still ON the overall state stays triggered.
func (e *Engine) reconcile() {
	e.pending = false
	e.settle = nil
	e.count(func(s *Statistics) { s.Reconciliations++ })

	if e.current == StateTriggered && e.alarmActive() {
		e.log.Debug().Msg("Alarm still active, keeping triggered state")
		return
	}

	observed := e.tracker.Observed()
	match := e.catalog.Match(observed)
	if match == nil {
		e.count(func(s *Statistics) { s.UnmatchedStates++ })
		e.log.Warn().Interface("sections", e.tracker.Snapshot()).Msg("Unrecognized alarm sections state")
		return
	}
	if match.Name != e.current {
		e.setCurrent(match.Name, false)
	}
}

func (e *Engine) setCurrent(state string, force bool) {
	if state == e.current && !force {
		return
	}
	e.current = state
	e.count(func(s *Statistics) { s.StateChanges++ })
	e.log.Info().Str("state", state).Msg("Alarm state changed")
	e.publish()
	for _, obs := range e.snapshotObservers() {
		if o, ok := obs.(StateObserver); ok {
			o.AlarmStateChanged(state)
		}
	}
}
