// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package jablotron implements the JA-121T RS-485 line protocol spoken by
// Jablotron JA-100 alarm control panels.
//
// The package frames the serial byte stream into telegrams, dispatches each
// telegram to its response handler, keeps one command in flight at a time,
// aggregates per-section arming reports into an overall alarm state and
// decodes the PRFSTATE sensor bitmask.
package jablotron

import "time"

// Outbound commands
const (
	CmdVersion     = "VER"
	CmdSensorState = "PRFSTATE"
	CmdState       = "STATE"
	CmdUnset       = "UNSET"
	CmdSet         = "SET"
	CmdSetPartial  = "SETP"
)

// Wire keywords reported by the panel
const (
	wireReady     = "READY"
	wireArmed     = "ARMED"
	wireArmedPart = "ARMED_PART"
	wireService   = "SERVICE"
	wireBlocked   = "BLOCKED"
	wireOff       = "OFF"
	wireOn        = "ON"
)

// Section flags reported as "<FLAG> <section> <ON|OFF>"
const (
	FlagInternalWarning = "INTERNAL_WARNING"
	FlagExternalWarning = "EXTERNAL_WARNING"
	FlagFireAlarm       = "FIRE_ALARM"
	FlagIntruderAlarm   = "INTRUDER_ALARM"
	FlagPanicAlarm      = "PANIC_ALARM"
	FlagEntry           = "ENTRY"
	FlagExit            = "EXIT"
)

// Built-in overall alarm states
const (
	StateDisarmed  = "disarmed"
	StateHome      = "home"
	StateNight     = "night"
	StateAway      = "away"
	StateTriggered = "triggered"
)

// Engine defaults
const (
	DefaultSettleDelay    = 500 * time.Millisecond
	DefaultCommandTimeout = 5 * time.Second
	DefaultMaxLineLength  = 1024
)

// OffPolicy controls how a section reported as OFF is treated.
type OffPolicy string

const (
	// OffIgnore drops OFF reports; the section keeps its last state.
	OffIgnore OffPolicy = "ignore"
	// OffDisarmed treats OFF like READY.
	OffDisarmed OffPolicy = "disarmed"
)
