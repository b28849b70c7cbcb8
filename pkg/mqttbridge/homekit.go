// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mqttbridge

import "github.com/Thermoquad/jablobridge/pkg/jablotron"

// HomeKit SecuritySystemCurrentState values
const (
	HomeKitStayArm   = 0
	HomeKitAwayArm   = 1
	HomeKitNightArm  = 2
	HomeKitDisarmed  = 3
	HomeKitTriggered = 4
)

var toHomeKit = map[string]int{
	jablotron.StateHome:      HomeKitStayArm,
	jablotron.StateAway:      HomeKitAwayArm,
	jablotron.StateNight:     HomeKitNightArm,
	jablotron.StateDisarmed:  HomeKitDisarmed,
	jablotron.StateTriggered: HomeKitTriggered,
}

// HomeKitState maps an alarm state name to its HomeKit current value.
// Custom states are reported as away.
func HomeKitState(name string) int {
	if v, ok := toHomeKit[name]; ok {
		return v
	}
	return HomeKitAwayArm
}

// HomeKitTarget maps an alarm state name to its HomeKit target value. The
// target is left alone while triggered.
func HomeKitTarget(name string) (int, bool) {
	if name == jablotron.StateTriggered {
		return 0, false
	}
	return HomeKitState(name), true
}

// StateFromHomeKit maps a HomeKit target value (0..3) to a state name.
func StateFromHomeKit(v int) (string, bool) {
	switch v {
	case HomeKitStayArm:
		return jablotron.StateHome, true
	case HomeKitAwayArm:
		return jablotron.StateAway, true
	case HomeKitNightArm:
		return jablotron.StateNight, true
	case HomeKitDisarmed:
		return jablotron.StateDisarmed, true
	default:
		return "", false
	}
}
