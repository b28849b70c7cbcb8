// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Jablobridge - Jablotron JA-121T RS-485 bridge
//
// A CLI tool for monitoring and controlling a Jablotron JA-100 alarm panel
// over its RS-485 interface, and for bridging it to MQTT.

package main

import (
	"os"

	"github.com/Thermoquad/jablobridge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
