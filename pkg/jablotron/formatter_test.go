// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jablotron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDescribeTelegram(t *testing.T) {
	tests := []struct {
		line     string
		expected string
	}{
		{"OK", "OK"},
		{"JA-121T, SN:1210037d, SWV:NN60202, HWV:1", "model=JA-121T serial=1210037d firmware=NN60202 hardware=1"},
		{"STATE 2 READY", "section 2: DISARMED"},
		{"STATE 1 ARMED_PART", "section 1: PARTIALLY_ARMED"},
		{"STATE 4 BLOCKED", "section 4: BLOCKED"},
		{"FIRE_ALARM 3 ON", "section 3: FIRE_ALARM ON"},
		{"PRFSTATE 0180", "active sensors: 0, 15"},
		{"PRFSTATE 0000", "active sensors: none"},
		{"PRFSTATE ABC", `invalid bitmask "ABC"`},
		{"bogus", `"bogus"`},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.expected, DescribeTelegram(tt.line))
		})
	}
}

func TestFormatTelegram(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 30, 45, 123_000_000, time.UTC)

	assert.Equal(t, "[12:30:45.123] STATE    section 1: ARMED\n", FormatTelegram(ts, "STATE 1 ARMED"))
	assert.Equal(t, "[12:30:45.123] UNRECOGNIZED \"??\"\n", FormatTelegram(ts, "??"))
}
