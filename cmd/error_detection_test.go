// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"testing"

	"github.com/Thermoquad/jablobridge/pkg/jablotron"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramAnalyzer_SkipsUntilSynchronized(t *testing.T) {
	a := newTelegramAnalyzer(0)

	lines, synced := a.Feed([]byte("ATE 1 RE\r\nNOISE\r\n"))
	assert.Empty(t, lines)
	assert.False(t, synced)
	assert.Equal(t, 2, a.skipped)

	lines, synced = a.Feed([]byte("STATE 1 ARMED\r\nGARBAGE\r\n"))
	assert.True(t, synced)
	require.Len(t, lines, 2)
	assert.Equal(t, jablotron.RouteState, lines[0].route)
	assert.Equal(t, jablotron.DispatchHandled, lines[0].result)
	assert.Empty(t, lines[0].anomalies)
	assert.Equal(t, jablotron.DispatchUnrecognized, lines[1].result)
	require.Len(t, lines[1].anomalies, 1)
	assert.Equal(t, jablotron.AnomalyUnrecognized, lines[1].anomalies[0].Type)

	assert.Equal(t, uint64(2), a.stats.TotalTelegrams)
	assert.Equal(t, uint64(1), a.stats.Unrecognized)
}

func TestTelegramAnalyzer_PanelStatus(t *testing.T) {
	a := newTelegramAnalyzer(0)

	a.Feed([]byte("JA-121T, SN:1210037d, SWV:NN60202, HWV:1\r\n" +
		"STATE 2 READY\r\nSTATE 1 ARMED_PART\r\n" +
		"ENTRY 1 ON\r\nFIRE_ALARM 2 ON\r\nENTRY 1 OFF\r\n" +
		"PRFSTATE 0380\r\nPRFSTATE 03X\r\n"))

	st := a.status
	assert.Equal(t, "JA-121T", st.identity.Model)
	assert.Equal(t, []int{1, 2}, st.Sections())
	assert.Equal(t, "ARMED_PART", st.sections[1])
	assert.Equal(t, []string{"FIRE_ALARM 2"}, st.Flags())
	assert.Equal(t, "active sensors: 0, 1, 15", st.sensors)
	assert.Equal(t, uint64(1), a.stats.InvalidBitmasks)
}

func TestTelegramAnalyzer_Overflow(t *testing.T) {
	a := newTelegramAnalyzer(8)

	a.Feed([]byte("OK\r\n0123456789ABCDEF"))
	assert.NotZero(t, a.stats.Overflows)
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		ms       uint64
		expected string
	}{
		{0, "0 seconds"},
		{1000, "1 second"},
		{61000, "1 minute and 1 second"},
		{3600000, "1 hour"},
		{90061000, "1 day, 1 hour, 1 minute, and 1 second"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatUptime(tt.ms))
		})
	}
}
