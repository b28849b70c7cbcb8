// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jablotron

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()
	s.Update(DispatchHandled)
	s.Update(DispatchHandled)
	s.Update(DispatchUnrecognized)
	s.Update(DispatchIgnored)

	assert.Equal(t, uint64(3), s.TotalTelegrams)
	assert.Equal(t, uint64(2), s.Handled)
	assert.Equal(t, uint64(1), s.Unrecognized)
	assert.Equal(t, uint64(1), s.EmptyLines)
}

func TestStatistics_Errors(t *testing.T) {
	s := NewStatistics()
	s.Unrecognized = 1
	s.Overflows = 2
	s.InvalidBitmasks = 3
	s.UnmatchedStates = 4
	s.CommandTimeouts = 5
	assert.Equal(t, uint64(15), s.Errors())
}

func TestStatistics_String(t *testing.T) {
	s := NewStatistics()
	s.Update(DispatchHandled)
	s.CommandsSent = 3
	s.CommandTimeouts = 1

	out := s.String()
	assert.Contains(t, out, "Total Telegrams:        1")
	assert.Contains(t, out, "Commands Sent:          3")
	assert.Contains(t, out, "Timed Out:")
	assert.NotContains(t, out, "Unrecognized:")
}

func TestStatistics_Reset(t *testing.T) {
	s := NewStatistics()
	s.Update(DispatchHandled)
	s.Reset()
	assert.Zero(t, s.TotalTelegrams)
	assert.False(t, s.StartTime.IsZero())
}
