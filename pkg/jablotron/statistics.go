// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jablotron

import (
	"fmt"
	"time"
)

// Statistics tracks telegram counters and rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalTelegrams  uint64
	Handled         uint64
	Unrecognized    uint64
	EmptyLines      uint64
	Overflows       uint64
	InvalidBitmasks uint64
	Reconciliations uint64
	UnmatchedStates uint64
	StateChanges    uint64
	SensorChanges   uint64
	CommandsSent    uint64
	CommandTimeouts uint64

	// Rates (calculated)
	TelegramRate float64 // telegrams/sec
	ErrorRate    float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records one framed line and how it was dispatched
func (s *Statistics) Update(result DispatchResult) {
	switch result {
	case DispatchIgnored:
		s.EmptyLines++
		return
	case DispatchHandled:
		s.Handled++
	case DispatchUnrecognized:
		s.Unrecognized++
	}
	s.TotalTelegrams++
	s.LastUpdateTime = time.Now()
}

// Errors returns the number of anomalies seen
func (s *Statistics) Errors() uint64 {
	return s.Unrecognized + s.Overflows + s.InvalidBitmasks + s.UnmatchedStates + s.CommandTimeouts
}

// CalculateRates calculates telegram and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.TelegramRate = float64(s.TotalTelegrams) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var handledPercent, unrecognizedPercent float64
	if s.TotalTelegrams > 0 {
		handledPercent = float64(s.Handled) * 100.0 / float64(s.TotalTelegrams)
		unrecognizedPercent = float64(s.Unrecognized) * 100.0 / float64(s.TotalTelegrams)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Telegrams: %8d\n", s.TotalTelegrams)
	result += fmt.Sprintf("Handled:         %8d (%.1f%%)\n", s.Handled, handledPercent)

	if s.Unrecognized > 0 {
		result += fmt.Sprintf("Unrecognized:    %8d (%.1f%%)\n", s.Unrecognized, unrecognizedPercent)
	}
	if s.Overflows > 0 {
		result += fmt.Sprintf("Line Overflows:  %8d\n", s.Overflows)
	}
	if s.InvalidBitmasks > 0 {
		result += fmt.Sprintf("Bad Bitmasks:    %8d\n", s.InvalidBitmasks)
	}
	if s.UnmatchedStates > 0 {
		result += fmt.Sprintf("Unmatched:       %8d\n", s.UnmatchedStates)
	}
	if s.CommandsSent > 0 {
		result += fmt.Sprintf("Commands Sent:   %8d\n", s.CommandsSent)
		if s.CommandTimeouts > 0 {
			result += fmt.Sprintf("  Timed Out:      %5d\n", s.CommandTimeouts)
		}
	}
	result += fmt.Sprintf("Reconciliations: %8d\n", s.Reconciliations)
	result += fmt.Sprintf("State Changes:   %8d\n", s.StateChanges)
	result += fmt.Sprintf("Sensor Changes:  %8d\n", s.SensorChanges)

	result += fmt.Sprintf("Telegram Rate:   %8.1f tlg/sec\n", s.TelegramRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
