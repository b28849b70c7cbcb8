// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jablotron

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineFramer_SplitAcrossChunks(t *testing.T) {
	f := NewLineFramer(0)

	first := f.Feed([]byte("STATE 1 RE"))
	assert.Empty(t, first)
	assert.Equal(t, "STATE 1 RE", f.Pending())

	second := f.Feed([]byte("ADY\r\nOK\r\n"))
	assert.Equal(t, []string{"STATE 1 READY", "OK"}, second)
	assert.Empty(t, f.Pending())
}

func TestLineFramer_SplitInsideSeparator(t *testing.T) {
	f := NewLineFramer(0)

	lines := f.Feed([]byte("OK\r"))
	lines = append(lines, f.Feed([]byte("\nSTATE 2 ARMED\r\n"))...)

	assert.Equal(t, []string{"OK", "STATE 2 ARMED"}, lines)
}

func TestLineFramer_Separators(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected []string
		pending  string
	}{
		{"lf only", []byte("OK\n"), []string{"OK"}, ""},
		{"cr only", []byte("OK\r"), []string{"OK"}, ""},
		{"mixed run", []byte("OK\r\r\n\nSTATE:\n"), []string{"OK", "STATE:"}, ""},
		{"invalid bytes", []byte{'O', 'K', 0xFF, 0xFE, 'S', 'T', 'A', 'T', 'E', ':', 0x80}, []string{"OK", "STATE:"}, ""},
		{"invalid and crlf", []byte{'O', 'K', '\r', 0xFF, '\n', 'X'}, []string{"OK"}, "X"},
		{"leading separator", []byte("\r\nOK\r\n"), []string{"", "OK"}, ""},
		{"unterminated", []byte("PRFSTATE 00"), nil, "PRFSTATE 00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewLineFramer(0)
			assert.Equal(t, tt.expected, f.Feed(tt.input))
			assert.Equal(t, tt.pending, f.Pending())
		})
	}
}

func TestLineFramer_ByteAtATime(t *testing.T) {
	f := NewLineFramer(0)
	var lines []string
	for _, b := range []byte("STATE 1 READY\r\nOK\r\n") {
		lines = append(lines, f.Feed([]byte{b})...)
	}
	assert.Equal(t, []string{"STATE 1 READY", "OK"}, lines)
}

func TestLineFramer_OverflowDropsWholeLine(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"ack tail", strings.Repeat("A", 20) + "OK\r\n"},
		{"state tail", "#garbage-garbage" + "STATE 1 ARMED\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewLineFramer(16)
			assert.Empty(t, f.Feed([]byte(tt.input)))
			assert.Equal(t, uint64(1), f.Overflows())
			assert.Empty(t, f.Pending())

			assert.Equal(t, []string{"OK"}, f.Feed([]byte("OK\r\n")))
		})
	}
}

func TestLineFramer_OverflowAcrossChunks(t *testing.T) {
	f := NewLineFramer(8)

	assert.Empty(t, f.Feed([]byte(strings.Repeat("A", 20))))
	assert.Empty(t, f.Feed([]byte("STATE 1 ARMED")))
	assert.Equal(t, uint64(1), f.Overflows())
	assert.Empty(t, f.Pending())

	assert.Empty(t, f.Feed([]byte("\r\n")))
	assert.Equal(t, []string{"OK"}, f.Feed([]byte("OK\n")))
}

func TestLineFramer_ExactLimitIsKept(t *testing.T) {
	f := NewLineFramer(8)
	assert.Equal(t, []string{"12345678"}, f.Feed([]byte("12345678\r\n")))
	assert.Zero(t, f.Overflows())
}
